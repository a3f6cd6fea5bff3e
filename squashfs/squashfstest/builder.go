// Package squashfstest writes small SquashFS images for tests. It supports
// directories, regular files, symlinks and hard links, with optional zlib
// compression, fragments, sparse blocks and extended inodes.
package squashfstest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math/bits"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
)

const (
	magic             = 0x73717368
	metadataBlockSize = 8192
	invalidTable      = 0xFFFFFFFFFFFFFFFF
	noFragment        = 0xFFFFFFFF
	noXattr           = 0xFFFFFFFF

	compressionGZIP = 1

	dataUncompressed     = 1 << 24
	metadataUncompressed = 0x8000

	typeDir      = 1
	typeFile     = 2
	typeSymlink  = 3
	typeExtDir   = 8
	typeExtFile  = 9
	extendedStep = 7

	// a second directory entry for another node's inode
	kindHardlink = -1

	flagUncompressedInodes    = 0x0001
	flagUncompressedData      = 0x0002
	flagUncompressedFragments = 0x0008
	flagNoFragments           = 0x0010
	flagNoXattrs              = 0x0200
	flagUncompressedIDs       = 0x0800
)

// Builder accumulates a directory tree and serializes it as an image.
type Builder struct {
	// BlockSize is the data block size, a power of two between 4 KiB and 1 MiB.
	BlockSize uint32
	// CompressData stores data and fragment blocks zlib compressed when
	// that makes them smaller.
	CompressData bool
	// CompressMetadata does the same for inode, directory and lookup tables.
	CompressMetadata bool
	// Fragments packs file tails shorter than a block into shared blocks.
	Fragments bool
	// Extended writes extended directory and file inodes.
	Extended bool
	// ModTime is the default modification time of every node.
	ModTime time.Time

	root *node
	err  error
}

// Option customizes one node.
type Option func(*node)

// Owner sets the uid and gid of a node.
func Owner(uid, gid uint32) Option {
	return func(n *node) { n.uid, n.gid = uid, gid }
}

// Perm sets the permission bits of a node.
func Perm(perm fs.FileMode) Option {
	return func(n *node) { n.perm = uint16(perm.Perm()) }
}

// ModTime sets the modification time of a node.
func ModTime(t time.Time) Option {
	return func(n *node) { n.mtime = t; n.mtimeSet = true }
}

type node struct {
	name     string
	kind     int
	data     []byte
	target   string
	children map[string]*node
	perm     uint16
	uid, gid uint32
	mtime    time.Time
	mtimeSet bool
	link     *node
	links    uint32

	// filled while writing
	written        bool
	number         uint32
	ref            uint64
	blocksStart    uint64
	blockSizes     []uint32
	sparseBytes    uint64
	fragment       uint32
	fragmentOffset uint32
}

// New returns a builder with 4 KiB blocks and fragments enabled.
func New() *Builder {
	return &Builder{
		BlockSize: 4096,
		Fragments: true,
		ModTime:   time.Unix(1700000000, 0),
		root:      &node{kind: typeDir, perm: 0o755, children: map[string]*node{}},
	}
}

// Dir adds a directory, creating missing parents.
func (b *Builder) Dir(name string, opts ...Option) *Builder {
	b.add(name, &node{kind: typeDir, perm: 0o755, children: map[string]*node{}}, opts)
	return b
}

// File adds a regular file, creating missing parents.
func (b *Builder) File(name string, data []byte, opts ...Option) *Builder {
	b.add(name, &node{kind: typeFile, perm: 0o644, data: data}, opts)
	return b
}

// Symlink adds a symbolic link, creating missing parents.
func (b *Builder) Symlink(name, target string) *Builder {
	b.add(name, &node{kind: typeSymlink, perm: 0o777, target: target}, nil)
	return b
}

// Hardlink adds name as another directory entry for the file or symlink
// at target. Both entries share one inode, which is counted once.
func (b *Builder) Hardlink(name, target string) *Builder {
	if b.err != nil {
		return b
	}
	t := b.lookup(target)
	if t == nil || t.kind == typeDir || t.kind == kindHardlink {
		b.err = fmt.Errorf("squashfstest: cannot hard link to %q", target)
		return b
	}
	t.links++
	b.add(name, &node{kind: kindHardlink, link: t}, nil)
	return b
}

func (b *Builder) lookup(name string) *node {
	n := b.root
	for _, p := range strings.Split(strings.Trim(name, "/"), "/") {
		if n = n.children[p]; n == nil {
			return nil
		}
	}
	return n
}

func (b *Builder) add(name string, n *node, opts []Option) {
	if b.err != nil {
		return
	}
	parts := strings.Split(strings.Trim(name, "/"), "/")
	dir := b.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := dir.children[p]
		if !ok {
			next = &node{name: p, kind: typeDir, perm: 0o755, children: map[string]*node{}}
			dir.children[p] = next
		}
		if next.kind != typeDir {
			b.err = fmt.Errorf("squashfstest: %q is not a directory", p)
			return
		}
		dir = next
	}

	n.name = parts[len(parts)-1]
	if n.name == "" {
		b.err = errors.New("squashfstest: empty name")
		return
	}
	for _, opt := range opts {
		opt(n)
	}
	if existing, ok := dir.children[n.name]; ok {
		if existing.kind == typeDir && n.kind == typeDir {
			for _, opt := range opts {
				opt(existing)
			}
			return
		}
		b.err = fmt.Errorf("squashfstest: duplicate entry %q", name)
		return
	}
	dir.children[n.name] = n
}

// WriteFile serializes the image to path.
func (b *Builder) WriteFile(path string) error {
	img, err := b.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, img, 0o644)
}

// Bytes serializes the image.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.BlockSize < 4096 || b.BlockSize > 1<<20 || bits.OnesCount32(b.BlockSize) != 1 {
		return nil, fmt.Errorf("squashfstest: invalid block size %d", b.BlockSize)
	}

	w := &imageWriter{b: b, ids: map[uint32]uint16{}}
	w.out.Write(make([]byte, 96))

	count := w.number(b.root)
	if err := w.writeData(b.root); err != nil {
		return nil, err
	}
	if err := w.flushFragment(); err != nil {
		return nil, err
	}

	w.inodes = newMetaWriter(b.CompressMetadata)
	w.dirs = newMetaWriter(b.CompressMetadata)
	if err := w.writeTree(b.root, count+1); err != nil {
		return nil, err
	}

	var sb superblock
	sb.InodeTableStart = uint64(w.out.Len())
	w.inodes.flush()
	w.out.Write(w.inodes.out.Bytes())

	sb.DirectoryTableStart = uint64(w.out.Len())
	w.dirs.flush()
	w.out.Write(w.dirs.out.Bytes())

	sb.FragmentTableStart = invalidTable
	if len(w.fragments) > 0 {
		sb.FragmentTableStart = w.writeLookupTable(w.fragments)
	}

	idBytes := make([]byte, 4*len(w.idList))
	for i, id := range w.idList {
		binary.LittleEndian.PutUint32(idBytes[i*4:], id)
	}
	sb.IDTableStart = w.writeLookupTable(idBytes)

	sb.Magic = magic
	sb.InodeCount = count
	sb.ModTime = uint32(b.ModTime.Unix())
	sb.BlockSize = b.BlockSize
	sb.FragmentCount = uint32(len(w.fragments) / 16)
	sb.Compression = compressionGZIP
	sb.BlockLog = uint16(bits.TrailingZeros32(b.BlockSize))
	sb.Flags = flagNoXattrs
	if !b.CompressData {
		sb.Flags |= flagUncompressedData | flagUncompressedFragments
	}
	if !b.CompressMetadata {
		sb.Flags |= flagUncompressedInodes | flagUncompressedIDs
	}
	if !b.Fragments {
		sb.Flags |= flagNoFragments
	}
	sb.IDCount = uint16(len(w.idList))
	sb.VersionMajor = 4
	sb.RootInode = b.root.ref
	sb.BytesUsed = uint64(w.out.Len())
	sb.XattrTableStart = invalidTable
	sb.ExportTableStart = invalidTable

	img := w.out.Bytes()
	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.LittleEndian, &sb); err != nil {
		return nil, err
	}
	copy(img, hdr.Bytes())
	return img, nil
}

type superblock struct {
	Magic               uint32
	InodeCount          uint32
	ModTime             uint32
	BlockSize           uint32
	FragmentCount       uint32
	Compression         uint16
	BlockLog            uint16
	Flags               uint16
	IDCount             uint16
	VersionMajor        uint16
	VersionMinor        uint16
	RootInode           uint64
	BytesUsed           uint64
	IDTableStart        uint64
	XattrTableStart     uint64
	InodeTableStart     uint64
	DirectoryTableStart uint64
	FragmentTableStart  uint64
	ExportTableStart    uint64
}

type imageWriter struct {
	b   *Builder
	out bytes.Buffer

	fragBuf   []byte
	fragments []byte // serialized 16 byte fragment entries

	inodes *metaWriter
	dirs   *metaWriter

	ids    map[uint32]uint16
	idList []uint32
}

func sortedChildren(n *node) []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// number assigns inode numbers in post-order so the root gets the highest.
// Hard links get none of their own.
func (w *imageWriter) number(n *node) uint32 {
	var next uint32
	var visit func(*node)
	visit = func(n *node) {
		if n.kind == kindHardlink {
			return
		}
		for _, c := range sortedChildren(n) {
			visit(c)
		}
		next++
		n.number = next
	}
	visit(n)
	return next
}

func (w *imageWriter) writeData(n *node) error {
	if n.kind == typeDir {
		for _, c := range sortedChildren(n) {
			if err := w.writeData(c); err != nil {
				return err
			}
		}
		return nil
	}
	if n.kind != typeFile {
		return nil
	}

	bs := int(w.b.BlockSize)
	n.fragment = noFragment
	n.blocksStart = uint64(w.out.Len())
	data := n.data
	for len(data) > 0 {
		if len(data) < bs && w.b.Fragments {
			if err := w.addFragment(n, data); err != nil {
				return err
			}
			break
		}
		chunk := data
		if len(chunk) > bs {
			chunk = chunk[:bs]
		}
		data = data[len(chunk):]

		if isZero(chunk) {
			n.blockSizes = append(n.blockSizes, 0)
			n.sparseBytes += uint64(len(chunk))
			continue
		}
		size, err := w.writeBlock(chunk)
		if err != nil {
			return err
		}
		n.blockSizes = append(n.blockSizes, size)
	}
	return nil
}

func isZero(p []byte) bool {
	for _, c := range p {
		if c != 0 {
			return false
		}
	}
	return true
}

// writeBlock appends a data block and returns its on-disk size word.
func (w *imageWriter) writeBlock(p []byte) (uint32, error) {
	if w.b.CompressData {
		c, err := compress(p)
		if err != nil {
			return 0, err
		}
		if len(c) < len(p) {
			w.out.Write(c)
			return uint32(len(c)), nil
		}
	}
	w.out.Write(p)
	return uint32(len(p)) | dataUncompressed, nil
}

func (w *imageWriter) addFragment(n *node, tail []byte) error {
	if len(w.fragBuf)+len(tail) > int(w.b.BlockSize) {
		if err := w.flushFragment(); err != nil {
			return err
		}
	}
	n.fragment = uint32(len(w.fragments) / 16)
	n.fragmentOffset = uint32(len(w.fragBuf))
	w.fragBuf = append(w.fragBuf, tail...)
	return nil
}

func (w *imageWriter) flushFragment() error {
	if len(w.fragBuf) == 0 {
		return nil
	}
	start := uint64(w.out.Len())
	size, err := w.writeBlock(w.fragBuf)
	if err != nil {
		return err
	}
	var e [16]byte
	binary.LittleEndian.PutUint64(e[:], start)
	binary.LittleEndian.PutUint32(e[8:], size)
	w.fragments = append(w.fragments, e[:]...)
	w.fragBuf = w.fragBuf[:0]
	return nil
}

func (w *imageWriter) id(v uint32) uint16 {
	if i, ok := w.ids[v]; ok {
		return i
	}
	i := uint16(len(w.idList))
	w.ids[v] = i
	w.idList = append(w.idList, v)
	return i
}

// writeTree writes inodes and directory listings in post-order so every
// reference points at something already written.
func (w *imageWriter) writeTree(n *node, parent uint32) error {
	if n.kind != typeDir {
		return w.writeInode(n, parent, 0, 0, 0)
	}

	children := sortedChildren(n)
	for _, c := range children {
		if c.kind == kindHardlink {
			c = c.link
		}
		if c.written {
			continue
		}
		if err := w.writeTree(c, n.number); err != nil {
			return err
		}
	}

	listing := w.dirs.ref()
	before := w.dirs.written
	for _, entry := range children {
		c := entry
		if c.kind == kindHardlink {
			c = c.link
		}
		var hdr [12]byte
		binary.LittleEndian.PutUint32(hdr[0:], 0)
		binary.LittleEndian.PutUint32(hdr[4:], uint32(c.ref>>16))
		binary.LittleEndian.PutUint32(hdr[8:], c.number)
		w.dirs.Write(hdr[:])

		var ent [8]byte
		binary.LittleEndian.PutUint16(ent[0:], uint16(c.ref&0xffff))
		binary.LittleEndian.PutUint16(ent[2:], 0)
		binary.LittleEndian.PutUint16(ent[4:], uint16(c.kind))
		binary.LittleEndian.PutUint16(ent[6:], uint16(len(entry.name)-1))
		w.dirs.Write(ent[:])
		w.dirs.Write([]byte(entry.name))
	}
	size := uint32(w.dirs.written-before) + 3
	return w.writeInode(n, parent, listing, size, len(children))
}

func (w *imageWriter) writeInode(n *node, parent uint32, listing uint64, listingSize uint32, nchildren int) error {
	mtime := w.b.ModTime
	if n.mtimeSet {
		mtime = n.mtime
	}

	kind := n.kind
	if w.b.Extended && (kind == typeDir || kind == typeFile) {
		kind += extendedStep
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&buf, le, struct {
		Type, Mode, UID, GID uint16
		ModTime, Number      uint32
	}{uint16(kind), n.perm, w.id(n.uid), w.id(n.gid), uint32(mtime.Unix()), n.number})

	nlink := uint32(2)
	for _, c := range n.children {
		if c.kind == typeDir {
			nlink++
		}
	}

	switch kind {
	case typeDir:
		if listingSize > 0xffff {
			return fmt.Errorf("squashfstest: directory %q too large for a basic inode", n.name)
		}
		binary.Write(&buf, le, struct {
			StartBlock, Nlink uint32
			FileSize, Offset  uint16
			Parent            uint32
		}{uint32(listing >> 16), nlink, uint16(listingSize), uint16(listing & 0xffff), parent})
	case typeExtDir:
		binary.Write(&buf, le, struct {
			Nlink, FileSize, StartBlock, Parent uint32
			IndexCount, Offset                  uint16
			Xattr                               uint32
		}{nlink, listingSize, uint32(listing >> 16), parent, 0, uint16(listing & 0xffff), noXattr})
	case typeFile:
		binary.Write(&buf, le, struct {
			BlocksStart, Fragment, FragmentOffset, FileSize uint32
		}{uint32(n.blocksStart), n.fragment, n.fragmentOffset, uint32(len(n.data))})
		writeSizes(&buf, n.blockSizes)
	case typeExtFile:
		binary.Write(&buf, le, struct {
			BlocksStart, FileSize, Sparse         uint64
			Nlink, Fragment, FragmentOffset, Xattr uint32
		}{n.blocksStart, uint64(len(n.data)), n.sparseBytes, 1 + n.links, n.fragment, n.fragmentOffset, noXattr})
		writeSizes(&buf, n.blockSizes)
	case typeSymlink:
		binary.Write(&buf, le, struct{ Nlink, Size uint32 }{1 + n.links, uint32(len(n.target))})
		buf.WriteString(n.target)
	}

	n.ref = w.inodes.ref()
	n.written = true
	w.inodes.Write(buf.Bytes())
	return nil
}

func writeSizes(buf *bytes.Buffer, sizes []uint32) {
	for _, s := range sizes {
		binary.Write(buf, binary.LittleEndian, s)
	}
}

// writeLookupTable writes data as metadata blocks followed by the u64
// index of their positions, and returns the index position.
func (w *imageWriter) writeLookupTable(data []byte) uint64 {
	mw := newMetaWriter(w.b.CompressMetadata)
	mw.Write(data)
	mw.flush()

	base := uint64(w.out.Len())
	w.out.Write(mw.out.Bytes())
	indexStart := uint64(w.out.Len())
	for _, s := range mw.starts {
		var pos [8]byte
		binary.LittleEndian.PutUint64(pos[:], base+s)
		w.out.Write(pos[:])
	}
	return indexStart
}

type metaWriter struct {
	compress bool
	out      bytes.Buffer
	cur      []byte
	starts   []uint64
	written  int
}

func newMetaWriter(compress bool) *metaWriter {
	return &metaWriter{compress: compress}
}

// ref addresses the next byte written: block start relative to the table
// in the upper bits, offset in the uncompressed block in the lower 16.
func (m *metaWriter) ref() uint64 {
	return uint64(m.out.Len())<<16 | uint64(len(m.cur))
}

func (m *metaWriter) Write(p []byte) {
	m.written += len(p)
	for len(p) > 0 {
		n := metadataBlockSize - len(m.cur)
		if n > len(p) {
			n = len(p)
		}
		m.cur = append(m.cur, p[:n]...)
		p = p[n:]
		if len(m.cur) == metadataBlockSize {
			m.flush()
		}
	}
}

func (m *metaWriter) flush() {
	if len(m.cur) == 0 {
		return
	}
	data := m.cur
	hdr := uint16(len(m.cur)) | metadataUncompressed
	if m.compress {
		if c, err := compress(m.cur); err == nil && len(c) < len(m.cur) {
			data = c
			hdr = uint16(len(c))
		}
	}
	m.starts = append(m.starts, uint64(m.out.Len()))
	binary.Write(&m.out, binary.LittleEndian, hdr)
	m.out.Write(data)
	m.cur = m.cur[:0]
}

func compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
