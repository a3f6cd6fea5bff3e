package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	metadataUncompressed = 0x8000
	metadataSizeMask     = 0x7fff
)

type metablock struct {
	data []byte
	next uint64 // absolute position of the following block
}

// metadataReader decodes the chain of metadata blocks making up one
// table. Decoded blocks are cached by absolute position.
type metadataReader struct {
	r     io.ReaderAt
	comp  Compressor
	cache map[uint64]metablock
}

func newMetadataReader(r io.ReaderAt, comp Compressor) *metadataReader {
	return &metadataReader{
		r:     r,
		comp:  comp,
		cache: make(map[uint64]metablock),
	}
}

func (m *metadataReader) block(pos uint64) (metablock, error) {
	if b, ok := m.cache[pos]; ok {
		return b, nil
	}

	var hdr [2]byte
	if _, err := m.r.ReadAt(hdr[:], int64(pos)); err != nil {
		return metablock{}, fmt.Errorf("reading metadata header at %d: %w", pos, err)
	}
	h := binary.LittleEndian.Uint16(hdr[:])
	size := int(h & metadataSizeMask)
	if size == 0 || size > metadataBlockSize {
		return metablock{}, fmt.Errorf("squashfs: corrupt metadata block at %d (size %d)", pos, size)
	}

	raw := make([]byte, size)
	if _, err := m.r.ReadAt(raw, int64(pos)+2); err != nil {
		return metablock{}, fmt.Errorf("reading metadata block at %d: %w", pos, err)
	}

	data := raw
	if h&metadataUncompressed == 0 {
		var err error
		data, err = m.comp.Decompress(raw, metadataBlockSize)
		if err != nil {
			return metablock{}, fmt.Errorf("decompressing metadata block at %d: %w", pos, err)
		}
	}

	b := metablock{data: data, next: pos + 2 + uint64(size)}
	m.cache[pos] = b
	return b, nil
}

// cursor returns a reader positioned offset bytes into the decoded
// contents of the block at pos; reads continue across block boundaries.
func (m *metadataReader) cursor(pos uint64, offset int) *metadataCursor {
	return &metadataCursor{m: m, pos: pos, off: offset}
}

func (m *metadataReader) release() {
	m.cache = nil
}

type metadataCursor struct {
	m   *metadataReader
	pos uint64
	off int
}

func (c *metadataCursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		b, err := c.m.block(c.pos)
		if err != nil {
			return 0, err
		}
		if c.off < len(b.data) {
			n := copy(p, b.data[c.off:])
			c.off += n
			return n, nil
		}
		c.off -= len(b.data)
		c.pos = b.next
	}
}

// readLookupTable reads a table of nbytes stored as metadata blocks whose
// positions are listed as u64s at indexStart, as used by the id, fragment
// and export tables.
func readLookupTable(r io.ReaderAt, comp Compressor, indexStart uint64, nbytes int) ([]byte, error) {
	if nbytes == 0 {
		return nil, nil
	}
	nblocks := (nbytes + metadataBlockSize - 1) / metadataBlockSize

	index := make([]uint64, nblocks)
	err := binary.Read(io.NewSectionReader(r, int64(indexStart), int64(nblocks)*8), binary.LittleEndian, index)
	if err != nil {
		return nil, fmt.Errorf("reading lookup table index: %w", err)
	}

	mr := newMetadataReader(r, comp)
	out := make([]byte, 0, nbytes)
	for _, pos := range index {
		b, err := mr.block(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, b.data...)
	}
	if len(out) < nbytes {
		return nil, fmt.Errorf("squashfs: lookup table short: %d of %d bytes", len(out), nbytes)
	}
	return out[:nbytes], nil
}

func readIDTable(r io.ReaderAt, comp Compressor, sb *Superblock) ([]uint32, error) {
	if sb.IDCount == 0 {
		return nil, fmt.Errorf("squashfs: empty id table")
	}
	raw, err := readLookupTable(r, comp, sb.IDTableStart, int(sb.IDCount)*4)
	if err != nil {
		return nil, fmt.Errorf("reading id table: %w", err)
	}
	ids := make([]uint32, sb.IDCount)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return ids, nil
}
