package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
)

// InodeType is the on-disk inode discriminator.
type InodeType uint16

const (
	DirType InodeType = iota + 1
	FileType
	SymlinkType
	BlockDevType
	CharDevType
	FifoType
	SocketType
	XDirType
	XFileType
	XSymlinkType
	XBlockDevType
	XCharDevType
	XFifoType
	XSocketType
)

// Basic returns the type as a basic type (ie. XDirType.Basic() == DirType)
func (t InodeType) Basic() InodeType {
	if t >= XDirType {
		return t - 7
	}
	return t
}

func (t InodeType) IsDir() bool {
	return t.Basic() == DirType
}

func (t InodeType) valid() bool {
	return t >= DirType && t <= XSocketType
}

// Mode returns a fs.FileMode for this type that contains no permissions, only the file's type
func (t InodeType) Mode() fs.FileMode {
	switch t.Basic() {
	case DirType:
		return fs.ModeDir
	case FileType:
		return 0
	case SymlinkType:
		return fs.ModeSymlink
	case BlockDevType:
		return fs.ModeDevice
	case CharDevType:
		return fs.ModeDevice | fs.ModeCharDevice
	case FifoType:
		return fs.ModeNamedPipe
	case SocketType:
		return fs.ModeSocket
	}
	return fs.ModeIrregular
}

const noFragment = 0xFFFFFFFF

// InodeHeader is common to every inode shape.
type InodeHeader struct {
	Type     InodeType
	Mode     uint16
	UIDIndex uint16
	GIDIndex uint16
	ModTime  uint32
	Number   uint32
}

// Inode is a decoded inode. Payload is one of DirInode, ExtDirInode,
// FileInode, ExtFileInode or OtherInode.
type Inode struct {
	InodeHeader
	Payload InodePayload
}

// InodePayload is the type-specific part of an inode.
type InodePayload interface {
	isPayload()
}

type DirInode struct {
	StartBlock  uint32
	Nlink       uint32
	FileSize    uint16
	Offset      uint16
	ParentInode uint32
}

type ExtDirInode struct {
	Nlink       uint32
	FileSize    uint32
	StartBlock  uint32
	ParentInode uint32
	IndexCount  uint16
	Offset      uint16
	Xattr       uint32
}

type FileInode struct {
	BlocksStart    uint32
	Fragment       uint32
	FragmentOffset uint32
	FileSize       uint32
	BlockSizes     []uint32
}

type ExtFileInode struct {
	BlocksStart    uint64
	FileSize       uint64
	Sparse         uint64
	Nlink          uint32
	Fragment       uint32
	FragmentOffset uint32
	Xattr          uint32
	BlockSizes     []uint32
}

// OtherInode stands for symlinks, devices, fifos and sockets. They are
// recognized but never extracted.
type OtherInode struct {
	Kind   InodeType
	Target string
}

func (DirInode) isPayload()     {}
func (ExtDirInode) isPayload()  {}
func (FileInode) isPayload()    {}
func (ExtFileInode) isPayload() {}
func (OtherInode) isPayload()   {}

// dirLocation returns where the directory listing of a dir inode lives
// and its on-disk size.
func (in Inode) dirLocation() (start uint32, offset uint16, size uint32, ok bool) {
	switch p := in.Payload.(type) {
	case DirInode:
		return p.StartBlock, p.Offset, uint32(p.FileSize), true
	case ExtDirInode:
		return p.StartBlock, p.Offset, p.FileSize, true
	}
	return 0, 0, 0, false
}

// fileLayout locates the content of a regular file.
type fileLayout struct {
	size           uint64
	fragment       uint32
	fragmentOffset uint32
	blockSizes     []uint32
	blockOffsets   []uint64 // absolute position of each block
}

func (in Inode) layout() (fileLayout, bool) {
	var fl fileLayout
	var start uint64
	switch p := in.Payload.(type) {
	case FileInode:
		start = uint64(p.BlocksStart)
		fl = fileLayout{
			size:           uint64(p.FileSize),
			fragment:       p.Fragment,
			fragmentOffset: p.FragmentOffset,
			blockSizes:     p.BlockSizes,
		}
	case ExtFileInode:
		start = p.BlocksStart
		fl = fileLayout{
			size:           p.FileSize,
			fragment:       p.Fragment,
			fragmentOffset: p.FragmentOffset,
			blockSizes:     p.BlockSizes,
		}
	default:
		return fileLayout{}, false
	}

	fl.blockOffsets = make([]uint64, len(fl.blockSizes))
	pos := start
	for i, bs := range fl.blockSizes {
		fl.blockOffsets[i] = pos
		pos += uint64(bs & dataSizeMask)
	}
	return fl, true
}

func (fl fileLayout) hasFragment() bool {
	return fl.fragment != noFragment
}

func blockCount(size uint64, fragment uint32, blockSize uint32) uint64 {
	if fragment == noFragment {
		return (size + uint64(blockSize) - 1) / uint64(blockSize)
	}
	return size / uint64(blockSize)
}

// maxBlocks bounds block lists read from untrusted images.
const maxBlocks = 1 << 24

func readInode(r io.Reader, blockSize uint32) (Inode, error) {
	var in Inode
	if err := binary.Read(r, binary.LittleEndian, &in.InodeHeader); err != nil {
		return in, fmt.Errorf("reading inode header: %w", err)
	}
	if !in.Type.valid() {
		return in, fmt.Errorf("squashfs: unknown inode type %d", in.Type)
	}

	var err error
	switch in.Type {
	case DirType:
		var p DirInode
		err = binary.Read(r, binary.LittleEndian, &p)
		in.Payload = p
	case XDirType:
		var p ExtDirInode
		err = binary.Read(r, binary.LittleEndian, &p)
		in.Payload = p
	case FileType:
		var fixed struct {
			BlocksStart    uint32
			Fragment       uint32
			FragmentOffset uint32
			FileSize       uint32
		}
		if err = binary.Read(r, binary.LittleEndian, &fixed); err != nil {
			break
		}
		p := FileInode{
			BlocksStart:    fixed.BlocksStart,
			Fragment:       fixed.Fragment,
			FragmentOffset: fixed.FragmentOffset,
			FileSize:       fixed.FileSize,
		}
		p.BlockSizes, err = readBlockSizes(r, blockCount(uint64(p.FileSize), p.Fragment, blockSize))
		in.Payload = p
	case XFileType:
		var fixed struct {
			BlocksStart    uint64
			FileSize       uint64
			Sparse         uint64
			Nlink          uint32
			Fragment       uint32
			FragmentOffset uint32
			Xattr          uint32
		}
		if err = binary.Read(r, binary.LittleEndian, &fixed); err != nil {
			break
		}
		p := ExtFileInode{
			BlocksStart:    fixed.BlocksStart,
			FileSize:       fixed.FileSize,
			Sparse:         fixed.Sparse,
			Nlink:          fixed.Nlink,
			Fragment:       fixed.Fragment,
			FragmentOffset: fixed.FragmentOffset,
			Xattr:          fixed.Xattr,
		}
		p.BlockSizes, err = readBlockSizes(r, blockCount(p.FileSize, p.Fragment, blockSize))
		in.Payload = p
	case SymlinkType, XSymlinkType:
		var fixed struct {
			Nlink uint32
			Size  uint32
		}
		if err = binary.Read(r, binary.LittleEndian, &fixed); err != nil {
			break
		}
		if fixed.Size > 4096 {
			err = fmt.Errorf("squashfs: symlink target too long (%d)", fixed.Size)
			break
		}
		target := make([]byte, fixed.Size)
		if _, err = io.ReadFull(r, target); err != nil {
			break
		}
		in.Payload = OtherInode{Kind: in.Type, Target: string(target)}
	default:
		// devices, fifos and sockets: nothing past the header matters
		in.Payload = OtherInode{Kind: in.Type}
	}
	if err != nil {
		return in, fmt.Errorf("reading %d inode %d: %w", in.Type, in.Number, err)
	}
	return in, nil
}

func readBlockSizes(r io.Reader, n uint64) ([]uint32, error) {
	if n > maxBlocks {
		return nil, fmt.Errorf("squashfs: implausible block count %d", n)
	}
	sizes := make([]uint32, n)
	if n == 0 {
		return sizes, nil
	}
	if err := binary.Read(r, binary.LittleEndian, sizes); err != nil {
		return nil, err
	}
	return sizes, nil
}
