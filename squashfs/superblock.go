package squashfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the little-endian "hsqs" signature at the start of every image.
const Magic uint32 = 0x73717368

const (
	superblockSize    = 96
	metadataBlockSize = 8192
	invalidTable      = 0xFFFFFFFFFFFFFFFF

	minBlockLog = 12
	maxBlockLog = 20
)

// ErrBadMagic is returned when the superblock does not start with Magic.
var ErrBadMagic = errors.New("squashfs: bad magic")

// Flags are the superblock feature bits.
type Flags uint16

const (
	FlagUncompressedInodes    Flags = 0x0001
	FlagUncompressedData      Flags = 0x0002
	FlagCheck                 Flags = 0x0004
	FlagUncompressedFragments Flags = 0x0008
	FlagNoFragments           Flags = 0x0010
	FlagAlwaysFragments       Flags = 0x0020
	FlagDuplicates            Flags = 0x0040
	FlagExportable            Flags = 0x0080
	FlagUncompressedXattrs    Flags = 0x0100
	FlagNoXattrs              Flags = 0x0200
	FlagCompressorOptions     Flags = 0x0400
	FlagUncompressedIDs       Flags = 0x0800
)

// Has reports whether every bit of o is set in f.
func (f Flags) Has(o Flags) bool { return f&o == o }

// Superblock is the fixed 96 byte header of a version 4 image. Every
// *TableStart field is an absolute byte offset into the image.
type Superblock struct {
	Magic               uint32
	InodeCount          uint32
	ModTime             uint32
	BlockSize           uint32
	FragmentCount       uint32
	Compression         CompressionID
	BlockLog            uint16
	Flags               Flags
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

// HasFragmentTable reports whether the image carries fragment blocks.
func (sb *Superblock) HasFragmentTable() bool {
	return sb.FragmentCount > 0 && sb.FragmentTableStart != invalidTable
}

// HasExportTable reports whether inodes can be looked up by number.
func (sb *Superblock) HasExportTable() bool {
	return sb.ExportTableStart != invalidTable
}

// HasXattrTable reports whether extended attributes are stored.
func (sb *Superblock) HasXattrTable() bool {
	return sb.XattrTableStart != invalidTable
}

func readSuperblock(r io.ReaderAt) (*Superblock, error) {
	sb := new(Superblock)
	err := binary.Read(io.NewSectionReader(r, 0, superblockSize), binary.LittleEndian, sb)
	if err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	if err := sb.validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *Superblock) validate() error {
	if sb.Magic != Magic {
		return fmt.Errorf("%w: %#08x", ErrBadMagic, sb.Magic)
	}
	if sb.VersionMajor != 4 || sb.VersionMinor != 0 {
		return fmt.Errorf("squashfs: unsupported version %d.%d", sb.VersionMajor, sb.VersionMinor)
	}
	if sb.BlockLog < minBlockLog || sb.BlockLog > maxBlockLog || uint32(1)<<sb.BlockLog != sb.BlockSize {
		return fmt.Errorf("squashfs: inconsistent block size %d (log %d)", sb.BlockSize, sb.BlockLog)
	}
	if sb.BytesUsed < superblockSize {
		return fmt.Errorf("squashfs: image too small (%d bytes used)", sb.BytesUsed)
	}
	for _, start := range []uint64{sb.InodeTableStart, sb.DirectoryTableStart, sb.IDTableStart} {
		if start >= sb.BytesUsed {
			return fmt.Errorf("squashfs: table offset %d beyond end of image", start)
		}
	}
	return nil
}
