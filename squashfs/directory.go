package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxDirHeaderCount = 256

type dirHeader struct {
	Count       uint32
	Start       uint32
	InodeNumber uint32
}

type dirEntryHeader struct {
	Offset      uint16
	InodeOffset int16
	Type        InodeType
	NameSize    uint16
}

type dirEntry struct {
	Name        string
	Type        InodeType
	InodeRef    uint64
	InodeNumber uint32
}

// dirReader resolves inode references and directory listings through the
// inode and directory tables.
type dirReader struct {
	inodes     *metadataReader
	dirs       *metadataReader
	inodeStart uint64
	dirStart   uint64
	blockSize  uint32
}

func newDirReader(r io.ReaderAt, comp Compressor, sb *Superblock) *dirReader {
	return &dirReader{
		inodes:     newMetadataReader(r, comp),
		dirs:       newMetadataReader(r, comp),
		inodeStart: sb.InodeTableStart,
		dirStart:   sb.DirectoryTableStart,
		blockSize:  sb.BlockSize,
	}
}

// inode reads the inode addressed by ref: the upper 48 bits are the
// metadata block position relative to the inode table, the lower 16 the
// offset inside that block.
func (d *dirReader) inode(ref uint64) (Inode, error) {
	block := ref >> 16
	offset := int(ref & 0xffff)
	if offset >= metadataBlockSize {
		return Inode{}, fmt.Errorf("squashfs: bad inode reference %#x", ref)
	}
	return readInode(d.inodes.cursor(d.inodeStart+block, offset), d.blockSize)
}

// readDir lists the directory inode in. The stored size counts three
// bytes for the implicit "." and ".." entries.
func (d *dirReader) readDir(in Inode) ([]dirEntry, error) {
	start, offset, size, ok := in.dirLocation()
	if !ok {
		return nil, fmt.Errorf("squashfs: inode %d is not a directory", in.Number)
	}
	remaining := int64(size) - 3
	if remaining <= 0 {
		return nil, nil
	}
	if int(offset) >= metadataBlockSize {
		return nil, fmt.Errorf("squashfs: bad directory offset %d", offset)
	}

	cur := d.dirs.cursor(d.dirStart+uint64(start), int(offset))
	var entries []dirEntry
	for remaining > 0 {
		var hdr dirHeader
		if err := binary.Read(cur, binary.LittleEndian, &hdr); err != nil {
			return nil, fmt.Errorf("reading directory header: %w", err)
		}
		remaining -= 12
		if hdr.Count >= maxDirHeaderCount {
			return nil, fmt.Errorf("squashfs: corrupt directory header count %d", hdr.Count)
		}

		for i := uint32(0); i <= hdr.Count; i++ {
			var eh dirEntryHeader
			if err := binary.Read(cur, binary.LittleEndian, &eh); err != nil {
				return nil, fmt.Errorf("reading directory entry: %w", err)
			}
			name := make([]byte, int(eh.NameSize)+1)
			if _, err := io.ReadFull(cur, name); err != nil {
				return nil, fmt.Errorf("reading directory entry name: %w", err)
			}
			remaining -= 8 + int64(len(name))

			entries = append(entries, dirEntry{
				Name:        string(name),
				Type:        eh.Type,
				InodeRef:    uint64(hdr.Start)<<16 | uint64(eh.Offset),
				InodeNumber: uint32(int64(hdr.InodeNumber) + int64(eh.InodeOffset)),
			})
		}
	}
	if remaining < 0 {
		return nil, fmt.Errorf("squashfs: directory listing overruns its size by %d bytes", -remaining)
	}
	return entries, nil
}

func (d *dirReader) release() {
	d.inodes.release()
	d.dirs.release()
}
