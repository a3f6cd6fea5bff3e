package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	dataUncompressed = 1 << 24
	dataSizeMask     = dataUncompressed - 1

	fragmentEntrySize = 16
)

type fragmentEntry struct {
	Start  uint64
	Size   uint32
	Unused uint32
}

// dataReader resolves file content from data blocks and fragments.
type dataReader struct {
	r         io.ReaderAt
	comp      Compressor
	blockSize uint32
	fragments []fragmentEntry

	// last decoded block, keyed by absolute position
	cachePos  uint64
	cacheData []byte
	cacheOK   bool
}

func newDataReader(r io.ReaderAt, comp Compressor, sb *Superblock) (*dataReader, error) {
	d := &dataReader{
		r:         r,
		comp:      comp,
		blockSize: sb.BlockSize,
	}
	if !sb.HasFragmentTable() {
		return d, nil
	}

	raw, err := readLookupTable(r, comp, sb.FragmentTableStart, int(sb.FragmentCount)*fragmentEntrySize)
	if err != nil {
		return nil, fmt.Errorf("reading fragment table: %w", err)
	}
	d.fragments = make([]fragmentEntry, sb.FragmentCount)
	for i := range d.fragments {
		e := raw[i*fragmentEntrySize:]
		d.fragments[i] = fragmentEntry{
			Start:  binary.LittleEndian.Uint64(e),
			Size:   binary.LittleEndian.Uint32(e[8:]),
			Unused: binary.LittleEndian.Uint32(e[12:]),
		}
	}
	return d, nil
}

// readBlock decodes the block at pos whose on-disk size word is sizeField.
// A zero size is a sparse block.
func (d *dataReader) readBlock(pos uint64, sizeField uint32) ([]byte, error) {
	size := sizeField & dataSizeMask
	if size == 0 {
		return make([]byte, d.blockSize), nil
	}
	if d.cacheOK && d.cachePos == pos {
		return d.cacheData, nil
	}
	if size > d.blockSize {
		return nil, fmt.Errorf("squashfs: corrupt block size %d at %d", size, pos)
	}

	raw := make([]byte, size)
	if _, err := d.r.ReadAt(raw, int64(pos)); err != nil {
		return nil, fmt.Errorf("reading block at %d: %w", pos, err)
	}
	data := raw
	if sizeField&dataUncompressed == 0 {
		var err error
		data, err = d.comp.Decompress(raw, int(d.blockSize))
		if err != nil {
			return nil, fmt.Errorf("decompressing block at %d: %w", pos, err)
		}
	}

	d.cachePos, d.cacheData, d.cacheOK = pos, data, true
	return data, nil
}

func (d *dataReader) fragmentTail(fl fileLayout) ([]byte, error) {
	if int(fl.fragment) >= len(d.fragments) {
		return nil, fmt.Errorf("squashfs: fragment %d out of range", fl.fragment)
	}
	entry := d.fragments[fl.fragment]
	block, err := d.readBlock(entry.Start, entry.Size)
	if err != nil {
		return nil, fmt.Errorf("reading fragment %d: %w", fl.fragment, err)
	}
	tail := fl.size - uint64(len(fl.blockSizes))*uint64(d.blockSize)
	end := uint64(fl.fragmentOffset) + tail
	if end > uint64(len(block)) {
		return nil, fmt.Errorf("squashfs: fragment %d too short for tail of %d bytes", fl.fragment, tail)
	}
	return block[fl.fragmentOffset:end], nil
}

// readAt implements random access over a file's content.
func (d *dataReader) readAt(fl fileLayout, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("squashfs: negative offset")
	}
	size := int64(fl.size)
	if off >= size {
		return 0, io.EOF
	}

	var atEOF bool
	if remaining := size - off; int64(len(p)) >= remaining {
		p = p[:remaining]
		atEOF = true
	}

	bs := int64(d.blockSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		index := pos / bs
		within := pos % bs

		var data []byte
		var err error
		if index < int64(len(fl.blockSizes)) {
			data, err = d.readBlock(fl.blockOffsets[index], fl.blockSizes[index])
		} else if fl.hasFragment() {
			data, err = d.fragmentTail(fl)
		} else {
			err = fmt.Errorf("squashfs: offset %d past last block", pos)
		}
		if err != nil {
			return n, err
		}
		if within >= int64(len(data)) {
			return n, fmt.Errorf("squashfs: short block at file offset %d", pos)
		}
		n += copy(p[n:], data[within:])
	}

	if atEOF {
		return n, io.EOF
	}
	return n, nil
}

func (d *dataReader) release() {
	d.fragments = nil
	d.cacheData = nil
	d.cacheOK = false
}
