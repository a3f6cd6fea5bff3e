package squashfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// CompressionID identifies the codec used for every compressed block of
// an image.
type CompressionID uint16

const (
	GZIP CompressionID = iota + 1
	LZMA
	LZO
	XZ
	LZ4
	ZSTD
)

func (c CompressionID) String() string {
	switch c {
	case GZIP:
		return "gzip"
	case LZMA:
		return "lzma"
	case LZO:
		return "lzo"
	case XZ:
		return "xz"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint16(c))
}

// ErrUnsupportedCompression is returned for images compressed with a
// codec this package cannot decode. LZO images are always refused. XZ
// images built with a BCJ filter open, but their blocks fail to decode
// because ulikunitz/xz only implements the LZMA2 filter.
var ErrUnsupportedCompression = errors.New("squashfs: unsupported compression")

// Compressor decodes metadata and data blocks. One instance is shared by
// every table and block read of an image.
type Compressor interface {
	// Decompress decodes src, producing at most maxSize bytes.
	Decompress(src []byte, maxSize int) ([]byte, error)
	Close() error
}

func newCompressor(id CompressionID) (Compressor, error) {
	switch id {
	case GZIP:
		return zlibCompressor{}, nil
	case LZMA:
		return lzmaCompressor{}, nil
	case XZ:
		return xzCompressor{}, nil
	case LZ4:
		return lz4Compressor{}, nil
	case ZSTD:
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return &zstdCompressor{d: d}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, id)
}

func readLimited(r io.Reader, maxSize int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, maxSize))
	n, err := io.Copy(buf, io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if n > int64(maxSize) {
		return nil, fmt.Errorf("squashfs: block decompresses past %d bytes", maxSize)
	}
	return buf.Bytes(), nil
}

type zlibCompressor struct{}

func (zlibCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr, maxSize)
}

func (zlibCompressor) Close() error { return nil }

type lzmaCompressor struct{}

func (lzmaCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	lr, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	return readLimited(lr, maxSize)
}

func (lzmaCompressor) Close() error { return nil }

type xzCompressor struct{}

func (xzCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	xr, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	return readLimited(xr, maxSize)
}

func (xzCompressor) Close() error { return nil }

// squashfs stores raw lz4 blocks, not lz4 frames
type lz4Compressor struct{}

func (lz4Compressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	dst := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func (lz4Compressor) Close() error { return nil }

type zstdCompressor struct {
	d *zstd.Decoder
}

func (z *zstdCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	out, err := z.d.DecodeAll(src, make([]byte, 0, maxSize))
	if err != nil {
		return nil, err
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("squashfs: block decompresses past %d bytes", maxSize)
	}
	return out, nil
}

func (z *zstdCompressor) Close() error {
	z.d.Close()
	return nil
}
