package archiver

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

func init() {
	RegisterFormat(Zlib{})
}

// Zlib facilitates zlib decompression.
type Zlib struct{}

func (Zlib) Name() string { return ".zz" }

func (zz Zlib) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), zz.Name()) {
		mr.ByName = true
	}

	// match file header: deflate with a 32K window, and a header
	// checksum that is a multiple of 31 (RFC 1950 section 2.2)
	buf, err := readAtMost(stream, 2)
	if err != nil {
		return mr, err
	}
	mr.ByStream = len(buf) == 2 && buf[0] == 0x78 && binary.BigEndian.Uint16(buf)%31 == 0

	return mr, nil
}

func (Zlib) OpenReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}
