package archiver

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
)

func init() {
	RegisterFormat(Sz{})
}

// Sz facilitates S2 decompression. S2 readers also accept
// Snappy framed streams.
type Sz struct {
	// Configurable S2 extension.
	S2 S2
}

// S2 holds reader options of the S2 extension of Snappy. See
// https://pkg.go.dev/github.com/klauspost/compress/s2
// for details and the documentation for each option.
type S2 struct {
	MaxBlockSize           int
	AllocBlock             int
	IgnoreStreamIdentifier bool
	IgnoreCRC              bool
}

func (Sz) Name() string { return ".sz" }

func (sz Sz) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), sz.Name()) ||
		strings.Contains(strings.ToLower(filename), ".s2") {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(snappyHeader))
	if err != nil {
		return mr, err
	}
	mr.ByStream = bytes.Equal(buf, snappyHeader) || bytes.Equal(buf, s2Header)

	return mr, nil
}

func (sz Sz) OpenReader(r io.Reader) (io.ReadCloser, error) {
	var opts []s2.ReaderOption
	if sz.S2.AllocBlock != 0 {
		opts = append(opts, s2.ReaderAllocBlock(sz.S2.AllocBlock))
	}
	if sz.S2.IgnoreCRC {
		opts = append(opts, s2.ReaderIgnoreCRC())
	}
	if sz.S2.IgnoreStreamIdentifier {
		opts = append(opts, s2.ReaderIgnoreStreamIdentifier())
	}
	if sz.S2.MaxBlockSize != 0 {
		opts = append(opts, s2.ReaderMaxBlockSize(sz.S2.MaxBlockSize))
	}
	return io.NopCloser(s2.NewReader(r, opts...)), nil
}

// https://github.com/google/snappy/blob/master/framing_format.txt - contains "sNaPpY"
var snappyHeader = []byte{0xff, 0x06, 0x00, 0x00, 0x73, 0x4e, 0x61, 0x50, 0x70, 0x59}

// S2 streams written without Snappy compatibility start with "S2sTwO"
var s2Header = []byte{0xff, 0x06, 0x00, 0x00, 0x53, 0x32, 0x73, 0x54, 0x77, 0x4f}
