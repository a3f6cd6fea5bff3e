package archiver

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

func init() {
	RegisterFormat(Snappy{})
}

// Snappy facilitates decompression of Snappy framed streams as
// written by the reference implementation.
type Snappy struct{}

func (Snappy) Name() string { return ".snappy" }

func (sn Snappy) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if filepath.Ext(strings.ToLower(filename)) == sn.Name() {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(snappyHeader))
	if err != nil {
		return mr, err
	}
	mr.ByStream = bytes.Equal(buf, snappyHeader)

	return mr, nil
}

func (Snappy) OpenReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}
