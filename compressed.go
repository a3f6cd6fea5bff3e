package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// CompressedFile exposes a single compressed stream, such as game.iso.gz,
// as an archive with one entry named after the file without its
// compression extension.
type CompressedFile struct{}

func (CompressedFile) Name() string { return "compressed" }

func (c CompressedFile) OpenArchive(path string, cfg *Config) (Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}

	comp, _, err := Identify(path, f)
	if err != nil {
		return nil, err
	}

	entries := []Entry{{
		Filename:     trimCompressionExt(filepath.Base(path), comp),
		LastModified: info.ModTime(),
	}}
	dec := &compressedDecoder{
		path:    path,
		comp:    decompressorFor(comp, cfg),
		entries: entries,
		log:     cfg.logger().WithFields(logrus.Fields{"path": path, "format": comp.Name()}),
	}
	if err := dec.checkStream(); err != nil {
		return nil, fmt.Errorf("%s: not a valid %s stream: %w", path, comp.Name(), err)
	}
	return newArchive("compressed", path, entries, dec, cfg, nil), nil
}

// decompressorFor applies the configuration to formats that have
// settings of their own.
func decompressorFor(comp Compression, cfg *Config) Decompressor {
	if gz, ok := comp.(Gz); ok && cfg != nil && cfg.MultithreadedGzip {
		gz.Multithreaded = true
		return gz
	}
	return comp
}

type compressedDecoder struct {
	path    string
	comp    Decompressor
	entries []Entry
	log     logrus.FieldLogger
}

func (d *compressedDecoder) Extract(ctx context.Context, indices []int, cb ExtractCallback) error {
	return extractRandomAccess(ctx, d.entries, indices, cb, d.log, func(e Entry, w io.Writer) error {
		return copyFrom(w, d.open)
	})
}

func (d *compressedDecoder) open() (io.ReadCloser, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, err
	}
	rc, err := d.comp.OpenReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return fileReadCloser{ReadCloser: rc, file: f}, nil
}

// checkStream decodes the first bytes of the stream. Formats matched only by
// name are rejected here when the content is something else.
func (d *compressedDecoder) checkStream() error {
	rc, err := d.open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = readAtMost(rc, 1)
	return err
}

// fileReadCloser closes the decompressor and the file under it.
type fileReadCloser struct {
	io.ReadCloser
	file *os.File
}

func (f fileReadCloser) Close() error {
	var result *multierror.Error
	if err := f.ReadCloser.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Interface guards
var (
	_ opener          = CompressedFile{}
	_ callbackDecoder = (*compressedDecoder)(nil)
)
