package archiver

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/charmap"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

// Zip reads .zip archives. Besides store and deflate, entries compressed
// with bzip2, zstd and xz are supported.
type Zip struct{}

func (Zip) Name() string { return ".zip" }

func (z Zip) OpenArchive(path string, cfg *Config) (Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	registerZipDecompressors(&zr.Reader)

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, Entry{
			Filename:     common.NormalizeName(decodeZipName(f)),
			IsDirectory:  strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir(),
			LastModified: f.Modified,
			Length:       int64(f.UncompressedSize64),
			CRC32:        f.CRC32,
			ref:          f,
		})
	}
	entries = dedupe(entries)

	dec := &zipDecoder{entries: entries, log: cfg.logger().WithField("path", path)}
	return newArchive("zip", path, entries, dec, cfg, zr.Close), nil
}

type zipDecoder struct {
	entries []Entry
	log     logrus.FieldLogger
}

func (d *zipDecoder) Extract(ctx context.Context, indices []int, cb ExtractCallback) error {
	return extractRandomAccess(ctx, d.entries, indices, cb, d.log, func(e Entry, w io.Writer) error {
		return copyFrom(w, e.ref.(*zip.File).Open)
	})
}

// Compression methods outside of the ZIP reader's defaults. See
// https://pkware.cachefly.net/webdocs/casestudies/APPNOTE.TXT section 4.4.5.
const (
	zipMethodBzip2 uint16 = 12
	zipMethodZstd  uint16 = zstd.ZipMethodWinZip
	zipMethodXz    uint16 = 95
)

func registerZipDecompressors(zr *zip.Reader) {
	zr.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())
	zr.RegisterDecompressor(zipMethodBzip2, func(r io.Reader) io.ReadCloser {
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return errReadCloser{err}
		}
		return br
	})
	zr.RegisterDecompressor(zipMethodXz, func(r io.Reader) io.ReadCloser {
		xr, err := xz.NewReader(r)
		if err != nil {
			return errReadCloser{err}
		}
		return io.NopCloser(xr)
	})
}

type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }

// decodeZipName decodes names of archives written by tools that store
// them in the legacy IBM PC code page instead of UTF-8.
func decodeZipName(f *zip.File) string {
	if !f.NonUTF8 || utf8.ValidString(f.Name) {
		return f.Name
	}
	name, err := charmap.CodePage437.NewDecoder().String(f.Name)
	if err != nil {
		return f.Name
	}
	return name
}

// Interface guards
var (
	_ opener          = Zip{}
	_ callbackDecoder = (*zipDecoder)(nil)
)
