package archiver

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/bodgit/sevenzip"
	"github.com/sirupsen/logrus"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

// SevenZip reads .7z archives. The sevenzip package registers the
// decompressors it supports by itself.
type SevenZip struct{}

func (SevenZip) Name() string { return ".7z" }

var errSevenZipDisabled = errors.New("7z backend disabled")

func (z SevenZip) OpenArchive(path string, cfg *Config) (Archive, error) {
	if cfg.DisableSevenZip {
		return nil, errSevenZipDisabled
	}

	dec := &sevenZipDecoder{path: path, log: cfg.logger().WithField("path", path)}
	if err := dec.open(cfg.Password); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dec.rc.File))
	for i, f := range dec.rc.File {
		entries = append(entries, Entry{
			Filename:     common.NormalizeName(f.Name),
			IsDirectory:  f.FileInfo().IsDir(),
			LastModified: f.Modified,
			Length:       int64(f.UncompressedSize),
			CRC32:        f.CRC32,
			ref:          i,
		})
	}
	dec.entries = dedupe(entries)

	return newArchive("7z", path, dec.entries, dec, cfg, dec.close), nil
}

// sevenZipDecoder keeps one reader open. The reader is reopened when the
// callback supplies a password other than the one it was opened with.
type sevenZipDecoder struct {
	path     string
	password string
	rc       *sevenzip.ReadCloser
	entries  []Entry
	log      logrus.FieldLogger
}

func (d *sevenZipDecoder) open(password string) error {
	rc, err := sevenzip.OpenReaderWithPassword(d.path, password)
	if err != nil {
		return err
	}
	if d.rc != nil {
		if len(rc.File) != len(d.rc.File) {
			rc.Close()
			return fmt.Errorf("reopening %s: file list changed", d.path)
		}
		if err := d.rc.Close(); err != nil {
			d.log.WithError(err).Debug("closing previous 7z reader")
		}
	}
	d.rc, d.password = rc, password
	return nil
}

func (d *sevenZipDecoder) Extract(ctx context.Context, indices []int, cb ExtractCallback) error {
	if d.rc == nil {
		return ErrClosed
	}
	if password, ok := cb.CryptoGetTextPassword(); ok && password != d.password {
		if err := d.open(password); err != nil {
			return fmt.Errorf("opening with password: %w", err)
		}
	}
	return extractRandomAccess(ctx, d.entries, indices, cb, d.log, func(e Entry, w io.Writer) error {
		h := crc32.NewIEEE()
		if err := copyFrom(io.MultiWriter(w, h), d.rc.File[e.ref.(int)].Open); err != nil {
			return err
		}
		// the reader does not verify content, a zero sum means none was stored
		if e.CRC32 != 0 && h.Sum32() != e.CRC32 {
			return fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, h.Sum32(), e.CRC32)
		}
		return nil
	})
}

func (d *sevenZipDecoder) close() error {
	if d.rc == nil {
		return nil
	}
	rc := d.rc
	d.rc = nil
	return rc.Close()
}

// Interface guards
var (
	_ opener          = SevenZip{}
	_ callbackDecoder = (*sevenZipDecoder)(nil)
)
