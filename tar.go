package archiver

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

// Tar reads tarballs, plain or wrapped in any registered compression
// format.
type Tar struct{}

func (Tar) Name() string { return ".tar" }

var tarballSuffixes = []string{
	".tar", ".tgz", ".taz", ".tbz", ".tbz2", ".txz", ".tzst", ".tlz4", ".tlz", ".tsz", ".tbr",
}

// isTarball reports whether filename has a tarball extension, compressed
// ("x.tar.gz", "x.tgz") or not.
func isTarball(filename string) bool {
	lower := strings.ToLower(filename)
	if strings.Contains(lower, ".tar.") {
		return true
	}
	for _, s := range tarballSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func (t Tar) OpenArchive(path string, cfg *Config) (Archive, error) {
	dec := &tarDecoder{path: path, cfg: cfg, log: cfg.logger().WithField("path", path)}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	head, err := readAtMost(f, tarMagicOffset+len(tarMagic))
	if err != nil {
		f.Close()
		return nil, err
	}
	var comp Compression
	if !hasTarMagic(head) {
		comp, _, err = Identify(path, f)
	}
	f.Close()
	switch {
	case errors.Is(err, ErrNoMatch):
	case err != nil:
		return nil, err
	default:
		dec.comp = comp
	}

	entries, err := dec.list()
	if err != nil && dec.comp != nil {
		// a weak header match on an uncompressed tarball
		dec.log.WithError(err).Debugf("not a %s compressed tarball, retrying as plain tar", dec.comp.Name())
		dec.comp = nil
		entries, err = dec.list()
	}
	if err != nil {
		return nil, err
	}
	dec.entries = dedupe(entries)

	return newArchive("tar", path, dec.entries, dec, cfg, nil), nil
}

// ustar, pax and GNU headers all carry "ustar" at this offset.
const tarMagicOffset = 257

var tarMagic = []byte("ustar")

func hasTarMagic(head []byte) bool {
	return len(head) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(head[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic)
}

type tarDecoder struct {
	path    string
	comp    Compression
	cfg     *Config
	entries []Entry
	log     logrus.FieldLogger
}

// open returns a tar reader over the decompressed file and a function
// releasing everything it opened.
func (d *tarDecoder) open() (*tar.Reader, func() error, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, nil, err
	}
	if d.comp == nil {
		return tar.NewReader(f), f.Close, nil
	}

	rc, err := decompressorFor(d.comp, d.cfg).OpenReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	release := func() error {
		var result *multierror.Error
		if err := rc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}
	return tar.NewReader(rc), release, nil
}

func (d *tarDecoder) list() ([]Entry, error) {
	tr, release, err := d.open()
	if err != nil {
		return nil, err
	}
	defer release()

	var entries []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		info := hdr.FileInfo()
		if !info.IsDir() && !info.Mode().IsRegular() {
			// links, devices and pax global headers are not extracted
			continue
		}
		e := Entry{
			Filename:     common.NormalizeName(hdr.Name),
			IsDirectory:  info.IsDir(),
			LastModified: hdr.ModTime,
		}
		if !e.IsDirectory {
			e.Length = hdr.Size
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (d *tarDecoder) Extract(ctx context.Context, indices []int, cb ExtractCallback) error {
	tr, release, err := d.open()
	if err != nil {
		return err
	}
	defer release()

	return extractSequential(ctx, d.entries, indices, cb, d.log, func() (string, io.Reader, error) {
		for {
			hdr, err := tr.Next()
			if err != nil {
				return "", nil, err
			}
			info := hdr.FileInfo()
			if info.IsDir() || info.Mode().IsRegular() {
				return hdr.Name, tr, nil
			}
		}
	})
}

// Interface guards
var (
	_ opener          = Tar{}
	_ callbackDecoder = (*tarDecoder)(nil)
)
