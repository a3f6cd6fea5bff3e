package archiver

import (
	"context"
	"io"

	"github.com/nwaples/rardecode/v2"
	"github.com/sirupsen/logrus"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

// Rar reads .rar archives, including multi-volume ones. RAR can only be
// read front to back, so listing and every extraction are full passes.
type Rar struct{}

func (Rar) Name() string { return ".rar" }

func (r Rar) OpenArchive(path string, cfg *Config) (Archive, error) {
	dec := &rarDecoder{path: path, password: cfg.Password, log: cfg.logger().WithField("path", path)}

	rc, err := dec.open(cfg.Password)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var entries []Entry
	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		e := Entry{
			Filename:     common.NormalizeName(hdr.Name),
			IsDirectory:  hdr.IsDir,
			LastModified: hdr.ModificationTime,
		}
		if !hdr.IsDir && !hdr.UnKnownSize {
			e.Length = hdr.UnPackedSize
		}
		entries = append(entries, e)
	}
	dec.entries = dedupe(entries)

	return newArchive("rar", path, dec.entries, dec, cfg, nil), nil
}

type rarDecoder struct {
	path     string
	password string
	entries  []Entry
	log      logrus.FieldLogger
}

func (d *rarDecoder) open(password string) (*rardecode.ReadCloser, error) {
	var opts []rardecode.Option
	if password != "" {
		opts = append(opts, rardecode.Password(password))
	}
	return rardecode.OpenReader(d.path, opts...)
}

func (d *rarDecoder) Extract(ctx context.Context, indices []int, cb ExtractCallback) error {
	password := d.password
	if p, ok := cb.CryptoGetTextPassword(); ok {
		password = p
	}
	rc, err := d.open(password)
	if err != nil {
		return err
	}
	defer rc.Close()

	return extractSequential(ctx, d.entries, indices, cb, d.log, func() (string, io.Reader, error) {
		hdr, err := rc.Next()
		if err != nil {
			return "", nil, err
		}
		return hdr.Name, rc, nil
	})
}

// Interface guards
var (
	_ opener          = Rar{}
	_ callbackDecoder = (*rarDecoder)(nil)
)
