package archiver

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/squashfs"
)

// SquashFS reads SquashFS 4.0 images with the squashfs package. Only
// directories and regular files are listed.
type SquashFS struct{}

func (SquashFS) Name() string { return ".squashfs" }

func (s SquashFS) OpenArchive(path string, cfg *Config) (Archive, error) {
	img, err := squashfs.Open(path)
	if err != nil {
		return nil, err
	}

	files := img.Files()
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		e := Entry{
			Filename:     f.Path,
			IsDirectory:  f.IsDir,
			LastModified: f.ModTime,
			ref:          f.Path,
		}
		if !f.IsDir {
			e.Length = f.Size
		}
		entries = append(entries, e)
	}

	dec := &squashfsDecoder{img: img, entries: entries, log: cfg.logger().WithField("path", path)}
	return newArchive("squashfs", path, entries, dec, cfg, img.Close), nil
}

type squashfsDecoder struct {
	img     *squashfs.Image
	entries []Entry
	log     logrus.FieldLogger
}

func (d *squashfsDecoder) Extract(ctx context.Context, indices []int, cb ExtractCallback) error {
	return extractRandomAccess(ctx, d.entries, indices, cb, d.log, func(e Entry, w io.Writer) error {
		_, err := d.img.CopyFile(e.ref.(string), w)
		return err
	})
}

// Interface guards
var (
	_ opener          = SquashFS{}
	_ callbackDecoder = (*squashfsDecoder)(nil)
)
