package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Unarchiver picks a backend for a path, opens it, and implements the
// listing, extraction and disk space operations built on top. It is safe
// for concurrent use; the Archives it returns are not.
type Unarchiver struct {
	cfg   Config
	cache *ListingCache
	log   logrus.FieldLogger
}

// New returns an Unarchiver configured by opts.
func New(opts ...Option) *Unarchiver {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	u := &Unarchiver{cfg: cfg, cache: cfg.Cache, log: cfg.logger()}
	if u.cache == nil {
		cache, err := NewListingCache(cfg.CacheSize)
		if err != nil {
			// lru.New only rejects sizes below one
			panic(err)
		}
		u.cache = cache
	}
	if u.cfg.FreeSpace == nil {
		u.cfg.FreeSpace = freeSpace
	}
	return u
}

// strategies returns the backends to try for path, in order.
func strategies(path string) []opener {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case strings.Contains(ext, "squashfs"):
		return []opener{SevenZip{}, SquashFS{}}
	case ext == ".rar":
		return []opener{SevenZip{}, Rar{}}
	case isTarball(filepath.Base(path)):
		return []opener{Tar{}}
	default:
		return []opener{SevenZip{}, Zip{}, CompressedFile{}}
	}
}

// Open opens path with the first backend that accepts it. Backend
// failures are logged at debug level and the next backend is tried. If
// none succeeds, or path is empty, ErrNoMatch is returned.
func (u *Unarchiver) Open(path string) (Archive, error) {
	if path == "" {
		return nil, ErrNoMatch
	}
	for _, o := range strategies(path) {
		a, err := o.OpenArchive(path, &u.cfg)
		if err == nil {
			return a, nil
		}
		u.log.WithError(err).WithFields(logrus.Fields{
			"path":    path,
			"backend": o.Name(),
		}).Debug("backend could not open archive")
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoMatch)
}

// IsCompressedFile reports whether path is an existing regular file with
// an archive extension: .zip, .7z, .rar, or one containing "squashfs".
// The file is not opened.
func IsCompressedFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".zip", ".7z", ".rar":
		return true
	}
	return strings.Contains(ext, "squashfs")
}

// ListEntries returns the listing of path. Listings are cached for the
// life of the Unarchiver's cache, unless WithCacheSize bounds it and the
// listing was evicted; an archive that cannot be opened lists as empty,
// and that result is cached too.
func (u *Unarchiver) ListEntries(path string) []Entry {
	return u.cache.Get(path, func() []Entry {
		a, err := u.Open(path)
		if err != nil {
			u.log.WithError(err).WithField("path", path).Debug("listing archive")
			return nil
		}
		defer a.Close()
		return a.Entries()
	})
}

// Extract extracts path into destination. fileName, if not empty,
// restricts extraction to that entry (or directory subtree). keepFolder
// false strips a top-level directory that wraps the whole archive.
// Paths that are not compressed files are left alone.
func (u *Unarchiver) Extract(ctx context.Context, path, destination, fileName string, onProgress ProgressFunc, keepFolder bool) error {
	if !IsCompressedFile(path) {
		u.log.WithField("path", path).Debug("not a compressed file, nothing to extract")
		return nil
	}

	a, err := u.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := SkipRootFolder
	if keepFolder {
		mode = Normal
	}
	return a.Extract(ctx, destination, ExtractOptions{
		FileName:   fileName,
		OnProgress: onProgress,
		Mode:       mode,
	})
}

// IsFreeDiskSpaceAvailableForExtraction reports whether the volume of
// destinationRoot has room for the extracted content of path. When the
// check itself fails the configured DiskCheckPolicy decides.
func (u *Unarchiver) IsFreeDiskSpaceAvailableForExtraction(path, destinationRoot string) bool {
	log := u.log.WithFields(logrus.Fields{"path": path, "destination": destinationRoot})

	required, free, err := u.spaceCheck(path, destinationRoot)
	if err != nil {
		allow := u.cfg.DiskCheckPolicy == DiskCheckFailOpen
		log.WithError(err).WithField("policy", u.cfg.DiskCheckPolicy).Warnf("checking free disk space, assuming available=%t", allow)
		return allow
	}

	log.WithFields(logrus.Fields{"required": required, "free": free}).Debug("free disk space")
	return free >= required
}

func (u *Unarchiver) spaceCheck(path, destinationRoot string) (required, free uint64, err error) {
	required, err = requiredSpace(u.ListEntries(path), path)
	if err != nil {
		return 0, 0, fmt.Errorf("measuring %s: %w", path, err)
	}
	dir, err := nearestExistingDir(destinationRoot)
	if err != nil {
		return 0, 0, fmt.Errorf("resolving %s: %w", destinationRoot, err)
	}
	free, err = u.cfg.FreeSpace(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("querying free space of %s: %w", dir, err)
	}
	return required, free, nil
}
