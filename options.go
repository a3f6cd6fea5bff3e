package archiver

import (
	"github.com/sirupsen/logrus"
)

// DiskCheckPolicy decides the outcome of a free space check that could
// not be carried out.
type DiskCheckPolicy int

const (
	// DiskCheckFailOpen assumes there is enough space and logs a warning.
	DiskCheckFailOpen DiskCheckPolicy = iota
	// DiskCheckFailClosed assumes there is not enough space.
	DiskCheckFailClosed
)

func (p DiskCheckPolicy) String() string {
	if p == DiskCheckFailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// FreeSpaceFunc returns the bytes available to an unprivileged user on
// the volume holding path.
type FreeSpaceFunc func(path string) (uint64, error)

// Config holds the settings of an Unarchiver. Use the With* options to
// change them.
type Config struct {
	Logger logrus.FieldLogger

	// Password is used for encrypted 7z, RAR and ZIP archives unless
	// ExtractOptions.Password is set.
	Password string

	// DisableSevenZip turns the 7z backend off.
	DisableSevenZip bool

	// MultithreadedGzip decodes gzip streams with a parallel reader.
	MultithreadedGzip bool

	Cache     *ListingCache
	CacheSize int

	FreeSpace       FreeSpaceFunc
	DiskCheckPolicy DiskCheckPolicy
}

func (c *Config) logger() logrus.FieldLogger {
	return loggerOrDefault(c.Logger)
}

// Option configures an Unarchiver.
type Option func(*Config)

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithPassword sets the password used for encrypted archives.
func WithPassword(password string) Option {
	return func(c *Config) { c.Password = password }
}

// WithCache shares a listing cache between Unarchivers.
func WithCache(cache *ListingCache) Option {
	return func(c *Config) { c.Cache = cache }
}

// WithCacheSize bounds the number of listings the default cache keeps.
// The default, zero, keeps every listing.
func WithCacheSize(size int) Option {
	return func(c *Config) { c.CacheSize = size }
}

// WithoutSevenZip disables the 7z backend.
func WithoutSevenZip() Option {
	return func(c *Config) { c.DisableSevenZip = true }
}

// WithFreeSpaceFunc replaces the free disk space query.
func WithFreeSpaceFunc(fn FreeSpaceFunc) Option {
	return func(c *Config) { c.FreeSpace = fn }
}

// WithDiskCheckPolicy sets what happens when free space cannot be
// determined.
func WithDiskCheckPolicy(p DiskCheckPolicy) Option {
	return func(c *Config) { c.DiskCheckPolicy = p }
}

// WithMultithreadedGzip enables the parallel gzip reader.
func WithMultithreadedGzip() Option {
	return func(c *Config) { c.MultithreadedGzip = true }
}
