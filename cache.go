package archiver

import (
	"math"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ListingCache memoizes archive listings by absolute path. It is safe for
// concurrent use; concurrent first lookups of the same path share one
// load. A bounded cache evicts the least recently used listing, which is
// loaded again on its next lookup.
type ListingCache struct {
	entries *lru.Cache[string, []Entry]
	group   singleflight.Group
}

// NewListingCache returns a cache keeping at most size listings. A size
// of zero or less keeps every listing for the life of the cache.
func NewListingCache(size int) (*ListingCache, error) {
	if size <= 0 {
		size = math.MaxInt
	}
	c, err := lru.New[string, []Entry](size)
	if err != nil {
		return nil, err
	}
	return &ListingCache{entries: c}, nil
}

// Get returns the listing cached for path, calling load on a miss. The
// result of load is cached even when it is empty.
func (c *ListingCache) Get(path string, load func() []Entry) []Entry {
	key := cacheKey(path)
	if entries, ok := c.entries.Get(key); ok {
		return copyEntries(entries)
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		if entries, ok := c.entries.Get(key); ok {
			return entries, nil
		}
		entries := load()
		if entries == nil {
			entries = []Entry{}
		}
		c.entries.Add(key, entries)
		return entries, nil
	})
	return copyEntries(v.([]Entry))
}

// Forget drops the listing of path, if cached.
func (c *ListingCache) Forget(path string) {
	c.entries.Remove(cacheKey(path))
}

// Len returns the number of cached listings.
func (c *ListingCache) Len() int {
	return c.entries.Len()
}

func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func copyEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
