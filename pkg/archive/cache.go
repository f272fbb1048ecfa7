package archive

import (
	"os"
	"sync"
	"time"
)

const (
	defaultCacheMaxEntries = 500
	defaultCacheTTL        = 5 * time.Minute
)

// fingerprint is the cheap cache-validity key: any mutation that changes a
// file's size or modification time produces a different fingerprint, so no
// explicit invalidation call is required from callers.
type fingerprint struct {
	modTimeMs int64
	size      int64
}

func fingerprintFile(path string) (fingerprint, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{modTimeMs: stat.ModTime().UnixMilli(), size: stat.Size()}, nil
}

type cacheEntry struct {
	info         *Info
	fp           fingerprint
	lastAccessed time.Time
	expiresAt    time.Time
}

// ListingCache memoizes archive listings. It is process-local, in-memory and
// never persisted: it starts empty at process start and is not shared across
// process instances. Constructed explicitly rather than living as a package
// singleton so tests get isolated stores.
type ListingCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	ttl        time.Duration

	now func() time.Time
}

func NewListingCache() *ListingCache {
	return &ListingCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: defaultCacheMaxEntries,
		ttl:        defaultCacheTTL,
		now:        time.Now,
	}
}

// Get returns the cached listing for path. Expired entries and entries whose
// fingerprint no longer matches the file on disk are evicted and reported as
// misses.
func (c *ListingCache) Get(path string) (*Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.entries, path)
		return nil, false
	}

	fp, err := fingerprintFile(path)
	if err != nil || fp != entry.fp {
		delete(c.entries, path)
		return nil, false
	}

	entry.lastAccessed = now
	return entry.info, true
}

// Put stores a listing keyed by the file's current fingerprint, then evicts
// oldest-lastAccessed entries until the cache is back under its bound.
func (c *ListingCache) Put(path string, info *Info) {
	fp, err := fingerprintFile(path)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[path] = &cacheEntry{
		info:         info,
		fp:           fp,
		lastAccessed: now,
		expiresAt:    now.Add(c.ttl),
	}

	for len(c.entries) > c.maxEntries {
		oldestPath := ""
		var oldest time.Time
		for p, e := range c.entries {
			if oldestPath == "" || e.lastAccessed.Before(oldest) {
				oldestPath = p
				oldest = e.lastAccessed
			}
		}
		delete(c.entries, oldestPath)
	}
}

// Len reports the number of cached listings.
func (c *ListingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
