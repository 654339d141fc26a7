// Copyright 2024 Canonical.

package keystore

import (
	"sync"
)

// An Evicter is a process-level cache that can drop all entries it
// holds for a single KID.
type Evicter interface {
	Evict(kid string)
}

// A CacheIndex tracks every process-level cache that holds per-KID
// entries (PEM caches, the parsed signing key cache, the JWK cache) so
// that a single call can invalidate a KID everywhere at once when its
// underlying artifact is deleted.
type CacheIndex struct {
	mu     sync.RWMutex
	caches []Evicter
}

// NewCacheIndex returns an empty cache index.
func NewCacheIndex() *CacheIndex {
	return &CacheIndex{}
}

// Register adds a cache to the index.
func (i *CacheIndex) Register(c Evicter) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.caches = append(i.caches, c)
}

// Invalidate evicts the given KID from every registered cache.
// Evicting a KID a cache never held is a no-op, so callers need not
// know which caches are populated.
func (i *CacheIndex) Invalidate(kid string) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, c := range i.caches {
		c.Evict(kid)
	}
}

// A pemCache is a process-authoritative KID to PEM map. Entries are
// filled on cache-miss reads and only ever removed by explicit
// eviction, so a cached PEM may outlive its file on disk; this is what
// allows reads to proceed gracefully while the janitor reaps
// concurrently.
type pemCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func newPEMCache() *pemCache {
	return &pemCache{entries: make(map[string][]byte)}
}

func (c *pemCache) get(kid string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pem, ok := c.entries[kid]
	return pem, ok
}

func (c *pemCache) put(kid string, pem []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[kid] = pem
}

// Evict implements Evicter.
func (c *pemCache) Evict(kid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, kid)
}

var _ Evicter = (*pemCache)(nil)
