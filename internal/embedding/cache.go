package embedding

import (
	"context"
	"sync"
	"time"
)

// defaultCacheTTL bounds how long a cached vector is served. Agent documents
// re-embed on change anyway; the TTL mainly keeps repeated search queries from
// hitting the provider.
const defaultCacheTTL = 10 * time.Minute

// maxCacheEntries caps memory; when exceeded, expired entries are evicted and,
// if still over, the cache is dropped wholesale rather than tracking LRU order.
const maxCacheEntries = 4096

type cacheEntry struct {
	vector    []float32
	expiresAt time.Time
}

// CachingProvider wraps a Provider with a TTL cache keyed by the exact input
// text. Errors are never cached.
type CachingProvider struct {
	inner Provider
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	now func() time.Time
}

// NewCachingProvider wraps inner. ttl <= 0 selects the default.
func NewCachingProvider(inner Provider, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachingProvider{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Available implements Provider.
func (c *CachingProvider) Available() bool { return c.inner.Available() }

// Embed implements Provider, serving from cache when the text was embedded
// within the TTL.
func (c *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.RLock()
	e, ok := c.entries[text]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.vector, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= maxCacheEntries {
		c.evictLocked()
	}
	c.entries[text] = &cacheEntry{vector: vec, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return vec, nil
}

// Len returns the number of cached entries, expired included.
func (c *CachingProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops expired entries; if none were droppable the whole map is
// reset. Caller holds mu.
func (c *CachingProvider) evictLocked() {
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed == 0 && len(c.entries) >= maxCacheEntries {
		c.entries = make(map[string]*cacheEntry)
	}
}
