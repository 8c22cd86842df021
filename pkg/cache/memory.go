package cache

import (
	"sync"
	"time"
)

// MemoryCache is a small in-process TTL cache. The engine uses it to memoize
// embedding lookups for repeated comment text.
type MemoryCache struct {
	data    map[string]item
	mu      sync.RWMutex
	maxSize int
}

type item struct {
	value     any
	expiresAt time.Time
}

// NewMemoryCache creates a cache bounded to maxSize entries; 0 means 1024.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &MemoryCache{data: make(map[string]item), maxSize: maxSize}
}

// Get retrieves a cached value if present and not expired.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return nil, false
	}
	return it.value, true
}

// Set stores a value with optional TTL. When the cache is full an arbitrary
// entry is evicted.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.data[key] = item{value: value, expiresAt: expires}
}

// Delete removes an entry.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Len reports the live entry count, expired entries included until read.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
