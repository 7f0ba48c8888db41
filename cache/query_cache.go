// Package cache provides the small TTL cache the search engine uses to
// avoid re-sorting the open shard list on every search call. Entries are
// invalidated explicitly on shard open,
// close and reconstruct rather than relying on TTL expiry alone, since a
// stale shard list would otherwise search (or skip) a shard that no longer
// matches reality.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value       interface{}
	storedAt    time.Time
	accessCount int
}

// QueryCache is a small bounded cache keyed by string, evicting the entry
// with the lowest access count once maxSize is reached. ttts sizes it at
// one entry (the sorted shard-bucket list), so eviction never actually
// triggers in practice; the bound exists so the type stays reusable if a
// second cached computation is added later.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	maxSize int
	ttl     time.Duration
}

// NewQueryCache creates a cache holding at most maxSize entries, each
// valid for ttl after it was last written.
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		entries: make(map[string]*entry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached value for key, or (nil, false) if absent or
// expired.
func (c *QueryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	e.accessCount++
	return e.value, true
}

// Set stores value under key, evicting the entry with the lowest access
// count first if the cache is already at capacity.
func (c *QueryCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLeastAccessed()
	}
	c.entries[key] = &entry{value: value, storedAt: time.Now()}
}

func (c *QueryCache) evictLeastAccessed() {
	var victim string
	var victimEntry *entry
	for key, e := range c.entries {
		if victimEntry == nil || e.accessCount < victimEntry.accessCount {
			victim, victimEntry = key, e
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// Invalidate drops every entry whose key starts with pattern. An empty
// pattern drops everything.
func (c *QueryCache) Invalidate(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if len(pattern) == 0 || strings.HasPrefix(key, pattern) {
			delete(c.entries, key)
		}
	}
}
