/*
Package cache provides the bounded, invalidated-on-write read cache.

PURPOSE:
  A small TTL cache sitting in front of the canonical stat computations
  (member stats, leaderboards, team standings). The canonical computation
  is always the source of truth; this cache is purely an optimization.
  Readers do cache-or-recompute, writers invalidate by key prefix.

DESIGN:
  Explicit, bounded, time-expiring, constructed per server instance -
  never a module-level singleton - so it can be discarded between test
  runs. Eviction is oldest-first once the bound is hit; at the sizes this
  service caches (hundreds of keys), a scan is fine.

SEE ALSO:
  - engine/store.go: Invalidator interface and shared key prefixes
  - api/handlers.go: cache-or-recompute read paths
*/
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value   any
	expires time.Time
	stored  time.Time
}

// Cache is a bounded TTL key-value cache with prefix invalidation.
// Implements engine.Invalidator.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
}

// New creates a cache holding at most maxEntries values for up to ttl.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value, evicting the oldest entry when full.
func (c *Cache) Set(key string, value any) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked(now)
	}
	c.entries[key] = entry{value: value, expires: now.Add(c.ttl), stored: now}
}

// InvalidatePattern removes every entry whose key starts with prefix.
func (c *Cache) InvalidatePattern(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked(now time.Time) {
	// Expired entries go first; otherwise the oldest stored entry.
	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
			return
		}
		if oldestKey == "" || e.stored.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.stored
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
