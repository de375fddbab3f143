package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is a concurrent-safe in-memory store whose entries expire after a
// fixed time to live. A zero TTL keeps entries until they are deleted.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	ttl   time.Duration
	now   func() time.Time
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		items: make(map[string]entry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the value for key unless it is missing or expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, found := c.items[key]
	if !found || c.expired(item) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set adds or replaces a value and restarts its TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := entry[V]{value: value}
	if c.ttl > 0 {
		item.expires = c.now().Add(c.ttl)
	}
	c.items[key] = item
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, item := range c.items {
		if c.expired(item) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, expired ones included until purged.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache[V]) expired(item entry[V]) bool {
	return !item.expires.IsZero() && !c.now().Before(item.expires)
}
