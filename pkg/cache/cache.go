// Package cache provides a small in-memory response cache for policy
// version reads. Version metadata and contents never change once stored,
// so entries only leave the cache through TTL expiry or capacity eviction;
// there is no invalidation surface.
package cache

import (
	"sync"
	"time"
)

type cacheEntry struct {
	body        []byte
	contentType string
	expiresAt   time.Time
	lastUsed    time.Time
}

// Cache is a thread-safe LRU cache with TTL. At capacity the least
// recently used entry is evicted. Expired entries are dropped lazily
// on Get.
type Cache struct {
	// Get updates recency, so even reads take the write lock.
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	capacity int
	ttl      time.Duration
}

// New creates a cache holding at most capacity entries, each valid for
// ttl. Cached responses are immutable, so a long ttl is safe; it exists
// to bound memory on rarely re-read versions.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		entries:  make(map[string]*cacheEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns the cached body and content type for key. The second
// return is false when the key is missing or expired.
func (c *Cache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}

	now := time.Now()
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		return nil, "", false
	}

	e.lastUsed = now
	return e.body, e.contentType, true
}

// Set stores a response body under key, evicting the least recently
// used entry when the cache is full.
func (c *Cache) Set(key string, body []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evictLRU()
	}

	c.entries[key] = &cacheEntry{
		body:        body,
		contentType: contentType,
		expiresAt:   now.Add(c.ttl),
		lastUsed:    now,
	}
}

// Len returns the number of entries currently held, counting expired
// ones that have not been lazily dropped yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLRU removes the entry with the oldest lastUsed timestamp.
// Callers must hold c.mu.
func (c *Cache) evictLRU() {
	var victim string
	var oldest time.Time

	for key, e := range c.entries {
		if victim == "" || e.lastUsed.Before(oldest) {
			victim = key
			oldest = e.lastUsed
		}
	}

	if victim != "" {
		delete(c.entries, victim)
	}
}
