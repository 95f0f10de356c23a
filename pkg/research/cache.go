package research

import (
	"sync"
	"time"
)

// cacheEntry holds an extracted page with a timestamp for TTL expiration.
type cacheEntry struct {
	page      *Page
	fetchedAt time.Time
}

// Cache is a thread-safe in-memory page cache with TTL expiration, keyed by
// normalized URL. Expired entries are cleaned up lazily on Get() — no
// background goroutine.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewCache creates a new cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached page if present and not expired.
func (c *Cache) Get(url string) (*Page, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Expired — clean up lazily. Re-check under write lock: a
		// concurrent Set() may have replaced the entry with a fresh one.
		c.mu.Lock()
		if current, ok := c.entries[url]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.page, true
}

// Set stores a page with the current timestamp.
func (c *Cache) Set(url string, page *Page) {
	c.mu.Lock()
	c.entries[url] = &cacheEntry{
		page:      page,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
