package cache

import (
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ResponseCache is C3: a fingerprint-keyed store of the last structured
// response for a given LLM client call, with lazy TTL eviction. A single
// mutex guards an O(1) critical section, matching the concurrency model
// spec.md §5 requires.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	ttl     time.Duration
}

// NewResponseCache creates a cache with the given default TTL. A TTL of
// zero means entries never expire.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]models.CacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached response for fingerprint if present and not
// expired as of now. An expired entry is deleted on lookup (lazy
// eviction) and reported as a miss.
func (c *ResponseCache) Get(fingerprint string, now time.Time) (*models.StructuredResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		delete(c.entries, fingerprint)
		return nil, false
	}
	return entry.Value, true
}

// Put inserts or overwrites the cached response for fingerprint.
func (c *ResponseCache) Put(fingerprint string, value *models.StructuredResponse, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = models.CacheEntry{
		Fingerprint: fingerprint,
		Value:       value,
		InsertedAt:  now,
		TTL:         c.ttl,
	}
}

// Len returns the number of entries currently held, expired or not —
// intended for tests and diagnostics only.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
