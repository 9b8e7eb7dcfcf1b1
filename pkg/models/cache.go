package models

import "time"

// CacheEntry is a single fingerprint-keyed response held by the response
// cache. Entries expire independently of eviction order: a lookup that
// finds an entry past TTL is treated as a miss.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Value       *StructuredResponse `json:"value"`
	InsertedAt  time.Time `json:"inserted_at"`
	TTL         time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL as of now.
func (e CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.InsertedAt) > e.TTL
}
