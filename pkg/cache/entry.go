package cache

import (
	"time"
)

// Entry represents a cached batch.
type Entry struct {
	// Kind is the batch kind ("items", "items_with_token", "completed")
	Kind string `json:"kind"`

	// Data is the JSON encoded batch elements
	Data []byte `json:"data,omitempty"`

	// NextToken is the continuation token of an items_with_token batch.
	// null and "" stay distinct after a round trip.
	NextToken []byte `json:"next_token"`

	// CachedAt is when the batch was cached
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
