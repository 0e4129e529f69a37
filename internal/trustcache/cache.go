// Package trustcache serves seller trust scores with bounded staleness and
// bounded fan-out to the latest-score store.
package trustcache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// KeyPrefix namespaces cache keys.
const KeyPrefix = "trust:latest:"

// DefaultTTL is how long a cached score stays valid.
const DefaultTTL = 60 * time.Second

// Key returns the cache key for userID.
func Key(userID string) string {
	return KeyPrefix + userID
}

// Stats is a point-in-time read of the hit and miss counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRatio returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) String() string {
	return fmt.Sprintf("hits=%d misses=%d", s.Hits, s.Misses)
}

type entry struct {
	value     float64
	expiresAt time.Time
}

// TTLCache is an in-process map of trust scores that expire a fixed TTL
// after being written, regardless of reads. Safe for concurrent use.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time

	hits   int64
	misses int64
}

// NewTTLCache creates a cache. ttl defaults to DefaultTTL and now to time.Now.
func NewTTLCache(ttl time.Duration, now func() time.Time) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TTLCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     now,
	}
}

// TTL returns the write TTL.
func (c *TTLCache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the cached score for userID and counts a hit or miss.
func (c *TTLCache) Lookup(userID string) (float64, bool) {
	v, ok := c.Peek(userID)
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return v, ok
}

// Peek returns the cached score without touching the counters.
func (c *TTLCache) Peek(userID string) (float64, bool) {
	key := Key(userID)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, still := c.entries[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return 0, false
	}
	return e.value, true
}

// Set stores score for userID with the cache TTL.
func (c *TTLCache) Set(userID string, score float64) {
	c.Seed(userID, score, c.ttl)
}

// Seed stores score for userID with an explicit ttl. It bypasses the
// normal population paths and exists for tests and debugging.
func (c *TTLCache) Seed(userID string, score float64, ttl time.Duration) {
	c.mu.Lock()
	c.entries[Key(userID)] = entry{value: score, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete drops userID from the cache.
func (c *TTLCache) Delete(userID string) {
	c.mu.Lock()
	delete(c.entries, Key(userID))
	c.mu.Unlock()
}

// Prune removes expired entries and returns how many were dropped.
func (c *TTLCache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *TTLCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

// ResetStats zeroes the hit and miss counters.
func (c *TTLCache) ResetStats() {
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}
