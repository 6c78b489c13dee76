// Package cache implements the advisory TTL result cache keyed by request
// fingerprints. A miss is always safe: callers recompute from scratch.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/buildledger/matchengine/internal/model"
)

// DefaultTTL applies when Set is called with a zero TTL.
const DefaultTTL = 15 * time.Minute

type entry struct {
	expiresAt time.Time
	results   []model.MatchResult
	bytes     int64
}

// ResultCache stores match result sets keyed by request fingerprint. Expired
// entries are treated as absent; they are reaped lazily on access, not by a
// background sweep.
type ResultCache struct {
	entries map[string]entry
	mu      sync.Mutex
}

// Stats reports cache occupancy for observability.
type Stats struct {
	Keys        []string `json:"keys"`
	Entries     int      `json:"entries"`
	ApproxBytes int64    `json:"approx_bytes"`
}

// New creates an empty result cache.
func New() *ResultCache {
	return &ResultCache{entries: make(map[string]entry)}
}

// Get returns the cached results for key, or ok=false if the key is absent
// or expired.
func (c *ResultCache) Get(key string) ([]model.MatchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}

	results := make([]model.MatchResult, len(e.results))
	copy(results, e.results)
	return results, true
}

// Set stores results under key, overwriting unconditionally. A zero ttl
// falls back to DefaultTTL.
func (c *ResultCache) Set(key string, results []model.MatchResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	stored := make([]model.MatchResult, len(results))
	copy(stored, results)

	var size int64
	if data, err := json.Marshal(stored); err == nil {
		size = int64(len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		results:   stored,
		expiresAt: time.Now().Add(ttl),
		bytes:     int64(len(key)) + size,
	}
}

// Clear removes a single entry.
func (c *ResultCache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset removes all entries.
func (c *ResultCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Size returns the number of entries, expired ones included.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns current keys and an approximate memory footprint.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Keys:    make([]string, 0, len(c.entries)),
		Entries: len(c.entries),
	}
	for key, e := range c.entries {
		stats.Keys = append(stats.Keys, key)
		stats.ApproxBytes += e.bytes
	}
	return stats
}
