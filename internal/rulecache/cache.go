// Package rulecache provides a bounded, thread-safe rule-set cache and the
// CachingRuleSetProvider decorator that sits in front of the rule
// repository.
package rulecache

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// Stats summarizes cache activity, surfaced for operational visibility.
type Stats struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
}

// Cache is a bounded rule-set cache with an optional per-entry TTL.
// Eviction follows ristretto's policy (TinyLFU admission, sampled-LFU
// eviction), not LRU.
//
// ristretto does not expose key enumeration, so the set of cached IDs is
// tracked alongside it under a dedicated mutex; ristretto itself remains
// the sole source of truth for Get/eviction.
type Cache struct {
	store *ristretto.Cache[string, rules.RateLimitRuleSet]
	ttl   time.Duration

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCache builds a cache sized for maxSize entries. A zero ttl means
// entries never expire on their own; they are still evicted under memory
// pressure and on explicit Delete/Clear.
func NewCache(maxSize int, ttl time.Duration) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, rules.RateLimitRuleSet]{
		NumCounters: int64(maxSize) * 10,
		MaxCost:     int64(maxSize),
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{store: store, ttl: ttl, ids: make(map[string]struct{})}, nil
}

// Get returns the cached rule set for id, if present.
func (c *Cache) Get(id string) (rules.RateLimitRuleSet, bool) {
	return c.store.Get(id)
}

// Set stores a rule set, applying the cache's configured TTL.
func (c *Cache) Set(id string, rs rules.RateLimitRuleSet) {
	c.store.SetWithTTL(id, rs, 1, c.ttl)
	c.store.Wait()

	c.mu.Lock()
	c.ids[id] = struct{}{}
	c.mu.Unlock()
}

// Delete removes a single rule set from the cache.
func (c *Cache) Delete(id string) {
	c.store.Del(id)

	c.mu.Lock()
	delete(c.ids, id)
	c.mu.Unlock()
}

// Clear drops every cached entry, used on a full-reload event.
func (c *Cache) Clear() {
	c.store.Clear()

	c.mu.Lock()
	c.ids = make(map[string]struct{})
	c.mu.Unlock()
}

// GetCachedRuleSetIDs returns a snapshot of every rule-set ID currently
// tracked by the cache. Safe for concurrent use; the returned slice is
// never mutated after it's handed back.
func (c *Cache) GetCachedRuleSetIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	return out
}

// Size returns the number of rule sets currently tracked by the cache.
// This is the tracked-ID count, not ristretto's internal cost estimate,
// so it reflects exactly what GetCachedRuleSetIDs would return.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// StatsSnapshot returns a point-in-time view of cache hit/miss/eviction
// counters.
func (c *Cache) StatsSnapshot() Stats {
	m := c.store.Metrics
	if m == nil {
		return Stats{}
	}
	return Stats{
		Hits:        m.Hits(),
		Misses:      m.Misses(),
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
	}
}

// Close releases cache resources.
func (c *Cache) Close() {
	c.store.Close()
}
