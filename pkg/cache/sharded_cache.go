// Package cache is a process-local sharded map with entry ages.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Sharded is a string-keyed cache split over independently locked shards.
// The zero value is not usable; call New.
type Sharded[V any] struct {
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// New creates an empty cache.
func New[V any]() *Sharded[V] {
	c := &Sharded[V]{}
	for i := range c.shards {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *Sharded[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key.
func (c *Sharded[V]) Set(key string, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get retrieves the value for key.
func (c *Sharded[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	return e.value, ok
}

// GetWithAge retrieves the value and how long ago it was stored.
func (c *Sharded[V]) GetWithAge(key string) (V, time.Duration, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		var zero V
		return zero, 0, false
	}
	return e.value, time.Since(e.updatedAt), true
}

// GetFresh returns the value only if it is younger than maxAge. maxAge <= 0
// never expires.
func (c *Sharded[V]) GetFresh(key string, maxAge time.Duration) (V, bool) {
	v, age, ok := c.GetWithAge(key)
	if !ok || (maxAge > 0 && age > maxAge) {
		var zero V
		return zero, false
	}
	return v, true
}

// Delete removes key.
func (c *Sharded[V]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge.
func (c *Sharded[V]) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Clear drops everything.
func (c *Sharded[V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]entry[V])
		s.mu.Unlock()
	}
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *Sharded[V]) Stats() Stats {
	var (
		stats  Stats
		oldest time.Time
	)
	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.updatedAt.Before(oldest) {
				oldest = e.updatedAt
			}
		}
		s.mu.RUnlock()
	}
	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
