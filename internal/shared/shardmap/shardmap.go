// Package shardmap provides a string-keyed concurrent map split into
// independently locked shards, so traffic for unrelated keys never
// contends on a single table-wide lock.
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 32

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// Map is a sharded map. All operations on a single key are linearizable.
type Map[V any] struct {
	shards []*shard[V]
}

// New creates a map with DefaultShards shards.
func New[V any]() *Map[V] {
	return NewWithShards[V](DefaultShards)
}

// NewWithShards creates a map with n shards (n <= 0 falls back to DefaultShards).
func NewWithShards[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// SetIfAbsent stores value only if key is not present.
// It reports whether the value was stored.
func (m *Map[V]) SetIfAbsent(key string, value V) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return false
	}
	s.items[key] = value
	return true
}

// LoadAndDelete removes key and returns the value it held.
// Of any number of concurrent callers for the same key, at most one sees ok == true.
func (m *Map[V]) LoadAndDelete(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// DeleteIf removes key only when match returns true for the stored value.
// match runs under the shard lock and must not call back into the map.
func (m *Map[V]) DeleteIf(key string, match func(V) bool) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || !match(v) {
		var zero V
		return zero, false
	}
	delete(s.items, key)
	return v, true
}

// Len returns the number of entries across all shards.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of every entry. Shards are copied one at a time,
// so the result is not a single point-in-time view of the whole map.
func (m *Map[V]) Snapshot() map[string]V {
	out := make(map[string]V)
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			out[k] = v
		}
		s.mu.RUnlock()
	}
	return out
}

// Range calls fn for each entry of a snapshot until fn returns false.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for k, v := range m.Snapshot() {
		if !fn(k, v) {
			return
		}
	}
}

// Clear removes all entries and returns them.
func (m *Map[V]) Clear() map[string]V {
	out := make(map[string]V)
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			out[k] = v
		}
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
	return out
}
