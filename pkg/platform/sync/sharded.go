package sync

import (
	"sync"
)

const shardCount = 32

// ShardedMap is a string-keyed map split across 32 independently locked shards.
// Operations on keys in different shards never contend; operations on the same
// key are serialized, which makes read-modify-write through Update atomic per key.
type ShardedMap[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// NewShardedMap creates an empty ShardedMap.
func NewShardedMap[V any]() *ShardedMap[V] {
	m := &ShardedMap[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

// Update runs fn under the key's shard lock. fn receives the current value and
// whether it exists, and returns the value to store. Returning keep=false deletes the key.
func (m *ShardedMap[V]) Update(key string, fn func(current V, exists bool) (next V, keep bool)) {
	s := &m.shards[ShardFor(key, shardCount)]
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[key]
	next, keep := fn(current, exists)
	if !keep {
		delete(s.items, key)
		return
	}
	s.items[key] = next
}

// Get returns a copy of the stored value.
func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := &m.shards[ShardFor(key, shardCount)]
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Delete removes key.
func (m *ShardedMap[V]) Delete(key string) {
	s := &m.shards[ShardFor(key, shardCount)]
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Sweep visits every entry one shard at a time and removes those for which
// remove returns true. Returns the number of removed entries.
func (m *ShardedMap[V]) Sweep(remove func(key string, v V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			if remove(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of entries. It is not a consistent snapshot
// under concurrent writes.
func (m *ShardedMap[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// ShardFor maps key onto one of n shards. Empty keys default to shard 0.
func ShardFor(key string, n int) int {
	if key == "" || n <= 1 {
		return 0
	}
	return int(hashString(key) % uint32(n))
}

// hashString provides a simple hash for shard selection.
// Uses djb2-style hashing for good distribution.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
