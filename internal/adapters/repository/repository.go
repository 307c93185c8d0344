// Package repository provides the in-memory session store: a sharded map
// keyed by session id, sharded to keep lock contention away from the request
// path.
package repository

import (
	"context"
	"hash/fnv"
	"sync"
)

const defaultShardCount = 8

// Store is a sharded in-memory key-value store. The zero value is not
// usable; construct with NewStore.
type Store[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu     sync.RWMutex
	values map[string]V
}

// Option applies a configuration option to the Store.
type Option struct {
	shardCount int
}

// WithShardCount sets the number of shards.
func WithShardCount(n int) Option {
	return Option{shardCount: n}
}

// NewStore creates an empty store.
func NewStore[V any](opts ...Option) *Store[V] {
	count := defaultShardCount
	for _, opt := range opts {
		if opt.shardCount > 0 {
			count = opt.shardCount
		}
	}

	s := &Store[V]{shards: make([]*shard[V], count)}
	for i := range s.shards {
		s.shards[i] = &shard[V]{values: make(map[string]V)}
	}
	return s
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Put stores the value under the key, replacing any previous value.
func (s *Store[V]) Put(_ context.Context, key string, value V) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.values[key] = value
}

// Get returns the value under the key or ErrNotFound.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.values[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Delete removes the key. Returns ErrNotFound when nothing was stored.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.values[key]; !ok {
		return ErrNotFound
	}
	delete(sh.values, key)
	return nil
}

// Len returns the total number of stored values.
func (s *Store[V]) Len(_ context.Context) int {
	var n int
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.values)
		sh.mu.RUnlock()
	}
	return n
}

// Keys returns every stored key in no particular order.
func (s *Store[V]) Keys(_ context.Context) []string {
	var keys []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.values {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}
