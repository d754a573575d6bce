// Package memory provides an in-process KV store for tests and local runs.
package memory

import (
	"context"
	"sync"
)

// Store is a map-backed crawler.KVStore.
type Store struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{keys: make(map[string]struct{})}
}

// Has reports whether key exists.
func (s *Store) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok, nil
}

// Put stores key and reports whether it was new.
func (s *Store) Put(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
