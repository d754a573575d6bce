// Package dedup answers "seen before?" for place and review keys, backed by
// a persistent KV store and a bounded in-memory mirror.
package dedup

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

const (
	// DefaultPlaceCapacity bounds the in-memory mirror for place keys.
	DefaultPlaceCapacity = 50_000
	// DefaultReviewCapacity bounds the in-memory mirror for review keys.
	DefaultReviewCapacity = 100_000
)

// Store is safe for concurrent use.
type Store struct {
	name     string
	kv       crawler.KVStore
	capacity int

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

// New builds a Store named for logging; capacity <= 0 means unbounded.
func New(name string, kv crawler.KVStore, capacity int) *Store {
	return &Store{
		name:     name,
		kv:       kv,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Name returns the store's label.
func (s *Store) Name() string { return s.name }

// IsDuplicate reports whether key was seen before and records it if not.
// Empty keys are never duplicates.
func (s *Store) IsDuplicate(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	if s.inMemory(key) {
		return true, nil
	}
	present, err := s.kv.Has(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%s dedup read: %w", s.name, err)
	}
	if present {
		s.touch(key)
		return true, nil
	}
	inserted, err := s.kv.Put(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%s dedup write: %w", s.name, err)
	}
	s.touch(key)
	// A concurrent writer landed first.
	return !inserted, nil
}

// Len returns the number of keys held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Close releases the persistent store.
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) inMemory(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// touch moves key to the most recently inserted position and evicts the
// oldest entries past capacity.
func (s *Store) touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.index[key]; ok {
		s.order.MoveToBack(el)
	} else {
		s.index[key] = s.order.PushBack(key)
	}
	if s.capacity <= 0 {
		return
	}
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}
