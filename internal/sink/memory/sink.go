// Package memory keeps appended records in process, for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Sink implements crawler.RecordSink in memory.
type Sink struct {
	mu      sync.RWMutex
	records map[string][]any
}

// New returns an empty sink.
func New() *Sink {
	return &Sink{records: make(map[string][]any)}
}

// Append implements crawler.RecordSink.
func (s *Sink) Append(_ context.Context, collection string, records ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[collection] = append(s.records[collection], records...)
	return nil
}

// Records returns a copy of the records in collection.
func (s *Sink) Records(collection string) []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]any(nil), s.records[collection]...)
}

// Len returns the number of records in collection.
func (s *Sink) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[collection])
}

// Close implements crawler.RecordSink.
func (s *Sink) Close(context.Context) error { return nil }
