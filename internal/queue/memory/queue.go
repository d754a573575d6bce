// Package memory provides the in-process request queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// Queue is an unbounded FIFO with unique-key dedup and in-flight tracking.
// Dequeue reports crawler.ErrQueueDrained once nothing is pending and no
// dequeued item is still running, since only running items can add work.
type Queue struct {
	mu       sync.Mutex
	pending  []crawler.QueueItem
	seen     map[string]struct{}
	inflight int
	closed   bool
	changed  chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		seen:    make(map[string]struct{}),
		changed: make(chan struct{}),
	}
}

// Enqueue adds req unless its unique key was seen before.
func (q *Queue) Enqueue(ctx context.Context, req crawler.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("enqueue canceled: %w", err)
	}
	if req == nil {
		return false, fmt.Errorf("enqueue: %w", crawler.ErrUnknownRequest)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, crawler.ErrQueueClosed
	}
	key := req.UniqueKey()
	if _, ok := q.seen[key]; ok {
		return false, nil
	}
	q.seen[key] = struct{}{}
	q.pending = append(q.pending, crawler.QueueItem{Request: req})
	q.broadcastLocked()
	return true, nil
}

// Retry re-adds a failed item with its attempt counter bumped.
func (q *Queue) Retry(ctx context.Context, item crawler.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retry canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	item.Attempt++
	q.pending = append(q.pending, item)
	q.broadcastLocked()
	return nil
}

// Dequeue pops the next item, blocking while other items are in flight.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		switch {
		case q.closed:
			q.mu.Unlock()
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		case len(q.pending) > 0:
			item := q.pending[0]
			q.pending[0] = crawler.QueueItem{}
			q.pending = q.pending[1:]
			q.inflight++
			q.mu.Unlock()
			return item, nil
		case q.inflight == 0:
			q.mu.Unlock()
			return crawler.QueueItem{}, crawler.ErrQueueDrained
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Done marks a dequeued item as finished. Follow-ups and retries must be
// added before calling Done.
func (q *Queue) Done(crawler.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight > 0 {
		q.inflight--
	}
	q.broadcastLocked()
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close wakes all waiters; later calls fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
