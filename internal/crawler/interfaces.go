package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Special ScrollBy deltas.
const (
	ScrollToEnd     = 0
	ScrollOneScreen = -1
)

// Page is the rendered-browser capability a session exposes to stages.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Document snapshots the current DOM.
	Document(ctx context.Context) (*goquery.Document, error)
	// ScrollBy scrolls the element matching selector by delta pixels, or by
	// ScrollToEnd / ScrollOneScreen. The window is scrolled when nothing matches.
	ScrollBy(ctx context.Context, selector string, delta int) error
	// Click clicks the first visible match and reports whether one existed.
	Click(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
}

// Session is a browser identity (proxy + cookies) leased to one request at a time.
type Session interface {
	ID() string
	Page() Page
	// MarkBad retires the session once it is released.
	MarkBad()
	Bad() bool
}

// SessionPool leases sessions to workers.
type SessionPool interface {
	Acquire(ctx context.Context) (Session, error)
	Release(session Session)
}

// RequestContext carries per-request collaborators into a stage handler.
type RequestContext struct {
	Page    Page
	Session Session
	Logger  *zap.Logger
	Attempt int
}

// Enqueuer adds follow-up requests. It reports false when the unique key
// was already seen.
type Enqueuer interface {
	Enqueue(ctx context.Context, req Request) (bool, error)
}

// Queue provides enqueue/dequeue semantics for crawl requests.
type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context) (QueueItem, error)
	// Retry re-adds a failed item, bypassing unique-key dedup.
	Retry(ctx context.Context, item QueueItem) error
	// Done marks a dequeued item as finished.
	Done(item QueueItem)
}

// RecordSink appends records to named collections.
type RecordSink interface {
	Append(ctx context.Context, collection string, records ...any) error
	Close(ctx context.Context) error
}

// KVStore is the persistent half of a dedup store.
type KVStore interface {
	Has(ctx context.Context, key string) (bool, error)
	// Put stores key and reports whether it was newly inserted.
	Put(ctx context.Context, key string) (bool, error)
	Close() error
}

// Publisher pushes the run summary to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when a failed request runs again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes stable digests for identity keys.
type Hasher interface {
	HashString(value string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
