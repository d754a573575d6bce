package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrSoftBlocked indicates an anti-bot interstitial replaced the page.
	ErrSoftBlocked = errors.New("soft block detected")
	// ErrQueueDrained is returned by Dequeue once nothing is pending or in flight.
	ErrQueueDrained = errors.New("queue drained")
	// ErrQueueClosed is returned after the queue has been closed.
	ErrQueueClosed = errors.New("queue closed")
	// ErrUnknownRequest is returned for request values outside the sum type.
	ErrUnknownRequest = errors.New("unknown request type")
)

// RetryableError marks a failure that should be retried on a fresh session.
// Persisted counts work already flushed before the failure.
type RetryableError struct {
	Err       error
	Persisted int
}

func (e *RetryableError) Error() string {
	if e.Persisted > 0 {
		return fmt.Sprintf("%v (persisted %d before failure)", e.Err, e.Persisted)
	}
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError.
func Retryable(err error, persisted int) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, Persisted: persisted}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// PersistedBefore returns the progress recorded on a RetryableError, or zero.
func PersistedBefore(err error) int {
	var target *RetryableError
	if errors.As(err, &target) {
		return target.Persisted
	}
	return 0
}
