// Package worker runs the per-request loop: dequeue, lease a session,
// dispatch by request type, then retry or drop on failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/metrics"
)

// SearchHandler handles SEARCH requests.
type SearchHandler interface {
	Handle(ctx context.Context, rc *crawler.RequestContext, req crawler.SearchRequest) (crawler.RunStats, error)
}

// PlaceHandler handles PLACE_DETAIL requests.
type PlaceHandler interface {
	Handle(ctx context.Context, rc *crawler.RequestContext, req crawler.PlaceDetailRequest) (crawler.RunStats, error)
}

// ReviewsHandler handles REVIEWS requests.
type ReviewsHandler interface {
	Handle(ctx context.Context, rc *crawler.RequestContext, req crawler.ReviewsRequest) (crawler.RunStats, error)
}

// Stages holds one handler per request variant.
type Stages struct {
	Search  SearchHandler
	Place   PlaceHandler
	Reviews ReviewsHandler
}

// Config controls Worker behavior.
type Config struct {
	// RequestTimeout bounds one handler invocation; zero disables it.
	RequestTimeout time.Duration
}

// Worker consumes queue items one at a time.
type Worker struct {
	id       int
	queue    crawler.Queue
	sessions crawler.SessionPool
	stages   Stages
	retry    crawler.RetryPolicy
	cfg      Config
	logger   *zap.Logger

	mu    sync.Mutex
	stats crawler.RunStats
}

// New constructs a Worker.
func New(
	id int,
	queue crawler.Queue,
	sessions crawler.SessionPool,
	stages Stages,
	retry crawler.RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		sessions: sessions,
		stages:   stages,
		retry:    retry,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Stats returns the statistics this worker has accumulated so far.
func (w *Worker) Stats() crawler.RunStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run blocks until the queue drains or closes, or ctx finishes.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		item, err := w.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, crawler.ErrQueueDrained), errors.Is(err, crawler.ErrQueueClosed):
			w.logger.Debug("queue finished; worker exiting", zap.Error(err))
			return nil
		case ctx.Err() != nil:
			return fmt.Errorf("worker %d: %w", w.id, ctx.Err())
		case err != nil:
			return fmt.Errorf("worker %d dequeue: %w", w.id, err)
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	defer w.queue.Done(item)

	req := item.Request
	log := w.logger.With(
		zap.String("type", string(req.Type())),
		zap.String("search_job_id", req.JobID()),
		zap.String("url", req.URL()),
		zap.Int("attempt", item.Attempt),
	)
	log.Info("processing request")

	delta, err := w.execute(ctx, item, log)
	if err == nil {
		delta.RequestsSucceeded++
		metrics.ObserveRequest(string(req.Type()), metrics.OutcomeSucceeded)
		w.merge(delta)
		return
	}

	if errors.Is(err, crawler.ErrSoftBlocked) {
		delta.SoftBlocks++
		metrics.ObserveSoftBlock(string(req.Type()))
	}
	if ctx.Err() != nil {
		log.Info("shutting down; abandoning request", zap.Error(err))
		w.merge(delta)
		return
	}

	if w.retry != nil && w.retry.ShouldRetry(err, item.Attempt) {
		if w.requeue(ctx, item, err, log) {
			delta.RequestsRetried++
			metrics.ObserveRequest(string(req.Type()), metrics.OutcomeRetried)
			w.merge(delta)
			return
		}
	}

	delta.RequestsDropped++
	metrics.ObserveRequest(string(req.Type()), metrics.OutcomeDropped)
	log.Error("request failed too many times and will be dropped",
		zap.String("unique_key", req.UniqueKey()),
		zap.Error(err),
	)
	w.merge(delta)
}

// requeue waits out the backoff and puts the item back, resumed past any
// progress the failed attempt persisted.
func (w *Worker) requeue(ctx context.Context, item crawler.QueueItem, cause error, log *zap.Logger) bool {
	backoff := w.retry.Backoff(item.Attempt)
	if backoff > 0 {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	next := item
	persisted := crawler.PersistedBefore(cause)
	if r, ok := item.Request.(crawler.Resumable); ok && persisted > 0 {
		next.Request = r.Resume(persisted)
	}
	if err := w.queue.Retry(ctx, next); err != nil {
		log.Warn("could not requeue failed request", zap.Error(err))
		return false
	}
	log.Warn("request failed; retrying with a new session",
		zap.Duration("backoff", backoff),
		zap.Int("persisted", persisted),
		zap.Error(cause),
	)
	return true
}

// execute leases a session and dispatches the request to its stage.
func (w *Worker) execute(ctx context.Context, item crawler.QueueItem, log *zap.Logger) (crawler.RunStats, error) {
	session, err := w.sessions.Acquire(ctx)
	if err != nil {
		return crawler.RunStats{}, crawler.Retryable(fmt.Errorf("acquire session: %w", err), 0)
	}
	defer w.sessions.Release(session)

	reqCtx := ctx
	if w.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, w.cfg.RequestTimeout)
		defer cancel()
	}
	rc := &crawler.RequestContext{
		Page:    session.Page(),
		Session: session,
		Logger:  log.With(zap.String("session", session.ID())),
		Attempt: item.Attempt,
	}

	stats, err := w.dispatch(reqCtx, rc, item.Request)
	if err != nil && ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) && !crawler.IsRetryable(err) {
		session.MarkBad()
		err = crawler.Retryable(fmt.Errorf("request timed out after %s: %w", w.cfg.RequestTimeout, err), 0)
	}
	return stats, err
}

func (w *Worker) dispatch(ctx context.Context, rc *crawler.RequestContext, req crawler.Request) (crawler.RunStats, error) {
	switch r := req.(type) {
	case crawler.SearchRequest:
		return w.stages.Search.Handle(ctx, rc, r)
	case crawler.PlaceDetailRequest:
		return w.stages.Place.Handle(ctx, rc, r)
	case crawler.ReviewsRequest:
		return w.stages.Reviews.Handle(ctx, rc, r)
	default:
		return crawler.RunStats{}, fmt.Errorf("%w: %T", crawler.ErrUnknownRequest, req)
	}
}

func (w *Worker) merge(delta crawler.RunStats) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Merge(delta)
}
