// Package dispatcher fans queue work out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/worker"
)

// Dispatcher owns the queue and the worker pool draining it.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Seed enqueues the initial requests of a run.
func (d *Dispatcher) Seed(ctx context.Context, reqs ...crawler.Request) (int, error) {
	added := 0
	for _, req := range reqs {
		ok, err := d.queue.Enqueue(ctx, req)
		if err != nil {
			return added, fmt.Errorf("queue enqueue: %w", err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// Run starts all workers and blocks until every one has exited. The first
// worker error cancels the rest.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	return nil
}

// Stats merges the statistics of every worker. Safe to call while running.
func (d *Dispatcher) Stats() crawler.RunStats {
	var total crawler.RunStats
	for _, w := range d.workers {
		total.Merge(w.Stats())
	}
	return total
}
