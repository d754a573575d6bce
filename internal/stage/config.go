// Package stage implements the three request handlers: SEARCH fans a job
// out into place requests, PLACE_DETAIL persists a listing, and REVIEWS
// pages through a listing's reviews.
package stage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/geo"
)

// Defaults mirror the browsing behavior the crawler was tuned with.
const (
	DefaultSearchScrollIterations = 50
	DefaultReviewScrollIterations = 100
	DefaultStagnationPasses       = 3
	DefaultReviewFlushSize        = 100
	DefaultReviewsPerRequest      = 5000
	DefaultMaxReviews             = 5000
	DefaultWaitTimeout            = 30 * time.Second
	DefaultScrollDelay            = 500 * time.Millisecond
	DefaultScrollJitter           = 500 * time.Millisecond
	DefaultPanelDelay             = time.Second
)

// Config tunes scrolling, waiting and paging.
type Config struct {
	WaitTimeout            time.Duration
	SearchScrollIterations int
	ReviewScrollIterations int
	StagnationPasses       int
	ReviewFlushSize        int
	ReviewsPerRequest      int
	// ScrollDelay plus up to ScrollJitter is slept after every scroll.
	ScrollDelay  time.Duration
	ScrollJitter time.Duration
	PanelDelay   time.Duration
	Tiling       geo.Options
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		WaitTimeout:            DefaultWaitTimeout,
		SearchScrollIterations: DefaultSearchScrollIterations,
		ReviewScrollIterations: DefaultReviewScrollIterations,
		StagnationPasses:       DefaultStagnationPasses,
		ReviewFlushSize:        DefaultReviewFlushSize,
		ReviewsPerRequest:      DefaultReviewsPerRequest,
		ScrollDelay:            DefaultScrollDelay,
		ScrollJitter:           DefaultScrollJitter,
		PanelDelay:             DefaultPanelDelay,
	}
}

// withDefaults fills zero caps; delays may legitimately be zero.
func (c Config) withDefaults() Config {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.SearchScrollIterations <= 0 {
		c.SearchScrollIterations = DefaultSearchScrollIterations
	}
	if c.ReviewScrollIterations <= 0 {
		c.ReviewScrollIterations = DefaultReviewScrollIterations
	}
	if c.StagnationPasses <= 0 {
		c.StagnationPasses = DefaultStagnationPasses
	}
	if c.ReviewFlushSize <= 0 {
		c.ReviewFlushSize = DefaultReviewFlushSize
	}
	if c.ReviewsPerRequest <= 0 {
		c.ReviewsPerRequest = DefaultReviewsPerRequest
	}
	return c
}

// BlockDetector reports whether the page shows an anti-bot interstitial.
type BlockDetector interface {
	Check(ctx context.Context, page crawler.Page) (bool, error)
}

// Deduper is a named seen-set.
type Deduper interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
}

// checkBlocked runs the detector and converts a hit into a retryable
// ErrSoftBlocked after marking the session bad.
func checkBlocked(ctx context.Context, rc *crawler.RequestContext, detector BlockDetector, persisted int) error {
	blocked, err := detector.Check(ctx, rc.Page)
	if err != nil {
		return fmt.Errorf("block check: %w", err)
	}
	if !blocked {
		return nil
	}
	if rc.Session != nil {
		rc.Session.MarkBad()
	}
	return crawler.Retryable(crawler.ErrSoftBlocked, persisted)
}

func pause(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// onPage navigates unless the page already shows target, comparing
// normalized place URLs.
func onPage(ctx context.Context, page crawler.Page, target string, normalize func(string) string) (bool, error) {
	current, err := page.CurrentURL(ctx)
	if err == nil && current != "" && normalize(current) == normalize(target) {
		return false, nil
	}
	if err := page.Navigate(ctx, target); err != nil {
		return true, fmt.Errorf("navigate to %s: %w", target, err)
	}
	return true, nil
}

// arriveAt loads target into the request's tab. A navigation error is
// tolerated only when the tab still ended up on target; otherwise the tab
// holds the previous request's page, so the session is poisoned and the
// request retried.
func arriveAt(ctx context.Context, rc *crawler.RequestContext, target string, normalize func(string) string, log *zap.Logger) error {
	_, err := onPage(ctx, rc.Page, target, normalize)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if !crawler.IsRetryable(err) {
		current, cerr := rc.Page.CurrentURL(ctx)
		if cerr == nil && current != "" && normalize(current) == normalize(target) {
			log.Warn("navigation reported an error but the page loaded", zap.Error(err))
			return nil
		}
	}
	if rc.Session != nil {
		rc.Session.MarkBad()
	}
	return crawler.Retryable(err, 0)
}
