package stage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/extract"
	"github.com/JakeFAU/placescrawler/internal/metrics"
)

// Reviews scrolls a place's review panel and chains follow-up requests
// until the place's review budget is met.
type Reviews struct {
	cfg      Config
	detector BlockDetector
	reviews  Deduper
	sink     crawler.RecordSink
	queue    crawler.Enqueuer
	hasher   crawler.Hasher
	clock    crawler.Clock
	logger   *zap.Logger
}

// ReviewsDeps groups the reviews stage collaborators.
type ReviewsDeps struct {
	Detector BlockDetector
	Dedup    Deduper
	Sink     crawler.RecordSink
	Queue    crawler.Enqueuer
	Hasher   crawler.Hasher
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// NewReviews wires the reviews stage.
func NewReviews(cfg Config, deps ReviewsDeps) *Reviews {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviews{
		cfg:      cfg.withDefaults(),
		detector: deps.Detector,
		reviews:  deps.Dedup,
		sink:     deps.Sink,
		queue:    deps.Queue,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		logger:   logger.Named("reviews"),
	}
}

// reviewBuffer batches review records and tracks how many reached the sink.
type reviewBuffer struct {
	sink    crawler.RecordSink
	pending []any
	flushed int
}

func (b *reviewBuffer) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.sink.Append(ctx, crawler.CollectionReviews, b.pending...); err != nil {
		return fmt.Errorf("persist reviews: %w", err)
	}
	b.flushed += len(b.pending)
	b.pending = b.pending[:0]
	return nil
}

// Handle scrapes up to min(max-accumulated, per-request cap) new reviews.
// On a mid-scroll block the buffer is flushed first and the error reports
// how many reviews were persisted, so the retry resumes past them.
func (s *Reviews) Handle(ctx context.Context, rc *crawler.RequestContext, req crawler.ReviewsRequest) (crawler.RunStats, error) {
	var stats crawler.RunStats
	log := requestLogger(rc, s.logger).With(
		zap.String("search_job_id", req.SearchJobID),
		zap.String("place_id", req.PlaceID),
		zap.Int("offset", req.Offset),
	)

	maxReviews := req.MaxReviews
	if maxReviews < 0 {
		maxReviews = DefaultMaxReviews
	}
	target := min(maxReviews-req.AccumulatedCount, s.cfg.ReviewsPerRequest)
	if target <= 0 {
		log.Info("review budget already met for place",
			zap.Int("accumulated", req.AccumulatedCount),
			zap.Int("max_reviews", maxReviews),
		)
		return stats, nil
	}

	page := rc.Page
	if err := arriveAt(ctx, rc, req.PlaceURL, extract.NormalizePlaceURL, log); err != nil {
		log.Warn("could not load place page for reviews; retrying with a new session", zap.Error(err))
		return stats, err
	}
	if err := checkBlocked(ctx, rc, s.detector, 0); err != nil {
		log.Warn("soft block before opening reviews; retrying with a new session", zap.Error(err))
		return stats, err
	}

	if err := s.openPanel(ctx, page, log); err != nil {
		return stats, err
	}
	if err := page.WaitVisible(ctx, extract.ReviewCardSelector, s.cfg.WaitTimeout); err != nil {
		log.Warn("no review cards visible; proceeding with what is rendered", zap.Error(err))
	}

	placeKey := extract.PlaceIDFromURL(req.PlaceURL)
	if placeKey == "" {
		placeKey = extract.NormalizePlaceURL(req.PlaceURL)
	}
	placeID := req.PlaceID
	if placeID == "" {
		placeID = placeKey
	}

	buf := &reviewBuffer{sink: s.sink}
	scraped, stagnant, rendered := 0, 0, 0

loop:
	for i := 0; i < s.cfg.ReviewScrollIterations; i++ {
		doc, err := page.Document(ctx)
		if err != nil {
			return stats, s.failAfterFlush(ctx, buf, fmt.Errorf("snapshot reviews: %w", err), &stats)
		}
		fresh := 0
		now := s.clock.Now()
		cards := extract.ReviewCards(doc)
		// Follow-up requests rescan cards kept by earlier links; scrolling
		// past them still reveals new cards and is not stagnation.
		grew := len(cards) > rendered
		rendered = max(rendered, len(cards))
		for _, parsed := range cards {
			if scraped >= target {
				break
			}
			key := extract.ReviewUniqueKey(placeKey, parsed, s.hasher)
			dup, err := s.reviews.IsDuplicate(ctx, key)
			if err != nil {
				return stats, s.failAfterFlush(ctx, buf, fmt.Errorf("review dedup: %w", err), &stats)
			}
			if dup {
				continue
			}
			buf.pending = append(buf.pending, toReview(parsed, key, placeID, req.SearchJobID, now))
			scraped++
			fresh++
			if len(buf.pending) >= s.cfg.ReviewFlushSize {
				if err := buf.flush(ctx); err != nil {
					return stats, s.failAfterFlush(ctx, buf, err, &stats)
				}
			}
		}

		switch {
		case scraped >= target:
			log.Info("reached per-request review limit", zap.Int("scraped", scraped))
			break loop
		case fresh == 0 && !grew:
			stagnant++
		default:
			stagnant = 0
		}
		if stagnant >= s.cfg.StagnationPasses {
			log.Info("no new reviews after scrolling; assuming end of list", zap.Int("scraped", scraped))
			break
		}

		if err := page.ScrollBy(ctx, extract.ReviewsContainerSelector, crawler.ScrollOneScreen); err != nil {
			return stats, s.failAfterFlush(ctx, buf, fmt.Errorf("scroll reviews: %w", err), &stats)
		}
		if err := pause(ctx, s.cfg.ScrollDelay, s.cfg.ScrollJitter); err != nil {
			return stats, s.failAfterFlush(ctx, buf, fmt.Errorf("scroll delay: %w", err), &stats)
		}
		if err := checkBlocked(ctx, rc, s.detector, 0); err != nil {
			log.Warn("soft block while scrolling reviews; retrying with a new session", zap.Error(err))
			return stats, s.failAfterFlush(ctx, buf, err, &stats)
		}
	}

	if err := buf.flush(ctx); err != nil {
		return stats, s.failAfterFlush(ctx, buf, err, &stats)
	}
	stats.ReviewsScraped = buf.flushed
	metrics.AddReviews(buf.flushed)

	totalAfter := req.AccumulatedCount + scraped
	log.Info("finished reviews request",
		zap.Int("scraped", scraped),
		zap.Int("total_after", totalAfter),
		zap.Int("max_reviews", maxReviews),
	)

	if scraped >= target && totalAfter < maxReviews {
		next := crawler.ReviewsRequest{
			SearchJobID:      req.SearchJobID,
			PlaceID:          placeID,
			PlaceURL:         req.PlaceURL,
			Offset:           req.Offset + scraped,
			AccumulatedCount: totalAfter,
			MaxReviews:       maxReviews,
		}
		if _, err := s.queue.Enqueue(ctx, next); err != nil {
			return stats, fmt.Errorf("enqueue follow-up reviews: %w", err)
		}
		log.Info("enqueued follow-up reviews request", zap.Int("next_offset", next.Offset))
	}
	return stats, nil
}

// failAfterFlush persists buffered reviews before surfacing cause, recording
// the flushed count on the returned error.
func (s *Reviews) failAfterFlush(ctx context.Context, buf *reviewBuffer, cause error, stats *crawler.RunStats) error {
	if err := buf.flush(ctx); err != nil {
		s.logger.Warn("could not flush reviews before failing", zap.Error(err))
	}
	stats.ReviewsScraped = buf.flushed
	metrics.AddReviews(buf.flushed)
	if crawler.IsRetryable(cause) || buf.flushed > 0 {
		return &crawler.RetryableError{Err: cause, Persisted: buf.flushed}
	}
	return cause
}

// openPanel reveals the review list unless cards are already rendered.
func (s *Reviews) openPanel(ctx context.Context, page crawler.Page, log *zap.Logger) error {
	if hasCards(ctx, page) {
		return nil
	}
	for _, selector := range extract.OpenReviewsSelectors {
		clicked, err := page.Click(ctx, selector)
		if err != nil {
			log.Debug("reviews panel click failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if !clicked {
			continue
		}
		if err := pause(ctx, s.cfg.PanelDelay, 0); err != nil {
			return fmt.Errorf("reviews panel delay: %w", err)
		}
		if hasCards(ctx, page) {
			log.Debug("opened reviews panel", zap.String("selector", selector))
			return nil
		}
	}
	log.Warn("unable to open reviews panel; proceeding with visible content")
	return nil
}

func hasCards(ctx context.Context, page crawler.Page) bool {
	doc, err := page.Document(ctx)
	return err == nil && doc.Find(extract.ReviewCardSelector).Length() > 0
}

func toReview(p extract.ParsedReview, key, placeID, jobID string, now time.Time) crawler.Review {
	id := p.ReviewID
	if id == "" {
		id = key
	}
	return crawler.Review{
		ID:                 id,
		PlaceID:            placeID,
		SearchJobID:        jobID,
		ReviewerName:       p.ReviewerName,
		ReviewerProfileURL: p.ReviewerProfileURL,
		ReviewerPhotoURL:   p.ReviewerPhotoURL,
		Text:               p.Text,
		Rating:             p.Rating,
		LikesCount:         p.LikesCount,
		IsLocalGuide:       p.IsLocalGuide,
		ReviewImages:       p.ReviewImages,
		OwnerResponse:      p.OwnerResponse,
		PublishedAt:        p.PublishedAt,
		ScrapedAt:          now,
	}
}
