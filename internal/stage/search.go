package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/extract"
	"github.com/JakeFAU/placescrawler/internal/geo"
)

// Search tiles a job's area and enqueues a PLACE_DETAIL request per newly
// discovered place.
type Search struct {
	cfg      Config
	detector BlockDetector
	places   Deduper
	queue    crawler.Enqueuer
	logger   *zap.Logger
}

// NewSearch wires the search stage.
func NewSearch(cfg Config, detector BlockDetector, places Deduper, queue crawler.Enqueuer, logger *zap.Logger) *Search {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Search{
		cfg:      cfg.withDefaults(),
		detector: detector,
		places:   places,
		queue:    queue,
		logger:   logger.Named("search"),
	}
}

// Handle runs every tile until the job's place budget is spent. A failing
// tile marks the session bad and fails the request so it is retried.
func (s *Search) Handle(ctx context.Context, rc *crawler.RequestContext, req crawler.SearchRequest) (crawler.RunStats, error) {
	var stats crawler.RunStats
	job := req.Job
	log := requestLogger(rc, s.logger).With(zap.String("search_job_id", job.ID))

	tiles, err := geo.TilesFor(job, s.cfg.Tiling)
	if err != nil {
		return stats, fmt.Errorf("tile search job %s: %w", job.ID, err)
	}
	log.Info("generated tiles for search job", zap.Int("tile_count", len(tiles)))

	limit := job.MaxPlacesPerSearch
	enqueued := req.Enqueued
	for _, tile := range tiles {
		if enqueued >= limit {
			break
		}
		searchURL := extract.SearchURL(job, tile)
		tileLog := log.With(zap.String("tile_id", tile.ID))
		tileLog.Debug("processing tile", zap.String("url", searchURL))

		summaries, err := s.collect(ctx, rc, tileLog, searchURL, limit)
		if err != nil {
			tileLog.Warn("tile processing failed; retrying search on a new session", zap.Error(err))
			if rc.Session != nil {
				rc.Session.MarkBad()
			}
			return stats, crawler.Retryable(fmt.Errorf("tile %s: %w", tile.ID, err), stats.PlacesEnqueued)
		}
		tileLog.Info("discovered places from tile", zap.Int("sidebar_place_count", len(summaries)))

		for _, summary := range summaries {
			if summary.PlaceURL == "" {
				continue
			}
			placeID := extract.PlaceIDFromURL(summary.PlaceURL)
			key := extract.PlaceUniqueKey(placeID, summary.PlaceURL)
			if key == "" {
				continue
			}
			dup, err := s.places.IsDuplicate(ctx, key)
			if err != nil {
				return stats, fmt.Errorf("place dedup: %w", err)
			}
			if dup {
				continue
			}
			if _, err := s.queue.Enqueue(ctx, crawler.PlaceDetailRequest{
				SearchJobID: job.ID,
				PlaceID:     placeID,
				PlaceURL:    summary.PlaceURL,
				Key:         key,
			}); err != nil {
				return stats, fmt.Errorf("enqueue place %s: %w", key, err)
			}
			enqueued++
			stats.PlacesEnqueued++
			if enqueued >= limit {
				log.Info("reached max places for search job", zap.Int("enqueued", enqueued))
				break
			}
		}
	}

	log.Info("finished search job", zap.Int("tile_count", len(tiles)), zap.Int("enqueued", enqueued))
	return stats, nil
}

// collect scrolls one tile's result feed, deduplicating by URL within the
// pass, until the limit, stagnation or the iteration cap.
func (s *Search) collect(
	ctx context.Context,
	rc *crawler.RequestContext,
	log *zap.Logger,
	searchURL string,
	limit int,
) ([]extract.PlaceSummary, error) {
	page := rc.Page
	if err := page.Navigate(ctx, searchURL); err != nil {
		return nil, fmt.Errorf("navigate to search: %w", err)
	}
	if err := checkBlocked(ctx, rc, s.detector, 0); err != nil {
		return nil, fmt.Errorf("before results load: %w", err)
	}
	if err := page.WaitVisible(ctx, extract.SidebarFeedSelector, s.cfg.WaitTimeout); err != nil {
		return nil, fmt.Errorf("wait for results feed: %w", err)
	}

	seen := make(map[string]struct{})
	var collected []extract.PlaceSummary
	previous, stagnant := 0, 0

	for i := 0; i < s.cfg.SearchScrollIterations; i++ {
		doc, err := page.Document(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot results: %w", err)
		}
		for _, summary := range extract.SidebarSummaries(doc) {
			if summary.PlaceURL == "" {
				continue
			}
			if _, ok := seen[summary.PlaceURL]; ok {
				continue
			}
			seen[summary.PlaceURL] = struct{}{}
			collected = append(collected, summary)
			if len(collected) >= limit {
				break
			}
		}
		if len(collected) >= limit {
			break
		}

		if len(collected) == previous {
			stagnant++
		} else {
			stagnant = 0
		}
		if stagnant >= s.cfg.StagnationPasses {
			log.Debug("no new results after scrolling; stopping", zap.Int("count", len(collected)))
			break
		}

		if err := page.ScrollBy(ctx, extract.SidebarFeedSelector, crawler.ScrollToEnd); err != nil {
			return nil, fmt.Errorf("scroll results: %w", err)
		}
		if err := pause(ctx, s.cfg.ScrollDelay, s.cfg.ScrollJitter); err != nil {
			return nil, fmt.Errorf("scroll delay: %w", err)
		}
		if err := checkBlocked(ctx, rc, s.detector, 0); err != nil {
			return nil, fmt.Errorf("while scrolling results: %w", err)
		}
		previous = len(collected)
	}
	return collected, nil
}

func requestLogger(rc *crawler.RequestContext, fallback *zap.Logger) *zap.Logger {
	if rc != nil && rc.Logger != nil {
		return rc.Logger
	}
	return fallback
}
