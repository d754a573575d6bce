package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/enrich"
	"github.com/JakeFAU/placescrawler/internal/extract"
	"github.com/JakeFAU/placescrawler/internal/metrics"
)

const placeTitleSelector = "h1"

// Enricher runs the website enrichment flows for a place.
type Enricher interface {
	Contacts(ctx context.Context, website string) (*enrich.ContactsResult, error)
	Leads(ctx context.Context, website, placeID string) ([]crawler.Lead, error)
	SocialProfiles(ctx context.Context, website string, networks []crawler.SocialNetwork) ([]crawler.SocialProfile, error)
}

// PlaceOptions are the run-level switches the place stage honors.
type PlaceOptions struct {
	ExtractReviews bool
	MaxReviews     int
	EnrichContacts bool
	EnrichLeads    bool
	SocialNetworks []crawler.SocialNetwork
}

// Place renders a listing, enriches it and persists it.
type Place struct {
	cfg      Config
	opts     PlaceOptions
	detector BlockDetector
	enricher Enricher
	sink     crawler.RecordSink
	queue    crawler.Enqueuer
	hasher   crawler.Hasher
	clock    crawler.Clock
	logger   *zap.Logger
}

// PlaceDeps groups the place stage collaborators.
type PlaceDeps struct {
	Detector BlockDetector
	Enricher Enricher
	Sink     crawler.RecordSink
	Queue    crawler.Enqueuer
	Hasher   crawler.Hasher
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// NewPlace wires the place stage. A nil Enricher disables enrichment.
func NewPlace(cfg Config, opts PlaceOptions, deps PlaceDeps) *Place {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Place{
		cfg:      cfg.withDefaults(),
		opts:     opts,
		detector: deps.Detector,
		enricher: deps.Enricher,
		sink:     deps.Sink,
		queue:    deps.Queue,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		logger:   logger.Named("place"),
	}
}

// Handle persists one place and schedules its first REVIEWS request.
// Parse failures are logged and skipped; soft blocks are retried.
func (s *Place) Handle(ctx context.Context, rc *crawler.RequestContext, req crawler.PlaceDetailRequest) (crawler.RunStats, error) {
	var stats crawler.RunStats
	log := requestLogger(rc, s.logger).With(
		zap.String("search_job_id", req.SearchJobID),
		zap.String("url", req.PlaceURL),
	)
	page := rc.Page

	if err := arriveAt(ctx, rc, req.PlaceURL, extract.NormalizePlaceURL, log); err != nil {
		log.Warn("could not load place detail; retrying with a new session", zap.Error(err))
		return stats, err
	}
	if err := page.WaitVisible(ctx, placeTitleSelector, s.cfg.WaitTimeout); err != nil {
		log.Warn("timed out waiting for place panel", zap.Error(err))
	}
	if err := checkBlocked(ctx, rc, s.detector, 0); err != nil {
		log.Warn("soft block on place detail; retrying with a new session", zap.Error(err))
		return stats, err
	}

	doc, err := page.Document(ctx)
	if err != nil {
		return stats, fmt.Errorf("snapshot place page: %w", err)
	}
	pageURL, err := page.CurrentURL(ctx)
	if err != nil || pageURL == "" {
		pageURL = req.PlaceURL
	}
	place, err := extract.PlaceDetail(doc, pageURL, s.clock.Now())
	if err != nil {
		log.Error("failed to parse place detail; skipping", zap.Error(err))
		return stats, nil
	}
	s.resolveIdentity(&place, req, pageURL)
	place.SearchJobID = req.SearchJobID
	log = log.With(zap.String("place_id", place.ID))

	stats.Enrichment = s.enrich(ctx, log, &place)

	if place.Title == "" || !place.HasCoordinates() {
		log.Warn("place detail is missing critical fields",
			zap.String("title", place.Title),
			zap.Bool("has_location", place.HasCoordinates()),
		)
	}
	if err := s.sink.Append(ctx, crawler.CollectionPlaces, place); err != nil {
		return stats, fmt.Errorf("persist place %s: %w", place.ID, err)
	}
	stats.PlacesScraped = 1
	metrics.AddPlaces(1)
	log.Info("saved place detail", zap.String("title", place.Title))

	if s.opts.ExtractReviews && s.opts.MaxReviews > 0 {
		placeURL := place.GoogleMapsURL
		if placeURL == "" {
			placeURL = req.PlaceURL
		}
		reviewsPlaceID := place.PlaceID
		if reviewsPlaceID == "" {
			reviewsPlaceID = extract.PlaceIDFromURL(placeURL)
		}
		if reviewsPlaceID == "" {
			reviewsPlaceID = place.ID
		}
		if _, err := s.queue.Enqueue(ctx, crawler.ReviewsRequest{
			SearchJobID: req.SearchJobID,
			PlaceID:     reviewsPlaceID,
			PlaceURL:    placeURL,
			MaxReviews:  s.opts.MaxReviews,
		}); err != nil {
			return stats, fmt.Errorf("enqueue reviews for %s: %w", place.ID, err)
		}
		log.Debug("enqueued reviews request", zap.Int("max_reviews", s.opts.MaxReviews))
	}
	return stats, nil
}

// resolveIdentity merges URL and request identifiers into place. An explicit
// placeid in the page URL beats the one discovered during search.
func (s *Place) resolveIdentity(place *crawler.Place, req crawler.PlaceDetailRequest, pageURL string) {
	urlPlaceID, urlCID := extract.URLIdentifiers(pageURL)

	placeID := req.PlaceID
	if placeID == "" {
		placeID = place.PlaceID
	}
	if urlPlaceID != "" {
		placeID = urlPlaceID
	}
	cid := place.CID
	if urlCID != "" {
		cid = urlCID
	}
	canonical := extract.NormalizePlaceURL(pageURL)

	place.PlaceID = placeID
	place.CID = cid
	place.GoogleMapsURL = canonical
	switch {
	case placeID != "":
		place.ID = placeID
	case cid != "":
		place.ID = cid
	case canonical != "":
		place.ID = canonical
	default:
		place.ID = "place-" + shortDigest(s.hasher, req.PlaceURL)
	}
}

// enrich runs each enabled flow in turn; a failing flow only costs its own data.
func (s *Place) enrich(ctx context.Context, log *zap.Logger, place *crawler.Place) crawler.EnrichmentStats {
	var stats crawler.EnrichmentStats
	if s.enricher == nil || place.Website == "" {
		return stats
	}

	if s.opts.EnrichContacts {
		res, err := s.enricher.Contacts(ctx, place.Website)
		switch {
		case err != nil:
			metrics.ObserveEnrichment("contacts", "failed")
			log.Warn("contacts enrichment failed", zap.Error(err))
		case res != nil:
			bag := ensureEnrichment(place)
			contacts := res.Contacts
			bag.Contacts = &contacts
			if place.AdditionalInfo == nil {
				place.AdditionalInfo = map[string]any{}
			}
			place.AdditionalInfo["contactPageUrls"] = res.ContactPageURLs
			stats.ContactsEnriched++
			metrics.ObserveEnrichment("contacts", "found")
		default:
			metrics.ObserveEnrichment("contacts", "empty")
		}
	}

	if s.opts.EnrichLeads {
		owner := place.PlaceID
		if owner == "" {
			owner = place.ID
		}
		leads, err := s.enricher.Leads(ctx, place.Website, owner)
		if err == nil && len(leads) > 0 {
			err = s.sink.Append(ctx, crawler.CollectionLeads, leadRecords(leads)...)
		}
		switch {
		case err != nil:
			metrics.ObserveEnrichment("leads", "failed")
			log.Warn("leads enrichment failed", zap.Error(err))
		case len(leads) > 0:
			bag := ensureEnrichment(place)
			bag.Leads = append(bag.Leads, leads...)
			stats.LeadsEnriched += len(leads)
			metrics.AddLeads(len(leads))
			metrics.ObserveEnrichment("leads", "found")
		default:
			metrics.ObserveEnrichment("leads", "empty")
		}
	}

	if len(s.opts.SocialNetworks) > 0 {
		profiles, err := s.enricher.SocialProfiles(ctx, place.Website, s.opts.SocialNetworks)
		switch {
		case err != nil:
			metrics.ObserveEnrichment("social", "failed")
			log.Warn("social enrichment failed", zap.Error(err))
		case len(profiles) > 0:
			bag := ensureEnrichment(place)
			bag.SocialProfiles = append(bag.SocialProfiles, profiles...)
			stats.SocialProfilesEnriched += len(bag.SocialProfiles)
			metrics.ObserveEnrichment("social", "found")
		default:
			metrics.ObserveEnrichment("social", "empty")
		}
	}
	return stats
}

func ensureEnrichment(place *crawler.Place) *crawler.Enrichment {
	if place.Enrichment == nil {
		place.Enrichment = &crawler.Enrichment{}
	}
	return place.Enrichment
}

func leadRecords(leads []crawler.Lead) []any {
	out := make([]any, len(leads))
	for i, l := range leads {
		out[i] = l
	}
	return out
}

func shortDigest(hasher crawler.Hasher, value string) string {
	sum := hasher.HashString(value)
	if len(sum) > 16 {
		return sum[:16]
	}
	return sum
}
