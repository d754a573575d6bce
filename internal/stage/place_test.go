package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/enrich"
	"github.com/JakeFAU/placescrawler/internal/hash/sha256"
	sinkmem "github.com/JakeFAU/placescrawler/internal/sink/memory"
)

const placePageHTML = `<html><body><div role="main">
  <div>
    <h1 class="DUwDvf">Cafe One</h1>
    <button jsaction="pane.rating.category">Coffee shop</button>
  </div>
  <button data-item-id="address">Main St 1, Springfield, IL 62701, USA</button>
  <a data-item-id="authority" href="https://cafe.example.com/">cafe.example.com</a>
</div></body></html>`

type fakeEnricher struct {
	contactsErr error
	contacts    *enrich.ContactsResult
	leads       []crawler.Lead
	leadsErr    error
	profiles    []crawler.SocialProfile
	calls       []string
}

func (f *fakeEnricher) Contacts(context.Context, string) (*enrich.ContactsResult, error) {
	f.calls = append(f.calls, "contacts")
	return f.contacts, f.contactsErr
}

func (f *fakeEnricher) Leads(_ context.Context, _ string, placeID string) ([]crawler.Lead, error) {
	f.calls = append(f.calls, "leads:"+placeID)
	return f.leads, f.leadsErr
}

func (f *fakeEnricher) SocialProfiles(context.Context, string, []crawler.SocialNetwork) ([]crawler.SocialProfile, error) {
	f.calls = append(f.calls, "social")
	return f.profiles, nil
}

type placeFixture struct {
	stage *Place
	sink  *sinkmem.Sink
	queue *recordingQueue
}

func newPlaceFixture(opts PlaceOptions, enricher Enricher) placeFixture {
	sink := sinkmem.New()
	queue := &recordingQueue{}
	deps := PlaceDeps{
		Detector: detector(),
		Sink:     sink,
		Queue:    queue,
		Hasher:   sha256.New(),
		Clock:    testClock(),
	}
	if enricher != nil {
		deps.Enricher = enricher
	}
	return placeFixture{stage: NewPlace(testConfig(), opts, deps), sink: sink, queue: queue}
}

func TestPlaceURLPlaceIDBeatsRequestPlaceID(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One") + "?placeid=ChIJ-from-url"
	site := newSite(t)
	site.Serve(target, placePageHTML)
	rc, _ := requestContext(site.NewPage())

	fx := newPlaceFixture(PlaceOptions{ExtractReviews: true, MaxReviews: 50}, nil)
	stats, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{
		SearchJobID: "job-0",
		PlaceID:     "ChIJ-from-search",
		PlaceURL:    target,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PlacesScraped)

	records := fx.sink.Records(crawler.CollectionPlaces)
	require.Len(t, records, 1)
	place := records[0].(crawler.Place)
	assert.Equal(t, "ChIJ-from-url", place.ID)
	assert.Equal(t, "ChIJ-from-url", place.PlaceID)
	assert.Equal(t, "job-0", place.SearchJobID)
	assert.Equal(t, placeURL("Cafe+One"), place.GoogleMapsURL)
	assert.Equal(t, "Cafe One", place.Title)
	assert.True(t, place.HasCoordinates())

	reviews := fx.queue.ofType(crawler.RequestReviews)
	require.Len(t, reviews, 1)
	rr := reviews[0].(crawler.ReviewsRequest)
	assert.Equal(t, "ChIJ-from-url", rr.PlaceID)
	assert.Equal(t, placeURL("Cafe+One"), rr.PlaceURL)
	assert.Zero(t, rr.Offset)
	assert.Zero(t, rr.AccumulatedCount)
	assert.Equal(t, 50, rr.MaxReviews)
}

func TestPlaceFallsBackToRequestPlaceID(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One")
	site := newSite(t)
	site.Serve(target, placePageHTML)
	rc, _ := requestContext(site.NewPage())

	fx := newPlaceFixture(PlaceOptions{}, nil)
	_, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{
		PlaceID:  "ChIJ-from-search",
		PlaceURL: target,
	})
	require.NoError(t, err)

	place := fx.sink.Records(crawler.CollectionPlaces)[0].(crawler.Place)
	assert.Equal(t, "ChIJ-from-search", place.ID)
	assert.Empty(t, fx.queue.ofType(crawler.RequestReviews))
}

func TestPlaceWithoutIdentifiersUsesCanonicalURL(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One") + "?entry=ttu"
	site := newSite(t)
	site.Serve(target, placePageHTML)
	rc, _ := requestContext(site.NewPage())

	fx := newPlaceFixture(PlaceOptions{}, nil)
	_, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{PlaceURL: target})
	require.NoError(t, err)
	place := fx.sink.Records(crawler.CollectionPlaces)[0].(crawler.Place)
	assert.Equal(t, placeURL("Cafe+One"), place.ID)
}

func TestPlaceSoftBlockMarksSessionBad(t *testing.T) {
	t.Parallel()

	target := placeURL("Blocked")
	site := newSite(t)
	site.Serve(target, captchaHTML)
	rc, sess := requestContext(site.NewPage())

	fx := newPlaceFixture(PlaceOptions{ExtractReviews: true, MaxReviews: 10}, nil)
	stats, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{PlaceURL: target})
	require.ErrorIs(t, err, crawler.ErrSoftBlocked)
	assert.True(t, crawler.IsRetryable(err))
	assert.True(t, sess.Bad())
	assert.Zero(t, stats.PlacesScraped)
	assert.Zero(t, fx.sink.Len(crawler.CollectionPlaces))
	assert.Empty(t, fx.queue.requests)
}

func TestPlaceEnrichmentFailureIsIsolated(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One") + "?placeid=P1"
	site := newSite(t)
	site.Serve(target, placePageHTML)
	rc, _ := requestContext(site.NewPage())

	enricher := &fakeEnricher{
		contactsErr: errors.New("website timed out"),
		leads: []crawler.Lead{
			{ID: "lead:1", PlaceID: "P1", FullName: "Jane"},
			{ID: "lead:2", PlaceID: "P1", FullName: "Bob"},
		},
		profiles: []crawler.SocialProfile{{Type: crawler.SocialFacebook, URL: "https://facebook.com/cafe"}},
	}
	fx := newPlaceFixture(PlaceOptions{
		EnrichContacts: true,
		EnrichLeads:    true,
		SocialNetworks: []crawler.SocialNetwork{crawler.SocialFacebook},
	}, enricher)

	stats, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{PlaceURL: target})
	require.NoError(t, err)
	assert.Equal(t, []string{"contacts", "leads:P1", "social"}, enricher.calls)

	assert.Equal(t, crawler.EnrichmentStats{LeadsEnriched: 2, SocialProfilesEnriched: 1}, stats.Enrichment)
	assert.Equal(t, 2, fx.sink.Len(crawler.CollectionLeads))

	place := fx.sink.Records(crawler.CollectionPlaces)[0].(crawler.Place)
	require.NotNil(t, place.Enrichment)
	assert.Nil(t, place.Enrichment.Contacts)
	assert.Len(t, place.Enrichment.Leads, 2)
	assert.Len(t, place.Enrichment.SocialProfiles, 1)
}

func TestPlaceContactsEnrichmentRecordsPages(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One")
	site := newSite(t)
	site.Serve(target, placePageHTML)
	rc, _ := requestContext(site.NewPage())

	enricher := &fakeEnricher{contacts: &enrich.ContactsResult{
		Contacts:        crawler.ContactEnrichment{Emails: []string{"hi@cafe.example.com"}},
		ContactPageURLs: []string{"https://cafe.example.com/contact"},
	}}
	fx := newPlaceFixture(PlaceOptions{EnrichContacts: true}, enricher)

	stats, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{PlaceURL: target})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enrichment.ContactsEnriched)

	place := fx.sink.Records(crawler.CollectionPlaces)[0].(crawler.Place)
	assert.Equal(t, []string{"hi@cafe.example.com"}, place.Enrichment.Contacts.Emails)
	assert.Equal(t, []string{"https://cafe.example.com/contact"}, place.AdditionalInfo["contactPageUrls"])
}

func TestPlaceFailedNavigationDoesNotPersistPreviousListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	site := newSite(t)
	site.Serve(placeURL("Cafe+One"), placePageHTML)
	page := site.NewPage()
	require.NoError(t, page.Navigate(ctx, placeURL("Cafe+One")))
	rc, sess := requestContext(page)

	fx := newPlaceFixture(PlaceOptions{ExtractReviews: true, MaxReviews: 10}, nil)
	stats, err := fx.stage.Handle(ctx, rc, crawler.PlaceDetailRequest{
		PlaceID:  "ChIJ-OTHER",
		PlaceURL: placeURL("Other+Place"),
	})
	require.Error(t, err)
	assert.True(t, crawler.IsRetryable(err))
	assert.True(t, sess.Bad())
	assert.Zero(t, stats.PlacesScraped)
	assert.Zero(t, fx.sink.Len(crawler.CollectionPlaces))
	assert.Empty(t, fx.queue.requests)
}

func TestPlaceNavigationErrorAfterLoadStillParses(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One")
	site := newSite(t)
	site.Serve(target, placePageHTML)
	site.FailNavigation(target, errors.New("load event timed out"))
	rc, sess := requestContext(site.NewPage())

	fx := newPlaceFixture(PlaceOptions{}, nil)
	stats, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{PlaceURL: target})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PlacesScraped)
	assert.False(t, sess.Bad())
	assert.Equal(t, "Cafe One", fx.sink.Records(crawler.CollectionPlaces)[0].(crawler.Place).Title)
}

func TestPlaceRateLimitedNavigationIsRetried(t *testing.T) {
	t.Parallel()

	target := placeURL("Cafe+One")
	site := newSite(t)
	site.Serve(target, placePageHTML)
	site.FailNavigation(target, crawler.Retryable(fmt.Errorf("status 429: %w", crawler.ErrSoftBlocked), 0))
	rc, sess := requestContext(site.NewPage())

	fx := newPlaceFixture(PlaceOptions{}, nil)
	_, err := fx.stage.Handle(context.Background(), rc, crawler.PlaceDetailRequest{PlaceURL: target})
	require.ErrorIs(t, err, crawler.ErrSoftBlocked)
	assert.True(t, crawler.IsRetryable(err))
	assert.True(t, sess.Bad())
	assert.Zero(t, fx.sink.Len(crawler.CollectionPlaces))
}
