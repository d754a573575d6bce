package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestUniqueKeys(t *testing.T) {
	t.Parallel()

	search := SearchRequest{SearchJobID: "job-1"}
	assert.Equal(t, "job-1::https://www.google.com/maps", search.UniqueKey())
	assert.Equal(t, RequestSearch, search.Type())
	assert.Equal(t, MapsHomeURL, search.URL())

	place := PlaceDetailRequest{SearchJobID: "job-1", PlaceURL: "https://www.google.com/maps/place/A"}
	assert.Equal(t, place.PlaceURL, place.UniqueKey())
	place.Key = "placeId-ChIJ1"
	assert.Equal(t, "placeId-ChIJ1", place.UniqueKey())
	assert.Equal(t, "job-1", place.JobID())

	reviews := ReviewsRequest{PlaceURL: "https://www.google.com/maps/place/A", Offset: 200}
	assert.Equal(t, "https://www.google.com/maps/place/A::reviews::200", reviews.UniqueKey())
	assert.Equal(t, RequestReviews, reviews.Type())
}

func TestResumeAdvancesPastPersistedWork(t *testing.T) {
	t.Parallel()

	reviews := ReviewsRequest{Offset: 100, AccumulatedCount: 100, MaxReviews: 500}
	resumed := reviews.Resume(40).(ReviewsRequest)
	assert.Equal(t, 140, resumed.Offset)
	assert.Equal(t, 140, resumed.AccumulatedCount)
	assert.Equal(t, 500, resumed.MaxReviews)
	assert.Equal(t, 100, reviews.Offset, "receiver is a copy")
	assert.Equal(t, reviews, reviews.Resume(0))

	search := SearchRequest{SearchJobID: "job-1", Enqueued: 2}
	assert.Equal(t, 5, search.Resume(3).(SearchRequest).Enqueued)
	assert.Equal(t, 2, search.Resume(-1).(SearchRequest).Enqueued)

	var _ Resumable = search
	var _ Resumable = reviews
}

func TestRunStatsMerge(t *testing.T) {
	t.Parallel()

	total := RunStats{PlacesScraped: 1, Enrichment: EnrichmentStats{LeadsEnriched: 1}}
	total.Merge(RunStats{
		PlacesScraped:     2,
		ReviewsScraped:    7,
		PlacesEnqueued:    3,
		Enrichment:        EnrichmentStats{ContactsEnriched: 1, LeadsEnriched: 1, SocialProfilesEnriched: 2},
		RequestsSucceeded: 4,
		RequestsRetried:   1,
		RequestsDropped:   1,
		SoftBlocks:        2,
	})
	assert.Equal(t, RunStats{
		PlacesScraped:     3,
		ReviewsScraped:    7,
		PlacesEnqueued:    3,
		Enrichment:        EnrichmentStats{ContactsEnriched: 1, LeadsEnriched: 2, SocialProfilesEnriched: 2},
		RequestsSucceeded: 4,
		RequestsRetried:   1,
		RequestsDropped:   1,
		SoftBlocks:        2,
	}, total)
}

func TestNewSummaryCopiesCounts(t *testing.T) {
	t.Parallel()

	stats := RunStats{PlacesScraped: 4, ReviewsScraped: 9, Enrichment: EnrichmentStats{ContactsEnriched: 2}}
	s := NewSummary("run-1", stats, fixedTime(0), fixedTime(90))
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 4, s.PlacesScraped)
	assert.Equal(t, 9, s.ReviewsScraped)
	assert.Equal(t, 2, s.Enrichment.ContactsEnriched)
	assert.Equal(t, fixedTime(90).Sub(fixedTime(0)), s.FinishedAt.Sub(s.StartedAt))
}

func TestPlaceHasCoordinates(t *testing.T) {
	t.Parallel()

	assert.False(t, Place{}.HasCoordinates())
	assert.False(t, Place{Location: &LatLng{Lat: 40.1}}.HasCoordinates())
	assert.True(t, Place{Location: &LatLng{Lat: 40.1, Lng: -88.2}}.HasCoordinates())
}
