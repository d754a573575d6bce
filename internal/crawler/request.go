package crawler

import (
	"fmt"
	"strconv"
)

// MapsHomeURL is the landing URL attached to SEARCH requests.
const MapsHomeURL = "https://www.google.com/maps"

// RequestType tags the variants of Request.
type RequestType string

// Request variants.
const (
	RequestSearch      RequestType = "SEARCH"
	RequestPlaceDetail RequestType = "PLACE_DETAIL"
	RequestReviews     RequestType = "REVIEWS"
)

// Request is the closed sum type carried by the queue. The only
// implementations are SearchRequest, PlaceDetailRequest and ReviewsRequest.
type Request interface {
	Type() RequestType
	// UniqueKey identifies the request for queue-level dedup.
	UniqueKey() string
	URL() string
	JobID() string
	isRequest()
}

// SearchRequest asks the search stage to tile and scan one job.
type SearchRequest struct {
	SearchJobID string
	Job         SearchJob
	// Enqueued counts places already enqueued by earlier failed attempts.
	Enqueued int
}

// Type implements Request.
func (SearchRequest) Type() RequestType { return RequestSearch }

// URL implements Request.
func (SearchRequest) URL() string { return MapsHomeURL }

// JobID implements Request.
func (r SearchRequest) JobID() string { return r.SearchJobID }

// UniqueKey implements Request.
func (r SearchRequest) UniqueKey() string {
	return fmt.Sprintf("%s::%s", r.SearchJobID, MapsHomeURL)
}

// Resume returns a copy crediting places enqueued by a failed attempt.
func (r SearchRequest) Resume(persisted int) Request {
	if persisted > 0 {
		r.Enqueued += persisted
	}
	return r
}

func (SearchRequest) isRequest() {}

// PlaceDetailRequest asks the place stage to fetch one listing.
type PlaceDetailRequest struct {
	SearchJobID string
	PlaceID     string
	PlaceURL    string
	// Key is the place identity key computed when the request was discovered.
	Key string
}

// Type implements Request.
func (PlaceDetailRequest) Type() RequestType { return RequestPlaceDetail }

// URL implements Request.
func (r PlaceDetailRequest) URL() string { return r.PlaceURL }

// JobID implements Request.
func (r PlaceDetailRequest) JobID() string { return r.SearchJobID }

// UniqueKey implements Request.
func (r PlaceDetailRequest) UniqueKey() string {
	if r.Key != "" {
		return r.Key
	}
	return r.PlaceURL
}

func (PlaceDetailRequest) isRequest() {}

// ReviewsRequest is one link of a place's review-pagination chain.
type ReviewsRequest struct {
	SearchJobID      string
	PlaceID          string
	PlaceURL         string
	Offset           int
	AccumulatedCount int
	MaxReviews       int
}

// Type implements Request.
func (ReviewsRequest) Type() RequestType { return RequestReviews }

// URL implements Request.
func (r ReviewsRequest) URL() string { return r.PlaceURL }

// JobID implements Request.
func (r ReviewsRequest) JobID() string { return r.SearchJobID }

// UniqueKey implements Request.
func (r ReviewsRequest) UniqueKey() string {
	return r.PlaceURL + "::reviews::" + strconv.Itoa(r.Offset)
}

// Resume returns a copy advanced past reviews already persisted by a failed attempt.
func (r ReviewsRequest) Resume(persisted int) Request {
	if persisted <= 0 {
		return r
	}
	r.Offset += persisted
	r.AccumulatedCount += persisted
	return r
}

func (ReviewsRequest) isRequest() {}

// Resumable is implemented by requests that can absorb partial progress
// before being retried.
type Resumable interface {
	Resume(persisted int) Request
}

// QueueItem wraps a request ready to run.
type QueueItem struct {
	Request Request
	// Attempt counts previous failed attempts; zero on first delivery.
	Attempt int
}
