// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"

	"github.com/paulmach/orb"
)

// Record collection names written to the RecordSink.
const (
	CollectionPlaces  = "places"
	CollectionReviews = "reviews"
	CollectionLeads   = "leads"
	CollectionSummary = "summary"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geometry is the geographic area a search job covers. Shape is an
// orb.Point, orb.Polygon or orb.MultiPolygon; RadiusKm only applies to points.
type Geometry struct {
	Shape    orb.Geometry
	RadiusKm float64
}

// SearchJob is one search term × category combination derived from input.
type SearchJob struct {
	ID                 string    `json:"id"`
	SearchTerm         string    `json:"searchTerm,omitempty"`
	Category           string    `json:"category,omitempty"`
	LocationText       string    `json:"locationText,omitempty"`
	Language           string    `json:"language"`
	MaxPlacesPerSearch int       `json:"maxCrawledPlacesPerSearch"`
	Geometry           *Geometry `json:"-"`
}

// Tile is a single map viewport queried by the search stage.
type Tile struct {
	ID     string `json:"id"`
	Center LatLng `json:"center"`
	Zoom   int    `json:"zoom"`
}

// SocialNetwork names a supported social profile type.
type SocialNetwork string

// Supported social networks.
const (
	SocialFacebook  SocialNetwork = "facebook"
	SocialInstagram SocialNetwork = "instagram"
	SocialTikTok    SocialNetwork = "tiktok"
	SocialYouTube   SocialNetwork = "youtube"
	SocialTwitter   SocialNetwork = "twitter"
)

// SocialNetworks lists every supported network in a stable order.
var SocialNetworks = []SocialNetwork{
	SocialFacebook,
	SocialInstagram,
	SocialTikTok,
	SocialYouTube,
	SocialTwitter,
}

// SocialProfile is a social account discovered on a place's website.
type SocialProfile struct {
	Type           SocialNetwork  `json:"type"`
	URL            string         `json:"url"`
	Username       string         `json:"username,omitempty"`
	DisplayName    string         `json:"displayName,omitempty"`
	FollowersCount *int           `json:"followersCount,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Lead is a person associated with a place, harvested from its website.
type Lead struct {
	ID          string `json:"id"`
	PlaceID     string `json:"placeId"`
	FullName    string `json:"fullName,omitempty"`
	JobTitle    string `json:"jobTitle,omitempty"`
	Department  string `json:"department,omitempty"`
	LinkedInURL string `json:"linkedinUrl,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
}

// ContactEnrichment holds contact details found on a website.
type ContactEnrichment struct {
	Emails         []string        `json:"emails"`
	Phones         []string        `json:"phones"`
	SocialProfiles []SocialProfile `json:"socialProfiles"`
}

// Enrichment is the post-hoc bag attached to a Place.
type Enrichment struct {
	Contacts       *ContactEnrichment `json:"contacts,omitempty"`
	Leads          []Lead             `json:"leads,omitempty"`
	SocialProfiles []SocialProfile    `json:"socialProfiles,omitempty"`
}

// Address is a best-effort split of a formatted address.
type Address struct {
	FullAddress string `json:"fullAddress,omitempty"`
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	Country     string `json:"country,omitempty"`
}

// Phone carries the displayed phone number.
type Phone struct {
	Formatted string `json:"formatted,omitempty"`
	E164      string `json:"e164,omitempty"`
}

// Place is the canonical listing record.
type Place struct {
	ID                string              `json:"id"`
	SearchJobID       string              `json:"searchJobId,omitempty"`
	Title             string              `json:"title"`
	PrimaryCategory   string              `json:"primaryCategory,omitempty"`
	Categories        []string            `json:"categories"`
	Description       string              `json:"description,omitempty"`
	Address           Address             `json:"address"`
	Location          *LatLng             `json:"location,omitempty"`
	PlusCode          string              `json:"plusCode,omitempty"`
	GoogleMapsURL     string              `json:"googleMapsUrl,omitempty"`
	PlaceID           string              `json:"placeId,omitempty"`
	CID               string              `json:"cid,omitempty"`
	Phone             Phone               `json:"phone"`
	Website           string              `json:"website,omitempty"`
	OpeningHours      map[string][]string `json:"openingHours,omitempty"`
	PriceLevel        string              `json:"priceLevel,omitempty"`
	PermanentlyClosed bool                `json:"permanentlyClosed"`
	TemporarilyClosed bool                `json:"temporarilyClosed"`
	AdditionalInfo    map[string]any      `json:"additionalInfo,omitempty"`
	Enrichment        *Enrichment         `json:"enrichment,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// HasCoordinates reports whether the place carries a usable location.
func (p Place) HasCoordinates() bool {
	return p.Location != nil && p.Location.Lat != 0 && p.Location.Lng != 0
}

// OwnerResponse is the business reply attached to a review.
type OwnerResponse struct {
	Text        string `json:"text"`
	RespondedAt string `json:"respondedAt,omitempty"`
}

// Review is one review card persisted for a place.
type Review struct {
	ID                 string         `json:"id"`
	PlaceID            string         `json:"placeId"`
	SearchJobID        string         `json:"searchJobId,omitempty"`
	ReviewerName       string         `json:"reviewerName,omitempty"`
	ReviewerProfileURL string         `json:"reviewerProfileUrl,omitempty"`
	ReviewerPhotoURL   string         `json:"reviewerPhotoUrl,omitempty"`
	Text               string         `json:"text,omitempty"`
	Rating             *float64       `json:"rating,omitempty"`
	LikesCount         *int           `json:"likesCount,omitempty"`
	IsLocalGuide       bool           `json:"isLocalGuide"`
	ReviewImages       []string       `json:"reviewImages,omitempty"`
	OwnerResponse      *OwnerResponse `json:"ownerResponse,omitempty"`
	PublishedAt        string         `json:"publishedAt,omitempty"`
	ScrapedAt          time.Time      `json:"scrapedAt"`
}

// EnrichmentStats counts successful enrichment sub-flows.
type EnrichmentStats struct {
	ContactsEnriched       int `json:"contactsEnrichedCount"`
	LeadsEnriched          int `json:"leadsEnrichedCount"`
	SocialProfilesEnriched int `json:"socialProfilesEnrichedCount"`
}

// RunStats is the explicitly owned statistics delta returned by each stage
// and merged by the orchestrator.
type RunStats struct {
	PlacesScraped     int             `json:"placesScraped"`
	ReviewsScraped    int             `json:"reviewsScraped"`
	PlacesEnqueued    int             `json:"placesEnqueued"`
	Enrichment        EnrichmentStats `json:"enrichmentStats"`
	RequestsSucceeded int             `json:"requestsSucceeded"`
	RequestsRetried   int             `json:"requestsRetried"`
	RequestsDropped   int             `json:"requestsDropped"`
	SoftBlocks        int             `json:"softBlocks"`
}

// Merge adds other into s.
func (s *RunStats) Merge(other RunStats) {
	s.PlacesScraped += other.PlacesScraped
	s.ReviewsScraped += other.ReviewsScraped
	s.PlacesEnqueued += other.PlacesEnqueued
	s.Enrichment.ContactsEnriched += other.Enrichment.ContactsEnriched
	s.Enrichment.LeadsEnriched += other.Enrichment.LeadsEnriched
	s.Enrichment.SocialProfilesEnriched += other.Enrichment.SocialProfilesEnriched
	s.RequestsSucceeded += other.RequestsSucceeded
	s.RequestsRetried += other.RequestsRetried
	s.RequestsDropped += other.RequestsDropped
	s.SoftBlocks += other.SoftBlocks
}

// Summary is the single record written once at the end of a run.
type Summary struct {
	RunID          string          `json:"runId"`
	PlacesScraped  int             `json:"placesScraped"`
	ReviewsScraped int             `json:"reviewsScraped"`
	Enrichment     EnrichmentStats `json:"enrichmentStats"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
}

// NewSummary builds the end-of-run record from merged statistics.
func NewSummary(runID string, stats RunStats, started, finished time.Time) Summary {
	return Summary{
		RunID:          runID,
		PlacesScraped:  stats.PlacesScraped,
		ReviewsScraped: stats.ReviewsScraped,
		Enrichment:     stats.Enrichment,
		StartedAt:      started,
		FinishedAt:     finished,
	}
}
