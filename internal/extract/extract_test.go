package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placescrawler/internal/hash/sha256"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const sidebarHTML = `<html><body>
<div role="feed">
  <div role="article" aria-label="Cafe One">
    <a href="/maps/place/Cafe+One/@1,2,17z">link</a>
    <span aria-hidden="true">Coffee shop</span>
  </div>
  <div jsaction="x" data-result-id="2">
    <div role="heading">Cafe Two</div>
    <a href="https://www.google.com/maps/place/Cafe+Two/@1,2,17z">link</a>
  </div>
  <div role="article"><span>ad without link or title</span></div>
</div>
</body></html>`

func TestSidebarSummaries(t *testing.T) {
	t.Parallel()

	got := SidebarSummaries(mustDoc(t, sidebarHTML))
	require.Len(t, got, 2)
	assert.Equal(t, "Cafe One", got[0].Title)
	assert.Equal(t, "Coffee shop", got[0].Category)
	assert.Equal(t, "https://www.google.com/maps/place/Cafe+One/@1,2,17z", got[0].PlaceURL)
	assert.Equal(t, "Cafe Two", got[1].Title)
	assert.Nil(t, SidebarSummaries(nil))
}

const placeHTML = `<html><body>
<div role="main">
  <div>
    <h1 class="DUwDvf">Cafe One</h1>
    <button jsaction="pane.rating.category">Coffee shop</button>
    <span>$$</span>
  </div>
  <button data-item-id="address">Main St 1, Springfield, IL 62701, USA</button>
  <button data-item-id="phone:tel:+15551234">(555) 123-4</button>
  <a data-item-id="authority" href="https://cafe.example.com/">cafe.example.com</a>
  <div data-item-id="oloc">8Q7X+2V Springfield</div>
  <div aria-label="Hours"><table>
    <tr><td>Monday</td><td>8 AM–5 PM</td></tr>
    <tr><td>Tuesday</td><td>8 AM–5 PM</td></tr>
  </table></div>
  <div>Temporarily closed</div>
</div>
</body></html>`

func TestPlaceDetail(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pageURL := "https://www.google.com/maps/place/Cafe+One/@39.78,-89.65,17z?placeid=ChIJabc&hl=en"
	place, err := PlaceDetail(mustDoc(t, placeHTML), pageURL, now)
	require.NoError(t, err)

	assert.Equal(t, "ChIJabc", place.ID)
	assert.Equal(t, "ChIJabc", place.PlaceID)
	assert.Equal(t, "Cafe One", place.Title)
	assert.Equal(t, []string{"Coffee shop"}, place.Categories)
	assert.Equal(t, "Coffee shop", place.PrimaryCategory)
	assert.Equal(t, "$$", place.PriceLevel)
	assert.Equal(t, "https://www.google.com/maps/place/Cafe+One/@39.78,-89.65,17z", place.GoogleMapsURL)
	assert.Equal(t, "Main St 1", place.Address.Street)
	assert.Equal(t, "Springfield", place.Address.City)
	assert.Equal(t, "IL", place.Address.State)
	assert.Equal(t, "62701", place.Address.PostalCode)
	assert.Equal(t, "USA", place.Address.Country)
	assert.Equal(t, "(555) 123-4", place.Phone.Formatted)
	assert.Equal(t, "https://cafe.example.com/", place.Website)
	assert.Equal(t, "8Q7X+2V Springfield", place.PlusCode)
	assert.Equal(t, []string{"8 AM–5 PM"}, place.OpeningHours["Monday"])
	require.NotNil(t, place.Location)
	assert.InDelta(t, 39.78, place.Location.Lat, 1e-9)
	assert.True(t, place.TemporarilyClosed)
	assert.False(t, place.PermanentlyClosed)
	assert.Equal(t, now, place.CreatedAt)
}

func TestPlaceDetailFallsBackToCanonicalURL(t *testing.T) {
	t.Parallel()

	place, err := PlaceDetail(mustDoc(t, `<html><body></body></html>`), "https://www.google.com/maps/place/X?hl=en", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/place/X", place.ID)
	assert.Empty(t, place.Title)
	assert.Nil(t, place.Location)

	_, err = PlaceDetail(nil, "", time.Now())
	require.ErrorIs(t, err, ErrNoDocument)
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Only", ParseAddress("Only").Street)
	two := ParseAddress("Street 1, Germany")
	assert.Equal(t, "Germany", two.Country)
	three := ParseAddress("Street 1, Berlin, Germany")
	assert.Equal(t, "Berlin", three.City)
	assert.Empty(t, ParseAddress("").Street)
}

const reviewsHTML = `<html><body>
<div data-review-id="r1">
  <a href="/maps/contrib/1"><img src="https://img/avatar1">Alice</a>
  <span aria-label="5 stars"></span>
  <span lang="en">Great coffee</span>
  <span class="rsqaWe">2 weeks ago</span>
  <button aria-label="Mark review as helpful">3</button>
  <div>Local Guide · 12 reviews</div>
  <img src="https://img/photo1">
  <div aria-label="Response from the owner">Thanks!</div>
</div>
<div data-review-id="">
  <a href="/maps/contrib/2">Bob</a>
  <span aria-label="4.5 Star Rating"></span>
  <span lang="en">Okay</span>
  <span aria-label="a month ago">a month ago</span>
</div>
</body></html>`

func TestReviewCards(t *testing.T) {
	t.Parallel()

	cards := ReviewCards(mustDoc(t, reviewsHTML))
	require.Len(t, cards, 2)

	first := cards[0]
	assert.Equal(t, "r1", first.ReviewID)
	assert.Equal(t, "Alice", first.ReviewerName)
	assert.Equal(t, "https://www.google.com/maps/contrib/1", first.ReviewerProfileURL)
	assert.Equal(t, "https://img/avatar1", first.ReviewerPhotoURL)
	require.NotNil(t, first.Rating)
	assert.InDelta(t, 5, *first.Rating, 1e-9)
	assert.Equal(t, "Great coffee", first.Text)
	assert.Equal(t, "2 weeks ago", first.PublishedAt)
	require.NotNil(t, first.LikesCount)
	assert.Equal(t, 3, *first.LikesCount)
	assert.True(t, first.IsLocalGuide)
	assert.Equal(t, []string{"https://img/photo1"}, first.ReviewImages)
	require.NotNil(t, first.OwnerResponse)
	assert.Equal(t, "Thanks!", first.OwnerResponse.Text)

	second := cards[1]
	assert.Empty(t, second.ReviewID)
	require.NotNil(t, second.Rating)
	assert.InDelta(t, 4.5, *second.Rating, 1e-9)
	assert.Equal(t, "a month ago", second.PublishedAt)
	assert.False(t, second.IsLocalGuide)
	assert.Nil(t, second.LikesCount)
}

func TestReviewUniqueKey(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()
	native := ReviewUniqueKey("placeId-1", ParsedReview{ReviewID: " r1 "}, hasher)
	assert.Equal(t, "place:placeId-1::reviewId:r1", native)

	r := ParsedReview{ReviewerName: "Bob", Text: "Okay", PublishedAt: "a month ago"}
	k1 := ReviewUniqueKey("placeId-1", r, hasher)
	k2 := ReviewUniqueKey("placeId-1", r, hasher)
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "place:placeId-1::hash:"))
	assert.NotEqual(t, k1, ReviewUniqueKey("placeId-2", r, hasher))
}
