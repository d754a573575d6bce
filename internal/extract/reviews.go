package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

const (
	// ReviewCardSelector matches one rendered review.
	ReviewCardSelector = `div[data-review-id]`
	// ReviewsContainerSelector matches the scrollable reviews panel.
	ReviewsContainerSelector = `div[aria-label*="reviews"], div[aria-label*="Reviews"], div[role="main"]`
)

// OpenReviewsSelectors are tried in order to reveal the reviews panel.
var OpenReviewsSelectors = []string{
	`button[aria-label*="reviews"]`,
	`button[aria-label*="Reviews"]`,
	`button[jsaction*="pane.reviewChart.moreReviews"]`,
	`a[href*="reviews"]`,
}

var (
	ratingPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)`)
	likesPattern  = regexp.MustCompile(`([0-9][0-9,]*)`)
)

// ParsedReview is one review card as rendered.
type ParsedReview struct {
	ReviewID           string
	ReviewerName       string
	ReviewerProfileURL string
	ReviewerPhotoURL   string
	Text               string
	Rating             *float64
	LikesCount         *int
	IsLocalGuide       bool
	ReviewImages       []string
	OwnerResponse      *crawler.OwnerResponse
	PublishedAt        string
}

// ReviewCards returns every review card currently in the DOM.
func ReviewCards(doc *goquery.Document) []ParsedReview {
	if doc == nil {
		return nil
	}
	var out []ParsedReview
	doc.Find(ReviewCardSelector).Each(func(_ int, card *goquery.Selection) {
		out = append(out, parseReviewCard(card))
	})
	return out
}

// ReviewUniqueKey returns the dedup key for a review scoped to placeKey:
// the native id when present, else a content hash.
func ReviewUniqueKey(placeKey string, r ParsedReview, hasher crawler.Hasher) string {
	if id := strings.TrimSpace(r.ReviewID); id != "" {
		return "place:" + placeKey + "::reviewId:" + id
	}
	base := strings.Join([]string{placeKey, r.ReviewerName, r.Text, r.PublishedAt}, "::")
	return "place:" + placeKey + "::hash:" + hasher.HashString(base)
}

func parseReviewCard(card *goquery.Selection) ParsedReview {
	r := ParsedReview{ReviewID: strings.TrimSpace(card.AttrOr("data-review-id", ""))}

	contributor := card.Find(`a[href*="maps/contrib"]`).First()
	r.ReviewerName = strings.TrimSpace(contributor.Text())
	r.ReviewerProfileURL = AbsoluteURL(contributor.AttrOr("href", ""))
	avatar := contributor.Find("img").First()
	r.ReviewerPhotoURL = avatar.AttrOr("src", "")

	if rating := withAriaLabel(card, "span", "star rating", "stars"); rating.Length() > 0 {
		label := rating.AttrOr("aria-label", rating.Text())
		if m := ratingPattern.FindStringSubmatch(label); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				r.Rating = &v
			}
		}
	}

	r.Text = strings.TrimSpace(card.Find(`span[lang]`).First().Text())

	if like := withAriaLabel(card, "button", "helpful", "like this review"); like.Length() > 0 {
		if m := likesPattern.FindStringSubmatch(strings.TrimSpace(like.Text())); m != nil {
			if v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
				r.LikesCount = &v
			}
		}
	}

	r.IsLocalGuide = strings.Contains(strings.ToLower(card.Text()), "local guide")

	if resp := withAriaLabel(card, "div", "response from the owner", "owner response"); resp.Length() > 0 {
		if text := strings.TrimSpace(resp.Text()); text != "" {
			r.OwnerResponse = &crawler.OwnerResponse{Text: text}
		}
	}

	published := card.Find(`span[class*="rsqaWe"]`).First()
	if published.Length() == 0 {
		published = withAriaLabel(card, "span", "review", "ago")
	}
	r.PublishedAt = strings.TrimSpace(published.Text())

	card.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		if avatar.Length() > 0 && img.IsSelection(avatar) {
			return
		}
		if src := img.AttrOr("src", ""); src != "" {
			r.ReviewImages = append(r.ReviewImages, src)
		}
	})
	return r
}

// withAriaLabel returns the first tag under sel whose aria-label contains
// any needle, ignoring case.
func withAriaLabel(sel *goquery.Selection, tag string, needles ...string) *goquery.Selection {
	return sel.Find(tag + "[aria-label]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		label := strings.ToLower(s.AttrOr("aria-label", ""))
		for _, n := range needles {
			if strings.Contains(label, n) {
				return true
			}
		}
		return false
	}).First()
}
