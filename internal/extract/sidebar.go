package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// SidebarFeedSelector matches the scrollable results panel.
	SidebarFeedSelector = `div[role="feed"]`
	sidebarItemSelector = `div[role="article"], div[jsaction][data-result-id]`
)

// PlaceSummary is one listing row from the search results panel.
type PlaceSummary struct {
	Title    string
	Category string
	PlaceURL string
}

// SidebarSummaries returns every rendered result row carrying a title or link.
func SidebarSummaries(doc *goquery.Document) []PlaceSummary {
	if doc == nil {
		return nil
	}
	var out []PlaceSummary
	doc.Find(SidebarFeedSelector).Each(func(_ int, feed *goquery.Selection) {
		feed.Find(sidebarItemSelector).Each(func(_ int, item *goquery.Selection) {
			title := firstText(item, `[role="heading"]`, `h3`, `div[aria-level="3"]`)
			if title == "" {
				title = strings.TrimSpace(item.AttrOr("aria-label", ""))
			}
			category := strings.TrimSpace(item.Find(`span[aria-hidden="true"], span[jsinstance]`).First().Text())
			href, _ := item.Find(`a[href*="/maps/place"]`).First().Attr("href")
			placeURL := AbsoluteURL(href)
			if placeURL == "" && title == "" {
				return
			}
			out = append(out, PlaceSummary{Title: title, Category: category, PlaceURL: placeURL})
		})
	})
	return out
}

func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if text := strings.TrimSpace(sel.Find(s).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
