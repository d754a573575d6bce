package extract

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// ErrNoDocument is returned when there is nothing to parse.
var ErrNoDocument = errors.New("no document to parse")

var (
	priceLevelPattern  = regexp.MustCompile(`^\${1,4}$`)
	statePostalPattern = regexp.MustCompile(`^(.*?)(\s+([A-Z0-9-]+))?$`)
	hasLetterPattern   = regexp.MustCompile(`[A-Za-z]`)
)

// PlaceDetail parses a rendered place page. Identity fields come from the
// page URL only; callers merge request-level identifiers.
func PlaceDetail(doc *goquery.Document, pageURL string, now time.Time) (crawler.Place, error) {
	if doc == nil {
		return crawler.Place{}, ErrNoDocument
	}
	canonical := NormalizePlaceURL(pageURL)
	placeID, cid := URLIdentifiers(pageURL)

	titleSel := firstMatch(doc.Selection, `h1.DUwDvf`, `h1[aria-level="1"]`, `h1`)
	header := titleSel.Closest("div")
	if header.Length() == 0 {
		header = doc.Find(`div[role="main"]`).First()
	}

	categories := headerCategories(header)
	fullAddress := dataItemText(doc, "address", "address0", "address1")

	place := crawler.Place{
		Title:         strings.TrimSpace(titleSel.Text()),
		Categories:    categories,
		Description:   description(doc),
		Address:       ParseAddress(fullAddress),
		Location:      CoordinatesFromURL(pageURL),
		PlusCode:      dataItemText(doc, "oloc", "plus_code"),
		GoogleMapsURL: canonical,
		PlaceID:       placeID,
		CID:           cid,
		Phone:         crawler.Phone{Formatted: phone(doc)},
		Website:       website(doc),
		OpeningHours:  openingHours(doc),
		PriceLevel:    priceLevel(header),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(categories) > 0 {
		place.PrimaryCategory = categories[0]
	}
	body := strings.ToLower(visibleText(doc))
	place.PermanentlyClosed = strings.Contains(body, "permanently closed")
	place.TemporarilyClosed = strings.Contains(body, "temporarily closed")

	switch {
	case placeID != "":
		place.ID = placeID
	case cid != "":
		place.ID = cid
	default:
		place.ID = canonical
	}
	return place, nil
}

// ParseAddress splits a comma-separated address with simple positional rules.
func ParseAddress(full string) crawler.Address {
	addr := crawler.Address{FullAddress: strings.TrimSpace(full)}
	var parts []string
	for _, p := range strings.Split(full, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
	case 1:
		addr.Street = parts[0]
	case 2:
		addr.Street, addr.Country = parts[0], parts[1]
	case 3:
		addr.Street, addr.City, addr.Country = parts[0], parts[1], parts[2]
	default:
		addr.Street, addr.City = parts[0], parts[1]
		addr.Country = parts[len(parts)-1]
		statePostal := parts[len(parts)-2]
		if m := statePostalPattern.FindStringSubmatch(statePostal); m != nil {
			addr.State = strings.TrimSpace(m[1])
			addr.PostalCode = strings.TrimSpace(m[3])
		} else {
			addr.State = statePostal
		}
	}
	return addr
}

// firstMatch returns the first element matching any selector, tried in order.
func firstMatch(sel *goquery.Selection, selectors ...string) *goquery.Selection {
	var found *goquery.Selection
	for _, s := range selectors {
		if found = sel.Find(s).First(); found.Length() > 0 {
			return found
		}
	}
	return found
}

func headerCategories(header *goquery.Selection) []string {
	seen := map[string]bool{}
	categories := []string{}
	add := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		categories = append(categories, text)
	}
	header.Find(`button[aria-label*="ategory"], button[jsaction*="pane.rating.category"], a[aria-label*="ategory"]`).
		Each(func(_ int, s *goquery.Selection) { add(s.Text()) })
	if len(categories) > 0 {
		return categories
	}
	subtitle := firstMatch(header, `button[aria-label*="reviews"]`, `div[aria-label*="stars"]`, `span`)
	if subtitle.Length() == 0 {
		return categories
	}
	for _, piece := range strings.Split(subtitle.Text(), "·") {
		if hasLetterPattern.MatchString(piece) {
			add(piece)
		}
	}
	return categories
}

func description(doc *goquery.Document) string {
	var out string
	doc.Find(`div[aria-label*="About"] div, section[aria-label*="About"] div`).EachWithBreak(
		func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text != "" && len(text) < 500 {
				out = text
				return false
			}
			return true
		})
	return out
}

func dataItem(doc *goquery.Document, ids ...string) *goquery.Selection {
	for _, id := range ids {
		if sel := doc.Find(`[data-item-id="` + id + `"]`).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func dataItemText(doc *goquery.Document, ids ...string) string {
	if sel := dataItem(doc, ids...); sel != nil {
		return strings.TrimSpace(sel.Text())
	}
	return ""
}

func phone(doc *goquery.Document) string {
	if text := strings.TrimSpace(doc.Find(`[data-item-id^="phone:tel"], [data-item-id="phone"]`).First().Text()); text != "" {
		return text
	}
	return firstText(doc.Selection, `button[aria-label^="Phone"]`, `a[href^="tel:"]`)
}

func website(doc *goquery.Document) string {
	container := dataItem(doc, "authority")
	if container == nil {
		container = doc.Find(`a[aria-label*="ebsite"]`).First()
	}
	link := container.Filter(`a[href^="http"]`)
	if link.Length() == 0 {
		link = container.Find(`a[href^="http"]`).First()
	}
	return strings.TrimSpace(link.AttrOr("href", ""))
}

func openingHours(doc *goquery.Document) map[string][]string {
	hours := map[string][]string{}
	doc.Find(`[data-item-id*="hours"], div[aria-label*="Hours"], div[aria-label*="hours"], section[aria-label*="Hours"]`).
		EachWithBreak(func(_ int, container *goquery.Selection) bool {
			container.Find("table tr").Each(func(_ int, row *goquery.Selection) {
				cells := row.Find("td, th")
				if cells.Length() < 2 {
					return
				}
				day := strings.TrimSpace(cells.Eq(0).Text())
				text := strings.TrimSpace(cells.Eq(1).Text())
				if day == "" || text == "" {
					return
				}
				hours[day] = append(hours[day], text)
			})
			return len(hours) == 0
		})
	if len(hours) > 0 {
		return hours
	}
	summary := dataItem(doc, "hours")
	if summary == nil {
		summary = doc.Find(`button[aria-label*="Hours"]`).First()
	}
	text := strings.TrimSpace(summary.AttrOr("aria-label", ""))
	if text == "" {
		text = strings.TrimSpace(summary.Text())
	}
	if text == "" {
		return nil
	}
	return map[string][]string{"general": {text}}
}

func priceLevel(header *goquery.Selection) string {
	var level string
	header.Find("span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if priceLevelPattern.MatchString(text) {
			level = text
			return false
		}
		return true
	})
	return level
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return body.Text()
}
