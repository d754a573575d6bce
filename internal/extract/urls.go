// Package extract holds the site-specific URL helpers and DOM extractors.
package extract

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

const (
	mapsOrigin     = "https://www.google.com"
	searchBaseURL  = mapsOrigin + "/maps/search/"
	maxURLKeyChars = 100
)

var (
	placeIDPathPattern = regexp.MustCompile(`!1s([^!]+)!8m`)
	cidPattern         = regexp.MustCompile(`[?&]cid=(\d+)`)
	atCoordsPattern    = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+),`)
	dataCoordsPattern  = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
	nonAlphanumeric    = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// SearchURL builds the map search URL for one tile of a job.
func SearchURL(job crawler.SearchJob, tile crawler.Tile) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{job.SearchTerm, job.LocationText, job.Category} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	u := searchBaseURL
	if query := strings.Join(parts, " "); query != "" {
		u += url.PathEscape(query) + "/"
	}
	u += fmt.Sprintf("@%s,%s,%dz",
		strconv.FormatFloat(tile.Center.Lat, 'f', -1, 64),
		strconv.FormatFloat(tile.Center.Lng, 'f', -1, 64),
		tile.Zoom,
	)
	if job.Language != "" {
		u += "?" + url.Values{"hl": {job.Language}}.Encode()
	}
	return u
}

// NormalizePlaceURL strips query and fragment. Unparseable input is returned as-is.
func NormalizePlaceURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return raw
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// PlaceIDFromURL returns the placeid query param, the !1s path segment or
// the cid, in that order.
func PlaceIDFromURL(raw string) string {
	if parsed, err := url.Parse(raw); err == nil {
		if id := parsed.Query().Get("placeid"); id != "" {
			return id
		}
	}
	if m := placeIDPathPattern.FindStringSubmatch(raw); m != nil {
		if decoded, err := url.PathUnescape(m[1]); err == nil {
			return decoded
		}
		return m[1]
	}
	if m := cidPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// URLIdentifiers returns the explicit placeid and cid query params of raw.
func URLIdentifiers(raw string) (placeID, cid string) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	q := parsed.Query()
	return q.Get("placeid"), q.Get("cid")
}

// PlaceUniqueKey derives the dedup key for a place; empty when neither input is usable.
func PlaceUniqueKey(placeID, placeURL string) string {
	if id := strings.TrimSpace(placeID); id != "" {
		return "placeId-" + strings.ReplaceAll(placeID, ":", "-")
	}
	if strings.TrimSpace(placeURL) == "" {
		return ""
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(NormalizePlaceURL(placeURL)))
	key := nonAlphanumeric.ReplaceAllString(encoded, "")
	if len(key) > maxURLKeyChars {
		key = key[:maxURLKeyChars]
	}
	return "url-" + key
}

// CoordinatesFromURL reads @lat,lng, or !3dlat!4dlng from a place URL path.
func CoordinatesFromURL(raw string) *crawler.LatLng {
	path := raw
	if parsed, err := url.Parse(raw); err == nil {
		path = parsed.Path
	}
	for _, pattern := range []*regexp.Regexp{atCoordsPattern, dataCoordsPattern} {
		m := pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		lat, errLat := strconv.ParseFloat(m[1], 64)
		lng, errLng := strconv.ParseFloat(m[2], 64)
		if errLat == nil && errLng == nil {
			return &crawler.LatLng{Lat: lat, Lng: lng}
		}
	}
	return nil
}

// AbsoluteURL resolves href against the maps origin.
func AbsoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, _ := url.Parse(mapsOrigin)
	return base.ResolveReference(ref).String()
}
