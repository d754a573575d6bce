// Package sink holds the RecordSink backends. Records are appended to named
// collections (places, reviews, leads, summary) and serialized as JSON.
package sink

import (
	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/hash/sha256"
)

// RecordID returns the natural identity of a known record type, or "".
func RecordID(record any) string {
	switch r := record.(type) {
	case crawler.Place:
		return r.ID
	case *crawler.Place:
		return r.ID
	case crawler.Review:
		return r.ID
	case *crawler.Review:
		return r.ID
	case crawler.Lead:
		return r.ID
	case *crawler.Lead:
		return r.ID
	case crawler.Summary:
		return r.RunID
	case *crawler.Summary:
		return r.RunID
	default:
		return ""
	}
}

// Digest returns a hex SHA-256 of payload, used as a fallback record key.
func Digest(payload []byte) string {
	return sha256.New().HashString(string(payload))
}
