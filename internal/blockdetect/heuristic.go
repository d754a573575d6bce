// Package blockdetect recognizes anti-bot interstitials in rendered pages.
package blockdetect

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// DefaultPhrases appear in the visible text of block pages.
var DefaultPhrases = []string{
	"our systems have detected unusual traffic",
	"unusual traffic",
	"captcha",
}

// DefaultSelectors match captcha widgets.
var DefaultSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[title*="captcha"]`,
	`iframe[title*="reCAPTCHA"]`,
	`#captcha-form`,
	`div.g-recaptcha`,
}

// Heuristic flags a page as blocked from text phrases and captcha elements.
type Heuristic struct {
	phrases   []string
	selectors []string
}

// NewHeuristic builds a detector; nil slices fall back to the defaults.
func NewHeuristic(phrases, selectors []string) *Heuristic {
	if phrases == nil {
		phrases = DefaultPhrases
	}
	if selectors == nil {
		selectors = DefaultSelectors
	}
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		lower = append(lower, p)
	}
	return &Heuristic{phrases: lower, selectors: selectors}
}

// Blocked is a pure predicate over a DOM snapshot.
func (h *Heuristic) Blocked(doc *goquery.Document) bool {
	if h == nil || doc == nil {
		return false
	}
	for _, sel := range h.selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	text := strings.ToLower(visibleText(doc))
	for _, phrase := range h.phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// Check snapshots page and applies Blocked.
func (h *Heuristic) Check(ctx context.Context, page crawler.Page) (bool, error) {
	doc, err := page.Document(ctx)
	if err != nil {
		return false, fmt.Errorf("snapshot for block check: %w", err)
	}
	return h.Blocked(doc), nil
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return body.Text()
}
