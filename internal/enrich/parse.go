package enrich

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

var (
	emailPattern     = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phonePattern     = regexp.MustCompile(`\+?[0-9][0-9() .-]{6,}`)
	leadSplitPattern = regexp.MustCompile(`[|•\-–—:,]`)
)

func extractEmails(html string) []string {
	set := newOrderedSet()
	set.add(emailPattern.FindAllString(html, -1)...)
	return set.values()
}

// extractPhones scans visible text so markup attributes do not produce
// digit runs.
func extractPhones(html string) []string {
	text := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		body := doc.Find("body")
		body.Find("script, style, noscript").Remove()
		text = body.Text()
	}
	set := newOrderedSet()
	for _, m := range phonePattern.FindAllString(text, -1) {
		if cleaned := strings.TrimSpace(m); len(cleaned) >= 8 {
			set.add(cleaned)
		}
	}
	return set.values()
}

func linkedInLeads(html, pageURL, placeID string, hasher crawler.Hasher) []crawler.Lead {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var leads []crawler.Lead
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		ref, err := url.Parse(strings.TrimSpace(a.AttrOr("href", "")))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if !strings.Contains(strings.ToLower(abs.Hostname()), "linkedin.com") {
			return
		}
		text := strings.Join(strings.Fields(a.Text()), " ")
		if text == "" {
			return
		}
		var parts []string
		for _, p := range leadSplitPattern.Split(text, -1) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		linkedIn := abs.String()
		lead := crawler.Lead{
			ID:          "lead:" + shortHash(hasher, placeID+"::"+linkedIn+"::"+text),
			PlaceID:     placeID,
			LinkedInURL: linkedIn,
			SourceURL:   pageURL,
		}
		if len(parts) > 0 {
			lead.FullName = parts[0]
		}
		if len(parts) > 1 {
			lead.JobTitle = parts[1]
		}
		leads = append(leads, lead)
	})
	return leads
}

func classifySocial(u *url.URL) (crawler.SocialNetwork, bool) {
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "facebook.com"):
		return crawler.SocialFacebook, true
	case strings.Contains(host, "instagram.com"):
		return crawler.SocialInstagram, true
	case strings.Contains(host, "tiktok.com"):
		return crawler.SocialTikTok, true
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		return crawler.SocialYouTube, true
	case strings.Contains(host, "twitter.com"), host == "x.com":
		return crawler.SocialTwitter, true
	default:
		return "", false
	}
}

func shortHash(hasher crawler.Hasher, value string) string {
	sum := hasher.HashString(value)
	if len(sum) > 16 {
		return sum[:16]
	}
	return sum
}
