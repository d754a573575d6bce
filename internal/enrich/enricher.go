package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// Defaults for website crawling.
const (
	DefaultMaxContactPages = 3
	DefaultMaxLeadPages    = 3
	maxLeads               = 100
)

var (
	contactPaths = []string{"/contact", "/contact-us", "/kontakt", "/kontakty", "/about", "/about-us", "/o-nas"}
	teamPaths    = []string{"/team", "/our-team", "/about", "/about-us", "/leadership", "/staff"}
)

// PageFetcher returns the HTML of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Config bounds the pages visited per website.
type Config struct {
	MaxContactPages int
	MaxLeadPages    int
}

// ContactsResult is the outcome of contacts enrichment.
type ContactsResult struct {
	Contacts        crawler.ContactEnrichment
	ContactPageURLs []string
}

// Service runs the enrichment flows over a PageFetcher.
type Service struct {
	fetcher PageFetcher
	hasher  crawler.Hasher
	cfg     Config
	logger  *zap.Logger
}

// NewService wires a Service.
func NewService(fetcher PageFetcher, hasher crawler.Hasher, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxContactPages <= 0 {
		cfg.MaxContactPages = DefaultMaxContactPages
	}
	if cfg.MaxLeadPages <= 0 {
		cfg.MaxLeadPages = DefaultMaxLeadPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{fetcher: fetcher, hasher: hasher, cfg: cfg, logger: logger}
}

// Contacts scans the website root plus contact and about pages for emails
// and phone numbers. It returns nil when nothing was found.
func (s *Service) Contacts(ctx context.Context, website string) (*ContactsResult, error) {
	base, ok := parseWebsite(website)
	if !ok {
		return nil, nil
	}
	emails := newOrderedSet()
	phones := newOrderedSet()
	var pageURLs []string

	fetched := 0
	for _, candidate := range candidateURLs(base, contactPaths) {
		if fetched >= s.cfg.MaxContactPages {
			break
		}
		html, err := s.fetch(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if html == "" {
			continue
		}
		fetched++
		lower := strings.ToLower(candidate)
		if strings.Contains(lower, "contact") || strings.Contains(lower, "about") {
			pageURLs = append(pageURLs, candidate)
		}
		emails.add(extractEmails(html)...)
		phones.add(extractPhones(html)...)
	}

	if emails.len() == 0 && phones.len() == 0 && len(pageURLs) == 0 {
		return nil, nil
	}
	return &ContactsResult{
		Contacts: crawler.ContactEnrichment{
			Emails:         emails.values(),
			Phones:         phones.values(),
			SocialProfiles: []crawler.SocialProfile{},
		},
		ContactPageURLs: pageURLs,
	}, nil
}

// Leads harvests LinkedIn-linked people from team and about pages.
func (s *Service) Leads(ctx context.Context, website, placeID string) ([]crawler.Lead, error) {
	base, ok := parseWebsite(website)
	if !ok {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var leads []crawler.Lead

	fetched := 0
	for _, candidate := range candidateURLs(base, teamPaths) {
		if fetched >= s.cfg.MaxLeadPages || len(leads) >= maxLeads {
			break
		}
		html, err := s.fetch(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if html == "" {
			continue
		}
		fetched++
		for _, lead := range linkedInLeads(html, candidate, placeID, s.hasher) {
			if _, dup := seen[lead.ID]; dup {
				continue
			}
			seen[lead.ID] = struct{}{}
			leads = append(leads, lead)
			if len(leads) >= maxLeads {
				break
			}
		}
	}
	return leads, nil
}

// SocialProfiles classifies links on the website root into the enabled networks.
func (s *Service) SocialProfiles(
	ctx context.Context,
	website string,
	networks []crawler.SocialNetwork,
) ([]crawler.SocialProfile, error) {
	base, ok := parseWebsite(website)
	if !ok || len(networks) == 0 {
		return nil, nil
	}
	html, err := s.fetch(ctx, base.String())
	if err != nil || html == "" {
		return nil, err
	}
	enabled := make(map[crawler.SocialNetwork]bool, len(networks))
	for _, n := range networks {
		enabled[n] = true
	}

	seen := make(map[string]struct{})
	var profiles []crawler.SocialProfile
	for _, link := range pageLinks(html, base) {
		network, ok := classifySocial(link)
		if !ok || !enabled[network] {
			continue
		}
		key := string(network) + ":" + link.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		profiles = append(profiles, crawler.SocialProfile{
			Type:     network,
			URL:      link.String(),
			Username: firstPathSegment(link),
			Extra:    map[string]any{"source": "website"},
		})
	}
	return profiles, nil
}

// fetch returns "" for pages that could not be fetched; only context errors
// abort the flow.
func (s *Service) fetch(ctx context.Context, rawURL string) (string, error) {
	html, err := s.fetcher.Fetch(ctx, rawURL)
	if err == nil {
		return html, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("enrichment fetch: %w", ctxErr)
	}
	if errors.Is(err, ErrRobotsDisallowed) {
		s.logger.Info("skipping page disallowed by robots.txt", zap.String("url", rawURL))
	} else {
		s.logger.Debug("enrichment fetch failed", zap.String("url", rawURL), zap.Error(err))
	}
	return "", nil
}

func parseWebsite(website string) (*url.URL, bool) {
	website = strings.TrimSpace(website)
	if website == "" {
		return nil, false
	}
	u, err := url.Parse(website)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, false
	}
	return u, true
}

func candidateURLs(base *url.URL, paths []string) []string {
	origin := base.Scheme + "://" + base.Host
	set := newOrderedSet()
	set.add(base.String())
	for _, p := range paths {
		set.add(origin + p)
	}
	return set.values()
}

func pageLinks(html string, base *url.URL) []*url.URL {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var links []*url.URL
	doc.Find("[href]").Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.AttrOr("href", ""))
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref))
	})
	return links
}

func firstPathSegment(u *url.URL) string {
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

func (s *orderedSet) len() int { return len(s.items) }

func (s *orderedSet) values() []string {
	return append([]string{}, s.items...)
}
