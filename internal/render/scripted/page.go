// Package scripted implements crawler.Page over canned HTML snapshots, for
// tests and offline replays of captured pages.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const blankURL = "about:blank"

type route struct {
	prefix    string
	snapshots []string
	clicks    map[string][]string
	navErr    error
}

// Site maps URL prefixes to snapshot sequences. Snapshot i is shown after i
// scrolls; the last one repeats.
type Site struct {
	mu     sync.RWMutex
	routes []*route
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{}
}

// Serve registers snapshots for URLs starting with prefix.
func (s *Site) Serve(prefix string, snapshots ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routeLocked(prefix).snapshots = snapshots
}

// OnClick swaps in snapshots once selector is clicked on a page under prefix.
func (s *Site) OnClick(prefix, selector string, snapshots ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.routeLocked(prefix)
	if r.clicks == nil {
		r.clicks = map[string][]string{}
	}
	r.clicks[selector] = snapshots
}

// FailNavigation makes navigation to prefix return err after loading.
func (s *Site) FailNavigation(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routeLocked(prefix).navErr = err
}

// NewPage opens a blank page on the site.
func (s *Site) NewPage() *Page {
	return &Page{site: s, url: blankURL}
}

func (s *Site) routeLocked(prefix string) *route {
	for _, r := range s.routes {
		if r.prefix == prefix {
			return r
		}
	}
	r := &route{prefix: prefix}
	s.routes = append(s.routes, r)
	return r
}

func (s *Site) lookup(url string) *route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *route
	for _, r := range s.routes {
		if strings.HasPrefix(url, r.prefix) && (best == nil || len(r.prefix) > len(best.prefix)) {
			best = r
		}
	}
	return best
}

// Page is a crawler.Page replaying a Site.
type Page struct {
	site *Site

	mu          sync.Mutex
	url         string
	snapshots   []string
	scrolls     int
	route       *route
	navigations []string
	clicks      []string
	closed      bool
}

// Navigate implements crawler.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := p.site.lookup(url)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if r == nil {
		return fmt.Errorf("navigate %s: no scripted route", url)
	}
	p.url = url
	p.route = r
	p.snapshots = r.snapshots
	p.scrolls = 0
	return r.navErr
}

// Document implements crawler.Page.
func (p *Page) Document(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(p.current()))
}

// ScrollBy implements crawler.Page.
func (p *Page) ScrollBy(ctx context.Context, _ string, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.scrolls++
	p.mu.Unlock()
	return nil
}

// Click implements crawler.Page.
func (p *Page) Click(ctx context.Context, selector string) (bool, error) {
	doc, err := p.Document(ctx)
	if err != nil {
		return false, err
	}
	if doc.Find(selector).Length() == 0 {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if p.route != nil {
		if next, ok := p.route.clicks[selector]; ok {
			p.snapshots = next
			p.scrolls = 0
		}
	}
	return true, nil
}

// WaitVisible implements crawler.Page; it never sleeps.
func (p *Page) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	doc, err := p.Document(ctx)
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("wait for %s: %w", selector, context.DeadlineExceeded)
	}
	return nil
}

// CurrentURL implements crawler.Page.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Close marks the page closed.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Navigations returns every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Clicks returns the selectors that were clicked.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Scrolls returns the scroll count since the last navigation.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *Page) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return "<html><body></body></html>"
	}
	idx := p.scrolls
	if idx >= len(p.snapshots) {
		idx = len(p.snapshots) - 1
	}
	return p.snapshots[idx]
}
