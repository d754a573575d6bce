package stage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/placescrawler/internal/blockdetect"
	"github.com/JakeFAU/placescrawler/internal/clock/system"
	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/dedup"
	"github.com/JakeFAU/placescrawler/internal/kv/memory"
	"github.com/JakeFAU/placescrawler/internal/render/scripted"
)

const captchaHTML = `<html><body><form id="captcha-form"></form>
<p>Our systems have detected unusual traffic from your computer network.</p></body></html>`

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ScrollDelay = 0
	cfg.ScrollJitter = 0
	cfg.PanelDelay = 0
	cfg.WaitTimeout = time.Millisecond
	return cfg
}

func testClock() *system.Manual {
	return system.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func newDedup(name string) *dedup.Store {
	return dedup.New(name, memory.New(), 0)
}

func detector() BlockDetector {
	return blockdetect.NewHeuristic(nil, nil)
}

type fakeSession struct {
	mu  sync.Mutex
	bad bool
	pg  crawler.Page
}

func (s *fakeSession) ID() string { return "session-test" }

func (s *fakeSession) Page() crawler.Page { return s.pg }

func (s *fakeSession) MarkBad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bad = true
}

func (s *fakeSession) Bad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

func requestContext(page crawler.Page) (*crawler.RequestContext, *fakeSession) {
	sess := &fakeSession{pg: page}
	return &crawler.RequestContext{Page: page, Session: sess}, sess
}

type recordingQueue struct {
	mu       sync.Mutex
	requests []crawler.Request
	seen     map[string]bool
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, req crawler.Request) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.seen == nil {
		q.seen = map[string]bool{}
	}
	if q.seen[req.UniqueKey()] {
		return false, nil
	}
	q.seen[req.UniqueKey()] = true
	q.requests = append(q.requests, req)
	return true, nil
}

func (q *recordingQueue) ofType(kind crawler.RequestType) []crawler.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []crawler.Request
	for _, r := range q.requests {
		if r.Type() == kind {
			out = append(out, r)
		}
	}
	return out
}

func placeURL(name string) string {
	return "https://www.google.com/maps/place/" + name + "/@40.1,-88.2,17z"
}

func sidebarHTML(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div role="feed">`)
	for i, u := range urls {
		fmt.Fprintf(&b, `<div role="article" aria-label="Result %d"><a href="%s">open</a></div>`, i, u)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func reviewsHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div role="main" aria-label="Reviews">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<div data-review-id="%s">
  <a href="https://www.google.com/maps/contrib/%s">Reviewer %s</a>
  <span aria-label="4 stars"></span>
  <span lang="en">Great place %s</span>
</div>`, id, id, id, id)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func reviewIDs(from, to int) []string {
	var ids []string
	for i := from; i <= to; i++ {
		ids = append(ids, fmt.Sprintf("r%d", i))
	}
	return ids
}

func newSite(t *testing.T) *scripted.Site {
	t.Helper()
	return scripted.NewSite()
}
