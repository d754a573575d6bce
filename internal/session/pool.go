// Package session leases browser identities (page + proxy) to workers and
// retires the ones marked bad.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// Factory opens a page routed through proxyURL. The returned closer releases it.
type Factory func(ctx context.Context, proxyURL string) (crawler.Page, io.Closer, error)

// Config controls rotation.
type Config struct {
	// Proxies are rotated round-robin across new sessions; empty means direct.
	Proxies []string
	// MaxUsage retires a session after this many requests; zero is unlimited.
	MaxUsage int
}

// Session implements crawler.Session.
type Session struct {
	id     string
	proxy  string
	page   crawler.Page
	closer io.Closer
	usage  int
	bad    atomic.Bool
}

// ID implements crawler.Session.
func (s *Session) ID() string { return s.id }

// Page implements crawler.Session.
func (s *Session) Page() crawler.Page { return s.page }

// MarkBad implements crawler.Session.
func (s *Session) MarkBad() { s.bad.Store(true) }

// Bad implements crawler.Session.
func (s *Session) Bad() bool { return s.bad.Load() }

// Proxy returns the proxy this session routes through.
func (s *Session) Proxy() string { return s.proxy }

// Pool is safe for concurrent use.
type Pool struct {
	factory Factory
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	idle    []*Session
	created int
	retired int
	closed  bool
}

// NewPool builds a pool; sessions are created lazily.
func NewPool(factory Factory, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{factory: factory, cfg: cfg, logger: logger}
}

// Acquire returns an idle session or opens a new one on the next proxy.
func (p *Pool) Acquire(ctx context.Context) (crawler.Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("session pool closed")
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		s.usage++
		p.mu.Unlock()
		return s, nil
	}
	seq := p.created
	p.created++
	proxy := ""
	if len(p.cfg.Proxies) > 0 {
		proxy = p.cfg.Proxies[seq%len(p.cfg.Proxies)]
	}
	p.mu.Unlock()

	page, closer, err := p.factory(ctx, proxy)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s := &Session{
		id:     fmt.Sprintf("session-%d", seq),
		proxy:  proxy,
		page:   page,
		closer: closer,
		usage:  1,
	}
	p.logger.Debug("opened session", zap.String("session_id", s.id), zap.Bool("proxied", proxy != ""))
	return s, nil
}

// Release returns a session to the pool, or retires it when bad or worn out.
func (p *Pool) Release(cs crawler.Session) {
	s, ok := cs.(*Session)
	if !ok || s == nil {
		return
	}
	p.mu.Lock()
	retire := p.closed || s.Bad() || (p.cfg.MaxUsage > 0 && s.usage >= p.cfg.MaxUsage)
	if !retire {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		return
	}
	p.retired++
	p.mu.Unlock()

	p.logger.Debug("retiring session",
		zap.String("session_id", s.id),
		zap.Bool("bad", s.Bad()),
		zap.Int("usage", s.usage),
	)
	p.closeSession(s)
}

// Retired returns how many sessions were discarded.
func (p *Pool) Retired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retired
}

// Close discards idle sessions; sessions still leased are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if s.closer != nil {
			if err := s.closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) closeSession(s *Session) {
	if s.closer == nil {
		return
	}
	if err := s.closer.Close(); err != nil {
		p.logger.Warn("close session", zap.String("session_id", s.id), zap.Error(err))
	}
}
