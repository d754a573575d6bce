// Package enrich harvests contacts, leads and social profiles from the
// websites listed on places.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrRobotsDisallowed is returned when robots.txt forbids a page.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// FetcherConfig controls website fetching.
type FetcherConfig struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher downloads website pages with colly.
type Fetcher struct {
	cfg     FetcherConfig
	limiter *Limiter
	base    *colly.Collector
}

// NewFetcher builds a Fetcher. A nil limiter means no rate limiting.
func NewFetcher(cfg FetcherConfig, limiter *Limiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.WithTransport(&robotsTransport{base: newHTTPTransport()})
	if limiter == nil {
		limiter = NewLimiter(0, 1)
	}
	return &Fetcher{cfg: cfg, limiter: limiter, base: c}
}

// Fetch returns the body of rawURL. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return "", err
	}

	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.Context = ctx

	var (
		body     string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return "", ErrRobotsDisallowed
		}
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return "", fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
