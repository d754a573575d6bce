// Package chromedp implements crawler.Page on a headless Chrome tab.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// Config controls browser launch and per-action bounds.
type Config struct {
	Headless          bool
	UserAgent         string
	Language          string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	ExecPath          string
}

// Page is one browser process with a single tab, bound to one proxy.
type Page struct {
	cfg         Config
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	meta        *documentMeta
	closeOnce   sync.Once
}

// Open launches a browser routed through proxyURL (empty for direct).
func Open(ctx context.Context, cfg Config, proxyURL string) (*Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.Language != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Language))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	p := &Page{
		cfg:         cfg,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		meta:        &documentMeta{},
	}
	chromedp.ListenTarget(tabCtx, p.meta.captureEvent)
	if err := p.run(ctx, navTimeout(cfg), p.setupAction()); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return p, nil
}

// Close shuts the tab and the browser process.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.tabCancel()
		p.allocCancel()
	})
	return nil
}

// Navigate loads url and waits for the body. A 429 document response is
// reported as a soft block.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.meta.reset()
	err := p.run(ctx, navTimeout(p.cfg),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if status := p.meta.status(); status == http.StatusTooManyRequests {
		return crawler.Retryable(fmt.Errorf("navigate %s: status %d: %w", url, status, crawler.ErrSoftBlocked), 0)
	}
	return nil
}

// Document snapshots the rendered DOM.
func (p *Page) Document(ctx context.Context) (*goquery.Document, error) {
	var html string
	if err := p.run(ctx, actionTimeout(p.cfg), chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("snapshot dom: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	return doc, nil
}

// ScrollBy implements crawler.Page.
func (p *Page) ScrollBy(ctx context.Context, selector string, delta int) error {
	var found bool
	if err := p.run(ctx, actionTimeout(p.cfg), chromedp.Evaluate(scrollScript(selector, delta), &found)); err != nil {
		return fmt.Errorf("scroll %s: %w", selector, err)
	}
	return nil
}

// Click implements crawler.Page.
func (p *Page) Click(ctx context.Context, selector string) (bool, error) {
	var clicked bool
	if err := p.run(ctx, actionTimeout(p.cfg), chromedp.Evaluate(clickScript(selector), &clicked)); err != nil {
		return false, fmt.Errorf("click %s: %w", selector, err)
	}
	return clicked, nil
}

// WaitVisible implements crawler.Page.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = actionTimeout(p.cfg)
	}
	if err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// CurrentURL implements crawler.Page.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, actionTimeout(p.cfg), chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (p *Page) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(p.cfg.UserAgent)
			if p.cfg.Language != "" {
				override = override.WithAcceptLanguage(p.cfg.Language)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func scrollScript(selector string, delta int) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	const delta = %d;
	if (el) {
		if (delta > 0) { el.scrollBy(0, delta); }
		else if (delta < 0) { el.scrollBy(0, el.clientHeight || 400); }
		else { el.scrollTo(0, el.scrollHeight); }
		return true;
	}
	window.scrollBy(0, delta > 0 ? delta : (window.innerHeight || 400));
	return false;
})()`, selector, delta)
}

func clickScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (!el) { return false; }
	el.click();
	return true;
})()`, selector)
}

func navTimeout(cfg Config) time.Duration {
	if cfg.NavigationTimeout > 0 {
		return cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func actionTimeout(cfg Config) time.Duration {
	if cfg.ActionTimeout > 0 {
		return cfg.ActionTimeout
	}
	return 15 * time.Second
}

// documentMeta records the status of the last main-document response.
type documentMeta struct {
	mu   sync.RWMutex
	code int
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

func (m *documentMeta) reset() {
	m.mu.Lock()
	m.code = 0
	m.mu.Unlock()
}
