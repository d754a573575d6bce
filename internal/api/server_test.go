package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

type fixedStats crawler.RunStats

func (f fixedStats) Stats() crawler.RunStats { return crawler.RunStats(f) }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return NewServer(opts)
}

func serve(s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(Options{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyzRequiresStats(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(Options{}), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(newTestServer(Options{Stats: fixedStats{}}), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestServer(Options{
		RunID:     "run-1",
		StartedAt: started,
		Clock:     &fakeClock{now: started.Add(90 * time.Second)},
		Stats: fixedStats{
			PlacesScraped:  4,
			ReviewsScraped: 20,
			Enrichment:     crawler.EnrichmentStats{ContactsEnriched: 2},
			SoftBlocks:     1,
		},
		Pending: func() int { return 7 },
	})

	rec := serve(s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		RunID         string           `json:"runId"`
		UptimeSeconds float64          `json:"uptimeSeconds"`
		Pending       int              `json:"pendingRequests"`
		Stats         crawler.RunStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.InDelta(t, 90, body.UptimeSeconds, 0.001)
	assert.Equal(t, 7, body.Pending)
	assert.Equal(t, 4, body.Stats.PlacesScraped)
	assert.Equal(t, 20, body.Stats.ReviewsScraped)
	assert.Equal(t, 2, body.Stats.Enrichment.ContactsEnriched)
	assert.Equal(t, 1, body.Stats.SoftBlocks)
}

func TestStatsUnavailableBeforeStart(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(Options{}), http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "crawl not started")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{Stats: fixedStats{}})
	serve(s, http.MethodGet, "/healthz", nil)

	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{Stats: fixedStats{}, APIKey: "secret"})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code, "probes stay open")
	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/stats", nil).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/stats", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/stats?api_key=secret", nil).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{})
	rec := serve(s, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(s, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

type panicStats struct{}

func (panicStats) Stats() crawler.RunStats { panic("boom") }

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(Options{Stats: panicStats{}}), http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	assert.NotNil(t, buf)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
