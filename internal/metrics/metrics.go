// Package metrics exposes Prometheus collectors for the places crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
)

var (
	requestsTotal                 *prometheus.CounterVec
	placesTotal                   prometheus.Counter
	reviewsTotal                  prometheus.Counter
	leadsTotal                    prometheus.Counter
	enrichmentTotal               *prometheus.CounterVec
	softBlocksTotal               *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	activeWorkers                 prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placescrawler_requests_total",
				Help: "Crawl requests processed, labeled by request type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		placesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "placescrawler_places_total",
			Help: "Place records persisted.",
		})

		reviewsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "placescrawler_reviews_total",
			Help: "Review records persisted.",
		})

		leadsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "placescrawler_leads_total",
			Help: "Lead records persisted.",
		})

		enrichmentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placescrawler_enrichment_total",
				Help: "Website enrichment attempts, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		softBlocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placescrawler_soft_blocks_total",
				Help: "Soft blocks detected, labeled by request type.",
			},
			[]string{"type"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "placescrawler_active_workers",
				Help: "Number of workers currently processing a request.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "placescrawler_rate_limit_delays_seconds",
				Help:    "Histogram of enrichment rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRequest counts one processed request.
func ObserveRequest(requestType, outcome string) {
	Init()
	requestsTotal.WithLabelValues(requestType, outcome).Inc()
}

// AddPlaces counts persisted places.
func AddPlaces(n int) {
	if n <= 0 {
		return
	}
	Init()
	placesTotal.Add(float64(n))
}

// AddReviews counts persisted reviews.
func AddReviews(n int) {
	if n <= 0 {
		return
	}
	Init()
	reviewsTotal.Add(float64(n))
}

// AddLeads counts persisted leads.
func AddLeads(n int) {
	if n <= 0 {
		return
	}
	Init()
	leadsTotal.Add(float64(n))
}

// ObserveEnrichment counts one enrichment attempt.
func ObserveEnrichment(kind, outcome string) {
	Init()
	enrichmentTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSoftBlock counts a soft block seen while handling requestType.
func ObserveSoftBlock(requestType string) {
	Init()
	softBlocksTotal.WithLabelValues(requestType).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
