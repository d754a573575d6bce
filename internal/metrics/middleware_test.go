package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/stats/{section}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	codes := httpRequestsTotal.WithLabelValues(http.MethodGet, "503")
	before := testutil.ToFloat64(codes)
	for _, path := range []string{"/stats/places", "/stats/reviews"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}

	assert.InDelta(t, before+2, testutil.ToFloat64(codes), 0.001)
	// Both paths share one histogram series keyed by the pattern.
	assert.GreaterOrEqual(t, testutil.CollectAndCount(httpRequestDurationSeconds), 1)
}

func TestMiddlewareUnknownRouteKeepsDefaultStatus(t *testing.T) {
	Init()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	codes := httpRequestsTotal.WithLabelValues(http.MethodPost, "200")
	before := testutil.ToFloat64(codes)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/raw", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, before+1, testutil.ToFloat64(codes), 0.001)
}
