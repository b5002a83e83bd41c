package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/billing/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*observability.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return observability.NewMetrics("test", reg), reg
}

func labelValue(t *testing.T, reg *prometheus.Registry, metric, label string) string {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != metric {
			continue
		}
		require.NotEmpty(t, mf.Metric)
		for _, lp := range mf.Metric[0].Label {
			if lp.GetName() == label {
				return lp.GetValue()
			}
		}
	}
	t.Fatalf("metric %s not gathered", metric)
	return ""
}

func TestMetrics_RecordsRequestAndDuration(t *testing.T) {
	metrics, reg := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Post("/api/v1/billing/checkout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/billing/checkout", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	families, err := reg.Gather()
	require.NoError(t, err)

	var foundRequests, foundDuration bool
	for _, mf := range families {
		switch mf.GetName() {
		case "test_http_requests_total":
			foundRequests = true
			assert.NotEmpty(t, mf.Metric)
		case "test_http_request_duration_seconds":
			foundDuration = true
			assert.NotEmpty(t, mf.Metric)
		}
	}
	assert.True(t, foundRequests, "request counter should be recorded")
	assert.True(t, foundDuration, "duration histogram should be recorded")
}

func TestMetrics_UsesRoutePatternNotRawPath(t *testing.T) {
	metrics, reg := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/tenants/{id}/subscription", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/42/subscription", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// The tenant id must not leak into the path label or the series
	// cardinality explodes.
	path := labelValue(t, reg, "test_http_requests_total", "path")
	assert.Equal(t, "/tenants/{id}/subscription", path)
}

func TestMetrics_RecordsStatusLabel(t *testing.T) {
	metrics, reg := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	status := labelValue(t, reg, "test_http_requests_total", "status")
	assert.Equal(t, "503", status)
}

func TestMetrics_WorksOutsideChiRouting(t *testing.T) {
	metrics, _ := newTestMetrics(t)

	handler := Metrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/unrouted", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusWriter_CapturesExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)

	assert.Equal(t, http.StatusCreated, sw.statusCode)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStatusWriter_DefaultsToOKOnBareWrite(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	_, err := sw.Write([]byte("body"))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, sw.statusCode)
}
