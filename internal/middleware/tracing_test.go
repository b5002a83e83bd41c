package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestTracing_PassesRequestThrough(t *testing.T) {
	handler := Tracing()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"checkout_url":"https://pay.example/c/1"}`))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/billing/checkout", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"checkout_url":"https://pay.example/c/1"}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestTracing_NamesSpanByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Tracing())
	r.Get("/tenants/{id}/subscription", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/42/subscription", nil))

	// Span name comes from the chi pattern; the request itself must be
	// unaffected either way.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTracing_FallsBackOutsideChiRouting(t *testing.T) {
	handler := Tracing()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/unrouted", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTracing_PreservesErrorStatus(t *testing.T) {
	handler := Tracing()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/billing/checkout", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTracing_AcceptsInboundTraceContext(t *testing.T) {
	var sawContext bool
	handler := Tracing()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawContext = r.Context() != nil
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.True(t, sawContext)
	assert.Equal(t, http.StatusOK, w.Code)
}
