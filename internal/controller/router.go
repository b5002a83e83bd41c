package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/billing/internal/infrastructure/config"
	"github.com/cassiomorais/billing/internal/infrastructure/observability"
	custommw "github.com/cassiomorais/billing/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Billing  *BillingController
	Webhook  *WebhookController
	Health   *HealthController
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	CORS     config.CORSConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommw.Tracing())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(custommw.SecurityHeaders())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		AllowCredentials: deps.CORS.AllowCredentials,
		MaxAge:           300,
	}))

	if deps.Metrics != nil {
		r.Use(custommw.Metrics(deps.Metrics))
	}

	r.Get("/health", deps.Health.Health)
	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Signed by the processor, not by tenants, so it lives outside /api/v1.
	r.Post("/webhooks/gateway", deps.Webhook.Receive)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(custommw.RateLimit(300))
		api.Route("/billing", func(b chi.Router) {
			b.Post("/checkout", deps.Billing.Checkout)
			b.Post("/cancel", deps.Billing.Cancel)
			b.Get("/subscription", deps.Billing.GetSubscription)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})

	return r
}
