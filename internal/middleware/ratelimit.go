package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit throttles the tenant API surface. Requests are keyed by the
// tenant header when the edge proxy set one, so a noisy tenant behind a
// shared NAT cannot starve its neighbours; everything else keys by IP.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(tenantOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
				"code":  "rate_limit",
			})
		}),
	)
}

func tenantOrIP(r *http.Request) (string, error) {
	if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" {
		return "tenant:" + tenant, nil
	}
	return httprate.KeyByIP(r)
}
