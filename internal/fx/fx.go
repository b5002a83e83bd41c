// Package fx consumes the exchange-rate source-of-truth service.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
)

// Quote is one exchange-rate observation. It is read-only to this service.
type Quote struct {
	From        string    `json:"from_currency"`
	To          string    `json:"to_currency"`
	Rate        float64   `json:"rate"`
	Provider    string    `json:"provider"`
	LastUpdated time.Time `json:"last_updated"`
}

// RateSource fetches the latest quote for a currency pair.
type RateSource interface {
	GetRate(ctx context.Context, base, quote string) (Quote, error)
}

// Client is the HTTP RateSource. Calls run behind a circuit breaker so a
// degraded rate service cannot stall checkouts; the FX circuit has no
// cross-process state requirement, so the stock gobreaker suffices here.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[Quote]
}

// NewClient creates an FX client with a bounded per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		breaker: gobreaker.NewCircuitBreaker[Quote](gobreaker.Settings{
			Name:        "fx_api",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// GetRate fetches the latest quote for base→quote.
func (c *Client) GetRate(ctx context.Context, base, quote string) (Quote, error) {
	return c.breaker.Execute(func() (Quote, error) {
		return c.fetch(ctx, base, quote)
	})
}

func (c *Client) fetch(ctx context.Context, base, quote string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/rates?base=%s&quote=%s",
		c.baseURL, url.QueryEscape(base), url.QueryEscape(quote))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", domainErrors.ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: status %d", domainErrors.ErrRateUnavailable, resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", domainErrors.ErrRateUnavailable, err)
	}
	if q.Rate <= 0 {
		return Quote{}, fmt.Errorf("%w: non-positive rate %f", domainErrors.ErrRateUnavailable, q.Rate)
	}
	return q, nil
}
