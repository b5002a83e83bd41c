// Package gateway wraps the payment processor's HTTP API. Every call runs
// behind the external_api circuit breaker and carries a bounded timeout.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/pkg/breaker"
)

// BreakerName is the circuit protecting all processor calls.
const BreakerName = "external_api"

// Config holds gateway credentials and timing.
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to the payment processor.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	breaker    *breaker.Breaker
}

// IsTransient classifies errors that should count toward the circuit
// breaker: timeouts, transport failures, 5xx responses and malformed
// bodies. Business declines do not trip the circuit.
func IsTransient(err error) bool {
	return errors.Is(err, domainErrors.ErrGatewayTimeout) ||
		errors.Is(err, domainErrors.ErrGatewayUnavailable) ||
		errors.Is(err, domainErrors.ErrGatewayMalformedResponse)
}

// New creates a gateway client. The breaker is taken from the shared
// registry so every caller in the process protects the same circuit.
func New(cfg Config, registry *breaker.Registry, breakerCfg breaker.Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, domainErrors.NewConfigError("gateway secret key")
	}
	if cfg.BaseURL == "" {
		return nil, domainErrors.NewConfigError("gateway base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = IsTransient
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		breaker:    registry.GetOrCreate(BreakerName, breakerCfg),
	}, nil
}

// InitializeRequest starts a hosted checkout.
type InitializeRequest struct {
	Email          string
	AmountSubunits int64
	Currency       string
	PlanCode       string // optional
	CallbackURL    string
	Metadata       map[string]any
}

// InitializeResult is the hosted-checkout handle.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// InitializeTransaction creates a checkout session at the processor.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body := map[string]any{
		"email":        req.Email,
		"amount":       req.AmountSubunits,
		"currency":     req.Currency,
		"callback_url": req.CallbackURL,
		"metadata":     req.Metadata,
	}
	if req.PlanCode != "" {
		body["plan"] = req.PlanCode
	}

	data, err := breaker.Run(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.call(ctx, http.MethodPost, "/transaction/initialize", body)
	})
	if err != nil {
		return nil, err
	}

	out := &InitializeResult{
		AuthorizationURL: str(data, "authorization_url"),
		AccessCode:       str(data, "access_code"),
		Reference:        str(data, "reference"),
	}
	if out.AuthorizationURL == "" || out.Reference == "" {
		return nil, fmt.Errorf("%w: initialize response missing checkout fields", domainErrors.ErrGatewayMalformedResponse)
	}
	return out, nil
}

// ChargeRequest charges a stored authorization.
type ChargeRequest struct {
	Email             string
	AmountSubunits    int64
	Currency          string
	AuthorizationCode string
	Metadata          map[string]any
}

// ChargeResult is the outcome of a stored-authorization charge.
type ChargeResult struct {
	Success         bool
	Reference       string
	Message         string
	NextPaymentDate *time.Time
	PlanInterval    string
	Raw             map[string]any
}

// ChargeAuthorization charges a previously stored authorization. A decline
// comes back as a ChargeResult with Success=false, not an error, so the
// dunning machine gets a clean signal.
func (c *Client) ChargeAuthorization(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := map[string]any{
		"email":              req.Email,
		"amount":             req.AmountSubunits,
		"currency":           req.Currency,
		"authorization_code": req.AuthorizationCode,
		"metadata":           req.Metadata,
	}

	data, err := breaker.Run(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.call(ctx, http.MethodPost, "/transaction/charge_authorization", body)
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrGatewayDeclined) {
			return &ChargeResult{Success: false, Message: err.Error()}, nil
		}
		return nil, err
	}

	return &ChargeResult{
		Success:         str(data, "status") == "success",
		Reference:       str(data, "reference"),
		Message:         str(data, "gateway_response"),
		NextPaymentDate: timePtr(data, "next_payment_date"),
		PlanInterval:    nestedStr(data, "plan", "interval"),
		Raw:             data,
	}, nil
}

// Transaction is a verified processor transaction.
type Transaction struct {
	Status            string
	Reference         string
	AmountSubunits    int64
	Currency          string
	CustomerCode      string
	CustomerEmail     string
	AuthorizationCode string
	PlanCode          string
	Raw               map[string]any
}

// VerifyTransaction fetches the terminal state of a transaction.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)
	data, err := breaker.Run(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.call(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}

	return &Transaction{
		Status:            str(data, "status"),
		Reference:         str(data, "reference"),
		AmountSubunits:    i64(data, "amount"),
		Currency:          str(data, "currency"),
		CustomerCode:      nestedStr(data, "customer", "customer_code"),
		CustomerEmail:     nestedStr(data, "customer", "email"),
		AuthorizationCode: nestedStr(data, "authorization", "authorization_code"),
		PlanCode:          nestedStr(data, "plan", "plan_code"),
		Raw:               data,
	}, nil
}

// Subscription is the processor's view of a recurring subscription.
type Subscription struct {
	SubscriptionCode string
	EmailToken       string
	Status           string
	NextPaymentDate  *time.Time
	PlanInterval     string
	PlanCode         string
	Raw              map[string]any
}

// FetchSubscription loads the live subscription by its processor code.
func (c *Client) FetchSubscription(ctx context.Context, code string) (*Subscription, error) {
	path := "/subscription/" + url.PathEscape(code)
	data, err := breaker.Run(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.call(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}

	return &Subscription{
		SubscriptionCode: str(data, "subscription_code"),
		EmailToken:       str(data, "email_token"),
		Status:           str(data, "status"),
		NextPaymentDate:  timePtr(data, "next_payment_date"),
		PlanInterval:     nestedStr(data, "plan", "interval"),
		PlanCode:         nestedStr(data, "plan", "plan_code"),
		Raw:              data,
	}, nil
}

// DisableSubscription stops future renewals for the subscription.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	body := map[string]any{
		"code":  code,
		"token": emailToken,
	}
	_, err := breaker.Run(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.call(ctx, http.MethodPost, "/subscription/disable", body)
	})
	return err
}

// call performs one processor request and unwraps the {status, message,
// data} envelope. It returns the data object; any non-2xx status or body
// that is not a JSON object surfaces as an error, never as success.
func (c *Client) call(ctx context.Context, method, path string, body map[string]any) (map[string]any, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", domainErrors.ErrGatewayTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", domainErrors.ErrGatewayUnavailable, resp.StatusCode)
	}

	var envelope struct {
		Status  *bool           `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrGatewayMalformedResponse, err)
	}
	if envelope.Status == nil {
		return nil, fmt.Errorf("%w: missing status field", domainErrors.ErrGatewayMalformedResponse)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !*envelope.Status {
		msg := envelope.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrGatewayDeclined, msg)
	}

	var data map[string]any
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: data is not an object", domainErrors.ErrGatewayMalformedResponse)
		}
	}
	if data == nil {
		return nil, fmt.Errorf("%w: empty data object", domainErrors.ErrGatewayMalformedResponse)
	}
	return data, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func nestedStr(m map[string]any, key, inner string) string {
	obj, _ := m[key].(map[string]any)
	if obj == nil {
		return ""
	}
	return str(obj, inner)
}

func i64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// timePtr parses the processor's timestamp formats.
func timePtr(m map[string]any, key string) *time.Time {
	raw := str(m, key)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
