package controller

import (
	"time"

	"github.com/cassiomorais/billing/internal/domain/subscription"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string enums, validation tags).
// Controllers convert these to application-layer inputs before calling
// business logic.

// CheckoutRequest holds the input for starting a paid-tier checkout.
type CheckoutRequest struct {
	Tier         string `json:"tier" validate:"required,oneof=starter growth pro enterprise"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly annual"`
	Email        string `json:"email" validate:"required,email"`
	CallbackURL  string `json:"callback_url" validate:"omitempty,url"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
}

// --- Response DTOs ---

// CheckoutResponse is the hosted-checkout handle.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	Reference   string `json:"reference"`
}

// SubscriptionResponse represents a subscription in API responses.
// Encrypted gateway identifiers are reported as presence flags only.
type SubscriptionResponse struct {
	TenantID         string     `json:"tenant_id"`
	Tier             string     `json:"tier"`
	Status           string     `json:"status"`
	BillingCurrency  string     `json:"billing_currency"`
	LastChargeAmount int64      `json:"last_charge_amount_subunits"`
	LastChargeAt     *time.Time `json:"last_charge_at,omitempty"`
	NextPaymentDate  *time.Time `json:"next_payment_date,omitempty"`
	DunningAttempts  int        `json:"dunning_attempts"`
	HasAuthorization bool       `json:"has_authorization"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// WebhookResponse acknowledges an ingested callback. JobID is set when the
// delivery was parked for retry, so the sender has a handle to reference.
type WebhookResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func toSubscriptionResponse(s *subscription.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		TenantID:         s.TenantID.String(),
		Tier:             string(s.Tier),
		Status:           string(s.Status),
		BillingCurrency:  s.BillingCurrency,
		LastChargeAmount: s.LastChargeAmountSubunits,
		LastChargeAt:     s.LastChargeAt,
		NextPaymentDate:  s.NextPaymentDate,
		DunningAttempts:  s.DunningAttempts,
		HasAuthorization: !s.AuthorizationCode.IsZero(),
		CanceledAt:       s.CanceledAt,
		CreatedAt:        s.CreatedAt,
	}
}
