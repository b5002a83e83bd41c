package controller

import (
	"net/http"

	"github.com/cassiomorais/billing/internal/application/billing"
	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TenantHeader carries the authenticated tenant identity, injected by the
// edge proxy in front of this service.
const TenantHeader = "X-Tenant-ID"

type BillingController struct {
	service *billing.Service
	subs    subscription.Repository
	logger  zerolog.Logger
}

func NewBillingController(service *billing.Service, subs subscription.Repository, logger zerolog.Logger) *BillingController {
	return &BillingController{
		service: service,
		subs:    subs,
		logger:  logger.With().Str("component", "billing_controller").Logger(),
	}
}

func tenantID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(TenantHeader)
	if raw == "" {
		return uuid.Nil, domainErrors.NewValidationError("tenant_id", "missing "+TenantHeader+" header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError("tenant_id", "malformed tenant id")
	}
	return id, nil
}

// Checkout handles POST /api/v1/billing/checkout
func (c *BillingController) Checkout(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CheckoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := c.service.CreateCheckoutSession(r.Context(), billing.CheckoutInput{
		TenantID:    tenant,
		Tier:        req.Tier,
		Cycle:       req.BillingCycle,
		Email:       req.Email,
		CallbackURL: req.CallbackURL,
		Currency:    req.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckoutResponse{
		CheckoutURL: session.CheckoutURL,
		Reference:   session.Reference,
	})
}

// Cancel handles POST /api/v1/billing/cancel
func (c *BillingController) Cancel(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.service.CancelSubscription(r.Context(), tenant); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetSubscription handles GET /api/v1/billing/subscription
func (c *BillingController) GetSubscription(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := c.subs.GetByTenant(r.Context(), tenant)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}
