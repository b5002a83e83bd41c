package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/gateway"
)

// CheckoutInput is a request to start a paid-tier checkout.
type CheckoutInput struct {
	TenantID    uuid.UUID
	Tier        string
	Email       string
	CallbackURL string
	Cycle       string
	// Currency is optional; empty means the tenant's configured billing
	// currency, falling back to the system default.
	Currency string
}

// CheckoutSession is the hosted-checkout handle returned to the caller.
type CheckoutSession struct {
	CheckoutURL string
	Reference   string
}

// CreateCheckoutSession builds a checkout session at the gateway and
// upserts the subscription row. Gateway failures are logged with tenant
// context and propagated; nothing is swallowed on this path.
func (s *Service) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	session, err := s.createCheckout(ctx, in)
	if err != nil {
		s.logger.Error().Err(err).
			Str("tenant_id", in.TenantID.String()).
			Str("tier", in.Tier).
			Str("cycle", in.Cycle).
			Msg("checkout session failed")
		return nil, err
	}
	return session, nil
}

func (s *Service) createCheckout(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	tier, err := subscription.ParseTier(in.Tier)
	if err != nil {
		return nil, domainErrors.NewValidationError("tier", "unknown tier "+in.Tier)
	}
	if tier == subscription.TierFree {
		return nil, domainErrors.NewValidationError("tier", "free tier has no checkout")
	}
	cycle, err := subscription.ParseCycle(in.Cycle)
	if err != nil {
		return nil, domainErrors.NewValidationError("billing_cycle", "unknown cycle "+in.Cycle)
	}

	usdPrice, err := s.prices.ListPrice(ctx, tier, cycle)
	if err != nil {
		return nil, fmt.Errorf("list price for %s/%s: %w", tier, cycle, err)
	}

	existing, err := s.subs.GetByTenant(ctx, in.TenantID)
	if err != nil {
		if !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("load subscription: %w", err)
		}
		existing = nil
	}

	var resolved ResolvedCharge
	if in.Currency != "" {
		resolved, err = s.currency.ResolveRequested(ctx, in.Currency, usdPrice)
	} else {
		stored := ""
		if existing != nil {
			stored = existing.BillingCurrency
		}
		resolved, err = s.currency.ResolveStored(ctx, stored, usdPrice)
	}
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Email:          in.Email,
		AmountSubunits: resolved.AmountSubunits,
		Currency:       resolved.Currency,
		CallbackURL:    in.CallbackURL,
		Metadata: map[string]any{
			"tenant_id":       in.TenantID.String(),
			"tier":            string(tier),
			"billing_cycle":   string(cycle),
			"usd_price":       usdPrice,
			"amount_subunits": resolved.AmountSubunits,
			"fx_rate":         resolved.FXRate,
			"fx_provider":     resolved.FXProvider,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize transaction: %w", err)
	}

	sub := existing
	if sub == nil {
		sub = subscription.New(in.TenantID, tier, resolved.Currency)
	}
	sub.Tier = tier
	sub.BillingCurrency = resolved.Currency
	sub.LastChargeAmountSubunits = resolved.AmountSubunits
	sub.LastChargeFXRate = resolved.FXRate
	sub.LastChargeFXProvider = resolved.FXProvider
	sub.LastChargeReference = result.Reference
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	s.audit(ctx, "billing.checkout_initialized", in.TenantID.String(), map[string]any{
		"tier":            string(tier),
		"billing_cycle":   string(cycle),
		"currency":        resolved.Currency,
		"amount_subunits": resolved.AmountSubunits,
		"fx_rate":         resolved.FXRate,
		"fx_provider":     resolved.FXProvider,
		"reference":       result.Reference,
	})

	return &CheckoutSession{
		CheckoutURL: result.AuthorizationURL,
		Reference:   result.Reference,
	}, nil
}
