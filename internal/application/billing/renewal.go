package billing

import (
	"context"
	"strings"
	"time"

	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/gateway"
)

// RenewalOutcome enumerates why a renewal charge did or did not apply. The
// dunning machine branches on these instead of catching exceptions.
type RenewalOutcome string

const (
	RenewalOK                   RenewalOutcome = "ok"
	RenewalMissingAuthorization RenewalOutcome = "missing_authorization"
	RenewalDecryptFailed        RenewalOutcome = "decrypt_failed"
	RenewalMissingEmail         RenewalOutcome = "missing_email"
	RenewalPriceUnavailable     RenewalOutcome = "price_unavailable"
	RenewalDeclined             RenewalOutcome = "gateway_declined"
	RenewalGatewayError         RenewalOutcome = "gateway_error"
)

// RenewalResult is the structured outcome of a renewal charge. This path
// fails closed: preconditions that are not met produce a failure result,
// never a panic or propagated error, because the dunning machine owns
// recovery.
type RenewalResult struct {
	Outcome   RenewalOutcome
	Reference string
	Err       error
}

// Success reports whether the charge applied.
func (r RenewalResult) Success() bool { return r.Outcome == RenewalOK }

func renewalFailure(outcome RenewalOutcome, err error) RenewalResult {
	return RenewalResult{Outcome: outcome, Err: err}
}

// ChargeRenewal charges the subscription's stored authorization for one
// more billing interval and persists the outcome.
func (s *Service) ChargeRenewal(ctx context.Context, sub *subscription.Subscription) RenewalResult {
	logger := s.logger.With().Str("tenant_id", sub.TenantID.String()).Logger()

	if sub.AuthorizationCode.IsZero() {
		return renewalFailure(RenewalMissingAuthorization, nil)
	}
	authCode, err := s.secrets.Reveal(ctx, sub.AuthorizationCode)
	if err != nil || authCode == "" {
		logger.Warn().Err(err).Msg("renewal: stored authorization unusable")
		return renewalFailure(RenewalDecryptFailed, err)
	}

	usdPrice, err := s.renewalPrice(ctx, sub.Tier)
	if err != nil {
		logger.Warn().Err(err).Str("tier", string(sub.Tier)).Msg("renewal: no price for tier")
		return renewalFailure(RenewalPriceUnavailable, err)
	}

	// A stored currency outside the supported set is corrected to the
	// default, not treated as fatal.
	resolved, err := s.currency.ResolveStored(ctx, sub.BillingCurrency, usdPrice)
	if err != nil {
		logger.Warn().Err(err).Msg("renewal: currency resolution failed")
		return renewalFailure(RenewalGatewayError, err)
	}

	email, err := s.billingEmail(ctx, sub)
	if err != nil || email == "" {
		logger.Warn().Err(err).Msg("renewal: no billing contact email")
		return renewalFailure(RenewalMissingEmail, err)
	}

	result, err := s.gateway.ChargeAuthorization(ctx, gateway.ChargeRequest{
		Email:             email,
		AmountSubunits:    resolved.AmountSubunits,
		Currency:          resolved.Currency,
		AuthorizationCode: authCode,
		Metadata: map[string]any{
			"tenant_id": sub.TenantID.String(),
			"tier":      string(sub.Tier),
			"reason":    "renewal",
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("renewal: gateway call failed")
		return renewalFailure(RenewalGatewayError, err)
	}
	if !result.Success {
		logger.Info().Str("gateway_message", result.Message).Msg("renewal: charge declined")
		return renewalFailure(RenewalDeclined, nil)
	}

	now := time.Now().UTC()
	next := s.nextPaymentDate(ctx, sub, result, now)

	sub.RecordCharge(subscription.ChargeOutcome{
		AmountSubunits:  resolved.AmountSubunits,
		Currency:        resolved.Currency,
		FXRate:          resolved.FXRate,
		FXProvider:      resolved.FXProvider,
		Reference:       result.Reference,
		ChargedAt:       now,
		NextPaymentDate: &next,
	})
	sub.Activate()

	if err := s.subs.Update(ctx, sub); err != nil {
		logger.Error().Err(err).Msg("renewal: persist failed after successful charge")
		return renewalFailure(RenewalGatewayError, err)
	}

	s.audit(ctx, "billing.renewal_charged", sub.TenantID.String(), map[string]any{
		"tier":              string(sub.Tier),
		"currency":          resolved.Currency,
		"amount_subunits":   resolved.AmountSubunits,
		"fx_rate":           resolved.FXRate,
		"fx_provider":       resolved.FXProvider,
		"reference":         result.Reference,
		"next_payment_date": next.Format(time.RFC3339),
	})

	return RenewalResult{Outcome: RenewalOK, Reference: result.Reference}
}

// renewalPrice prefers an active pricing-plan override for the tier over
// the static list price.
func (s *Service) renewalPrice(ctx context.Context, tier subscription.Tier) (float64, error) {
	if price, found, err := s.prices.PlanOverride(ctx, tier); err == nil && found {
		return price, nil
	}
	return s.prices.ListPrice(ctx, tier, subscription.CycleMonthly)
}

// billingEmail resolves the tenant's billing contact from its first user
// record.
func (s *Service) billingEmail(ctx context.Context, sub *subscription.Subscription) (string, error) {
	ref, err := s.tenants.FirstUserEmail(ctx, sub.TenantID)
	if err != nil {
		return "", err
	}
	return s.secrets.Reveal(ctx, ref)
}

// nextPaymentDate picks the next renewal date, in order of preference: the
// live subscription at the processor, the charge response, then a computed
// anchor + interval.
func (s *Service) nextPaymentDate(ctx context.Context, sub *subscription.Subscription, result *gateway.ChargeResult, now time.Time) time.Time {
	interval := result.PlanInterval

	if !sub.SubscriptionCode.IsZero() {
		if code, err := s.secrets.Reveal(ctx, sub.SubscriptionCode); err == nil && code != "" {
			if live, err := s.gateway.FetchSubscription(ctx, code); err == nil {
				if live.NextPaymentDate != nil {
					return live.NextPaymentDate.UTC()
				}
				if interval == "" {
					interval = live.PlanInterval
				}
			}
		}
	}

	if result.NextPaymentDate != nil {
		return result.NextPaymentDate.UTC()
	}

	days := subscription.CycleMonthly.IntervalDays()
	if isAnnualInterval(interval) {
		days = subscription.CycleAnnual.IntervalDays()
	}
	intervalDur := time.Duration(days) * 24 * time.Hour

	anchor := now
	if sub.NextPaymentDate != nil && now.Sub(*sub.NextPaymentDate) <= intervalDur {
		anchor = sub.NextPaymentDate.UTC()
	}
	return anchor.Add(intervalDur)
}

func isAnnualInterval(interval string) bool {
	switch strings.ToLower(interval) {
	case "annually", "annual", "yearly", "year":
		return true
	}
	return false
}
