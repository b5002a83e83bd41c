package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/gateway"
	"github.com/cassiomorais/billing/internal/secret"
	"github.com/cassiomorais/billing/internal/testutil"
)

func seedRenewable(f *serviceFixture, tenantID uuid.UUID) *subscription.Subscription {
	sub := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	f.subs.Seed(sub)
	f.tenants.Emails[tenantID] = secret.NewRef([]byte("billing@acme.test"))
	return sub
}

func TestRenewal_ChargesStoredAuthorization(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success(), "outcome: %s err: %v", result.Outcome, result.Err)
	assert.NotEmpty(t, result.Reference)

	require.Len(t, f.gw.ChargeCalls, 1)
	charge := f.gw.ChargeCalls[0]
	assert.Equal(t, "AUTH_test", charge.AuthorizationCode)
	assert.Equal(t, "billing@acme.test", charge.Email)
	assert.Equal(t, int64(43500), charge.AmountSubunits)
	assert.Equal(t, "NGN", charge.Currency)

	stored := f.subs.Stored(tenantID)
	assert.Equal(t, subscription.StatusActive, stored.Status)
	assert.Equal(t, 0, stored.DunningAttempts)
	assert.Equal(t, result.Reference, stored.LastChargeReference)
	require.NotNil(t, stored.LastChargeAt)
	assert.Contains(t, f.auditor.Events(), "billing.renewal_charged")
}

func TestRenewal_FailsClosedOnMissingAuthorization(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	sub.AuthorizationCode = secret.Ref{}

	result := f.svc.ChargeRenewal(context.Background(), sub)
	assert.Equal(t, RenewalMissingAuthorization, result.Outcome)
	assert.Empty(t, f.gw.ChargeCalls)
}

func TestRenewal_FailsClosedOnMissingEmail(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	f.subs.Seed(sub)
	// No tenant email seeded.

	result := f.svc.ChargeRenewal(context.Background(), sub)
	assert.Equal(t, RenewalMissingEmail, result.Outcome)
	assert.Empty(t, f.gw.ChargeCalls)
}

func TestRenewal_FailsClosedOnUnknownTierPrice(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	sub.Tier = subscription.TierEnterprise // no price seeded

	result := f.svc.ChargeRenewal(context.Background(), sub)
	assert.Equal(t, RenewalPriceUnavailable, result.Outcome)
	assert.Empty(t, f.gw.ChargeCalls)
}

func TestRenewal_PrefersPlanOverridePrice(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	f.prices.Overrides[subscription.TierStarter] = 19

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success())

	require.Len(t, f.gw.ChargeCalls, 1)
	// $19 override at 1500 instead of the $29 list price.
	assert.Equal(t, int64(28500), f.gw.ChargeCalls[0].AmountSubunits)
}

func TestRenewal_CorrectsUnsupportedStoredCurrency(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	sub.BillingCurrency = "EUR"

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success())

	require.Len(t, f.gw.ChargeCalls, 1)
	assert.Equal(t, "NGN", f.gw.ChargeCalls[0].Currency)
	assert.Equal(t, "NGN", f.subs.Stored(tenantID).BillingCurrency)
}

func TestRenewal_DeclineIsAFailureResultNotAnError(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	f.gw.ChargeAuthorizationFunc = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		return &gateway.ChargeResult{Success: false, Message: "insufficient funds"}, nil
	}

	result := f.svc.ChargeRenewal(context.Background(), sub)
	assert.Equal(t, RenewalDeclined, result.Outcome)
	assert.NoError(t, result.Err)

	// The stored record is untouched on a decline.
	stored := f.subs.Stored(tenantID)
	assert.Empty(t, stored.LastChargeReference)
}

func TestRenewal_GatewayOutageIsGatewayError(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	f.gw.ChargeAuthorizationFunc = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		return nil, domainErrors.ErrGatewayUnavailable
	}

	result := f.svc.ChargeRenewal(context.Background(), sub)
	assert.Equal(t, RenewalGatewayError, result.Outcome)
	assert.ErrorIs(t, result.Err, domainErrors.ErrGatewayUnavailable)
}

func TestRenewal_NextPaymentDatePrefersLiveSubscription(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	sub.SubscriptionCode = secret.NewRef([]byte("SUB_123"))

	live := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	f.gw.FetchSubscriptionFunc = func(ctx context.Context, code string) (*gateway.Subscription, error) {
		return &gateway.Subscription{SubscriptionCode: code, NextPaymentDate: &live}, nil
	}

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success())

	stored := f.subs.Stored(tenantID)
	require.NotNil(t, stored.NextPaymentDate)
	assert.True(t, stored.NextPaymentDate.Equal(live))
}

func TestRenewal_NextPaymentDateFallsBackToAnchorPlusInterval(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)

	anchor := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)
	sub.NextPaymentDate = &anchor

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success())

	stored := f.subs.Stored(tenantID)
	require.NotNil(t, stored.NextPaymentDate)
	// A recent anchor advances by one interval rather than re-anchoring
	// on the charge time.
	want := anchor.Add(30 * 24 * time.Hour)
	assert.True(t, stored.NextPaymentDate.Equal(want),
		"got %s want %s", stored.NextPaymentDate, want)
}

func TestRenewal_StaleAnchorReanchorsOnNow(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)

	stale := time.Now().UTC().Add(-90 * 24 * time.Hour)
	sub.NextPaymentDate = &stale

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success())

	stored := f.subs.Stored(tenantID)
	require.NotNil(t, stored.NextPaymentDate)
	assert.True(t, stored.NextPaymentDate.After(time.Now().UTC().Add(29*24*time.Hour)))
}

func TestRenewal_AnnualPlanIntervalUsesYear(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	sub := seedRenewable(f, tenantID)
	sub.NextPaymentDate = nil
	f.gw.ChargeAuthorizationFunc = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		return &gateway.ChargeResult{Success: true, Reference: "chg_annual", PlanInterval: "annually"}, nil
	}

	result := f.svc.ChargeRenewal(context.Background(), sub)
	require.True(t, result.Success())

	stored := f.subs.Stored(tenantID)
	require.NotNil(t, stored.NextPaymentDate)
	assert.True(t, stored.NextPaymentDate.After(time.Now().UTC().Add(300*24*time.Hour)))
}
