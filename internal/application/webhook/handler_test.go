package webhook

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/billing/internal/application/dunning"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	domainWebhook "github.com/cassiomorais/billing/internal/domain/webhook"
	"github.com/cassiomorais/billing/internal/testutil"
)

type dunningStub struct {
	Calls []uuid.UUID
}

func (d *dunningStub) ProcessFailedPayment(ctx context.Context, tenantID uuid.UUID, fromWebhook bool) (dunning.Outcome, error) {
	d.Calls = append(d.Calls, tenantID)
	return dunning.OutcomeRetryScheduled, nil
}

func newTestHandler(subs *testutil.MockSubscriptionRepository) (*BillingHandler, *dunningStub, *testutil.MockTenantDirectory) {
	dun := &dunningStub{}
	tenants := testutil.NewMockTenantDirectory()
	h := NewBillingHandler(subs, testutil.PlainCodec{}, dun, tenants, zerolog.Nop())
	return h, dun, tenants
}

func chargeSuccessEvent(tenantID uuid.UUID) Event {
	return Event{
		Kind:      domainWebhook.KindChargeSuccess,
		Type:      "charge.success",
		Reference: "ref_42",
		Data: map[string]any{
			"reference": "ref_42",
			"paid_at":   "2026-03-01T10:00:00Z",
			"metadata":  map[string]any{"tenant_id": tenantID.String()},
			"authorization": map[string]any{
				"authorization_code": "AUTH_xyz",
			},
			"customer": map[string]any{
				"customer_code": "CUS_abc",
			},
		},
	}
}

func TestHandler_ChargeSuccessActivatesAndStoresAuthorization(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	sub := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	sub.Status = subscription.StatusAttention
	sub.DunningAttempts = 2
	subs.Seed(sub)

	h, _, tenants := newTestHandler(subs)
	require.NoError(t, h.Handle(context.Background(), chargeSuccessEvent(tenantID)))

	stored := subs.Stored(tenantID)
	require.NotNil(t, stored)
	assert.Equal(t, subscription.StatusActive, stored.Status)
	assert.Equal(t, 0, stored.DunningAttempts)
	assert.Equal(t, "AUTH_xyz", string(stored.AuthorizationCode.Bytes()))
	assert.Equal(t, "CUS_abc", string(stored.CustomerCode.Bytes()))
	require.NotNil(t, stored.LastChargeAt)
	assert.Equal(t, "starter", tenants.TierOf(tenantID))
}

func TestHandler_ChargeSuccessResolvesByReference(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	sub := testutil.NewTestSubscription(tenantID, subscription.TierGrowth, "NGN")
	sub.LastChargeReference = "ref_42"
	subs.Seed(sub)

	h, _, _ := newTestHandler(subs)

	ev := chargeSuccessEvent(tenantID)
	// Without metadata the reference stored at checkout is the only link.
	delete(ev.Data, "metadata")
	require.NoError(t, h.Handle(context.Background(), ev))

	stored := subs.Stored(tenantID)
	assert.Equal(t, subscription.StatusActive, stored.Status)
}

func TestHandler_SubscriptionCreateStoresIdentifiers(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	subs.Seed(testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN"))

	h, _, _ := newTestHandler(subs)
	err := h.Handle(context.Background(), Event{
		Kind: domainWebhook.KindSubscriptionCreate,
		Type: "subscription.create",
		Data: map[string]any{
			"subscription_code": "SUB_123",
			"email_token":       "tok_456",
			"next_payment_date": "2026-04-01T00:00:00Z",
			"metadata":          map[string]any{"tenant_id": tenantID.String()},
		},
	})
	require.NoError(t, err)

	stored := subs.Stored(tenantID)
	assert.Equal(t, "SUB_123", string(stored.SubscriptionCode.Bytes()))
	assert.Equal(t, "tok_456", string(stored.EmailToken.Bytes()))
	require.NotNil(t, stored.NextPaymentDate)
	assert.Equal(t, 2026, stored.NextPaymentDate.Year())
}

func TestHandler_NotRenewAndDisableTransitions(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	subs.Seed(testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN"))

	h, _, _ := newTestHandler(subs)
	ev := Event{
		Kind: domainWebhook.KindSubscriptionNotRenew,
		Type: "subscription.not_renew",
		Data: map[string]any{"metadata": map[string]any{"tenant_id": tenantID.String()}},
	}
	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, subscription.StatusNonRenewing, subs.Stored(tenantID).Status)

	ev.Kind = domainWebhook.KindSubscriptionDisable
	ev.Type = "subscription.disable"
	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, subscription.StatusCompleted, subs.Stored(tenantID).Status)
}

func TestHandler_DisallowedTransitionAcknowledged(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	sub := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	sub.Status = subscription.StatusCancelled
	subs.Seed(sub)

	h, _, _ := newTestHandler(subs)
	err := h.Handle(context.Background(), Event{
		Kind: domainWebhook.KindSubscriptionNotRenew,
		Type: "subscription.not_renew",
		Data: map[string]any{"metadata": map[string]any{"tenant_id": tenantID.String()}},
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, subs.Stored(tenantID).Status)
}

func TestHandler_PaymentFailedDelegatesToDunning(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	subs.Seed(testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN"))

	h, dun, _ := newTestHandler(subs)
	err := h.Handle(context.Background(), Event{
		Kind: domainWebhook.KindInvoicePaymentFailed,
		Type: "invoice.payment_failed",
		Data: map[string]any{"metadata": map[string]any{"tenant_id": tenantID.String()}},
	})
	require.NoError(t, err)
	require.Len(t, dun.Calls, 1)
	assert.Equal(t, tenantID, dun.Calls[0])
}

func TestHandler_UnknownAndInvoiceEventsAreNoOps(t *testing.T) {
	tenantID := uuid.New()
	subs := testutil.NewMockSubscriptionRepository()
	before := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	subs.Seed(before)

	h, dun, _ := newTestHandler(subs)
	for _, kind := range []domainWebhook.EventKind{
		domainWebhook.KindInvoiceCreate,
		domainWebhook.KindInvoiceUpdate,
		domainWebhook.KindUnknown,
	} {
		err := h.Handle(context.Background(), Event{
			Kind: kind,
			Type: string(kind),
			Data: map[string]any{"metadata": map[string]any{"tenant_id": tenantID.String()}},
		})
		require.NoError(t, err)
	}

	stored := subs.Stored(tenantID)
	assert.Equal(t, before.Status, stored.Status)
	assert.Empty(t, dun.Calls)
}
