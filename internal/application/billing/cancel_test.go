package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/secret"
	"github.com/cassiomorais/billing/internal/testutil"
)

func TestCancel_DisablesAtGatewayAndMarksCancelled(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()

	sub := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	sub.SubscriptionCode = secret.NewRef([]byte("SUB_123"))
	sub.EmailToken = secret.NewRef([]byte("tok_456"))
	f.subs.Seed(sub)

	var gotCode, gotToken string
	f.gw.DisableSubscriptionFunc = func(ctx context.Context, code, emailToken string) error {
		gotCode, gotToken = code, emailToken
		return nil
	}

	require.NoError(t, f.svc.CancelSubscription(context.Background(), tenantID))
	assert.Equal(t, "SUB_123", gotCode)
	assert.Equal(t, "tok_456", gotToken)

	stored := f.subs.Stored(tenantID)
	assert.Equal(t, subscription.StatusCancelled, stored.Status)
	assert.NotNil(t, stored.CanceledAt)
	assert.Contains(t, f.auditor.Events(), "billing.subscription_cancelled")
}

func TestCancel_RequiresStoredGatewayIdentifiers(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()
	f.subs.Seed(testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN"))

	err := f.svc.CancelSubscription(context.Background(), tenantID)
	var vErr *domainErrors.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, subscription.StatusActive, f.subs.Stored(tenantID).Status)
}

func TestCancel_UnknownTenant(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	err := f.svc.CancelSubscription(context.Background(), uuid.New())
	require.ErrorIs(t, err, domainErrors.ErrSubscriptionNotFound)
}

func TestCancel_GatewayFailureLeavesSubscriptionUntouched(t *testing.T) {
	f := newServiceFixture(CurrencyConfig{})
	tenantID := uuid.New()

	sub := testutil.NewTestSubscription(tenantID, subscription.TierStarter, "NGN")
	sub.SubscriptionCode = secret.NewRef([]byte("SUB_123"))
	sub.EmailToken = secret.NewRef([]byte("tok_456"))
	f.subs.Seed(sub)

	f.gw.DisableSubscriptionFunc = func(ctx context.Context, code, emailToken string) error {
		return domainErrors.ErrGatewayUnavailable
	}

	err := f.svc.CancelSubscription(context.Background(), tenantID)
	require.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
	assert.Equal(t, subscription.StatusActive, f.subs.Stored(tenantID).Status)
}
