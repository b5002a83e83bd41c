package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/secret"
)

// NewTestSubscription builds an active subscription with the fields a
// renewal charge needs already populated.
func NewTestSubscription(tenantID uuid.UUID, tier subscription.Tier, currency string) *subscription.Subscription {
	now := time.Now().UTC()
	next := now.Add(30 * 24 * time.Hour)
	return &subscription.Subscription{
		TenantID:          tenantID,
		Tier:              tier,
		Status:            subscription.StatusActive,
		BillingCurrency:   currency,
		NextPaymentDate:   &next,
		AuthorizationCode: secret.NewRef([]byte("AUTH_test")),
		CustomerCode:      secret.NewRef([]byte("CUS_test")),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// SignedWebhookBody is a minimal processor envelope for ingestion tests.
func SignedWebhookBody(event, reference string, tenantID uuid.UUID) []byte {
	return []byte(`{"event":"` + event + `","data":{"reference":"` + reference + `",` +
		`"metadata":{"tenant_id":"` + tenantID.String() + `"}}}`)
}
