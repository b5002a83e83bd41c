package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/cassiomorais/billing/internal/gateway"
	"github.com/cassiomorais/billing/internal/secret"
)

// Gateway is the processor surface the orchestrator depends on.
type Gateway interface {
	InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	ChargeAuthorization(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*gateway.Transaction, error)
	FetchSubscription(ctx context.Context, code string) (*gateway.Subscription, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
}

// TenantDirectory looks up tenant user data and synchronizes the tenant's
// externally visible plan.
type TenantDirectory interface {
	// FirstUserEmail returns the encrypted email of the tenant's first
	// user record, the billing contact for renewal charges.
	FirstUserEmail(ctx context.Context, tenantID uuid.UUID) (secret.Ref, error)
	// SetTier updates the tenant's entitlement tier.
	SetTier(ctx context.Context, tenantID uuid.UUID, tier string) error
}

// TransactionManager runs fn inside a storage transaction. This is an
// application-layer port, not a domain concern.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
