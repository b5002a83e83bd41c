package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for subscriptions.
type Repository interface {
	// GetByTenant loads the tenant's subscription row.
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	// Upsert inserts or replaces the tenant's subscription.
	Upsert(ctx context.Context, s *Subscription) error
	// Update persists mutations to an existing subscription.
	Update(ctx context.Context, s *Subscription) error
	// GetByChargeReference finds the subscription whose last charge or
	// checkout carries the given gateway reference.
	GetByChargeReference(ctx context.Context, reference string) (*Subscription, error)
	// ListDueForRenewal returns active subscriptions whose next payment
	// date is at or before asOf.
	ListDueForRenewal(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)
}
