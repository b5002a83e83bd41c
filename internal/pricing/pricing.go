// Package pricing is the read-only boundary to the pricing and entitlement
// store.
package pricing

import (
	"context"

	"github.com/cassiomorais/billing/internal/domain/subscription"
)

// Store resolves USD list prices for tiers. Prices are whole USD amounts;
// currency conversion happens in the currency resolver.
type Store interface {
	// ListPrice returns the static USD list price for a tier and cycle.
	ListPrice(ctx context.Context, tier subscription.Tier, cycle subscription.BillingCycle) (float64, error)
	// PlanOverride returns an active pricing-plan override for the tier,
	// if one exists. Renewal charges prefer the override over the list
	// price.
	PlanOverride(ctx context.Context, tier subscription.Tier) (usdPrice float64, found bool, err error)
}
