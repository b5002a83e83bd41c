package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
)

// PricingRepository implements pricing.Store using PostgreSQL.
type PricingRepository struct {
	pool *pgxpool.Pool
}

// NewPricingRepository creates a new PricingRepository.
func NewPricingRepository(pool *pgxpool.Pool) *PricingRepository {
	return &PricingRepository{pool: pool}
}

func (r *PricingRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// ListPrice returns the static USD list price for a tier and cycle.
func (r *PricingRepository) ListPrice(ctx context.Context, tier subscription.Tier, cycle subscription.BillingCycle) (float64, error) {
	var price float64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT usd_price FROM tier_prices WHERE tier = $1 AND billing_cycle = $2`,
		string(tier), string(cycle),
	).Scan(&price)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domainErrors.ErrPriceUnavailable
		}
		return 0, fmt.Errorf("list price: %w", err)
	}
	return price, nil
}

// PlanOverride returns the newest active pricing-plan override for the
// tier, if one exists.
func (r *PricingRepository) PlanOverride(ctx context.Context, tier subscription.Tier) (float64, bool, error) {
	var price float64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT usd_price FROM pricing_plans
		 WHERE tier = $1 AND active = TRUE
		 ORDER BY created_at DESC
		 LIMIT 1`,
		string(tier),
	).Scan(&price)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("plan override: %w", err)
	}
	return price, true, nil
}
