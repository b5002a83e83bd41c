package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/secret"
)

// TenantRepository implements billing.TenantDirectory using PostgreSQL.
// User emails are stored encrypted; this layer hands back the ciphertext
// as an opaque reference.
type TenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func (r *TenantRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// FirstUserEmail returns the encrypted email of the tenant's first user
// record, the billing contact for renewal charges.
func (r *TenantRepository) FirstUserEmail(ctx context.Context, tenantID uuid.UUID) (secret.Ref, error) {
	var email []byte
	err := r.db(ctx).QueryRow(ctx,
		`SELECT email_encrypted FROM tenant_users
		 WHERE tenant_id = $1
		 ORDER BY created_at ASC
		 LIMIT 1`,
		tenantID,
	).Scan(&email)
	if err != nil {
		if err == pgx.ErrNoRows {
			return secret.Ref{}, domainErrors.ErrTenantNotFound
		}
		return secret.Ref{}, fmt.Errorf("first tenant user: %w", err)
	}
	return secret.NewRef(email), nil
}

// SetTier updates the tenant's entitlement tier.
func (r *TenantRepository) SetTier(ctx context.Context, tenantID uuid.UUID, tier string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE tenants SET tier = $1, updated_at = NOW() WHERE id = $2`,
		tier, tenantID,
	)
	if err != nil {
		return fmt.Errorf("set tenant tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrTenantNotFound
	}
	return nil
}
