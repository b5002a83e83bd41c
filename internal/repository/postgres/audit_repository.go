package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository implements audit.Sink using PostgreSQL. Rows are append
// only.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Log appends one audit event.
func (r *AuditRepository) Log(ctx context.Context, eventType, resourceType, resourceID string, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO audit_log (id, event_type, resource_type, resource_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New(), eventType, resourceType, resourceID, data,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
