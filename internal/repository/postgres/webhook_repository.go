package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/webhook"
)

const webhookColumns = `id, provider, event_type, reference, signature, raw_payload,
	        dedup_key, processing_status, attempts, last_error, received_at, processed_at`

// WebhookRepository implements webhook.Repository using PostgreSQL. The
// unique index on dedup_key is what makes duplicate suppression hold
// across ingesting instances.
type WebhookRepository struct {
	pool *pgxpool.Pool
}

// NewWebhookRepository creates a new WebhookRepository.
func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Insert durably stores a webhook record. A duplicate dedup key maps the
// unique-violation error onto the domain sentinel.
func (r *WebhookRepository) Insert(ctx context.Context, rec *webhook.Record) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events
		 (id, provider, event_type, reference, signature, raw_payload,
		  dedup_key, processing_status, attempts, last_error, received_at, processed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.Provider, rec.EventType, rec.Reference, rec.Signature, rec.RawPayload,
		rec.DedupKey, string(rec.ProcessingStatus), rec.Attempts, rec.LastError, rec.ReceivedAt, rec.ProcessedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateWebhook
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetByID retrieves a webhook record.
func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1`, id))
}

// Update persists status transitions made by the retry runner.
func (r *WebhookRepository) Update(ctx context.Context, rec *webhook.Record) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET
		  processing_status=$1, attempts=$2, last_error=$3, processed_at=$4
		 WHERE id=$5`,
		string(rec.ProcessingStatus), rec.Attempts, rec.LastError, rec.ProcessedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update webhook event: no row for %s", rec.ID)
	}
	return nil
}

// ListQueued returns queued records received before the cutoff, oldest
// first.
func (r *WebhookRepository) ListQueued(ctx context.Context, receivedBefore time.Time, limit int) ([]*webhook.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+webhookColumns+`
		 FROM webhook_events
		 WHERE processing_status = $1 AND received_at < $2
		 ORDER BY received_at ASC
		 LIMIT $3`,
		string(webhook.StatusQueued), receivedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list queued webhooks: %w", err)
	}
	defer rows.Close()

	var records []*webhook.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanRecord scans a webhook record from any source implementing the
// scanner interface.
func (r *WebhookRepository) scanRecord(s scanner) (*webhook.Record, error) {
	rec := &webhook.Record{}
	var status string
	err := s.Scan(
		&rec.ID, &rec.Provider, &rec.EventType, &rec.Reference, &rec.Signature, &rec.RawPayload,
		&rec.DedupKey, &status, &rec.Attempts, &rec.LastError, &rec.ReceivedAt, &rec.ProcessedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("webhook event: %w", pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}
	rec.ProcessingStatus = webhook.ProcessingStatus(status)
	return rec, nil
}
