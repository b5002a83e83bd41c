package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines durable storage for webhook records. Insert must rely
// on the store's uniqueness constraint for the dedup key; an in-memory
// guard is not enough when multiple instances ingest callbacks.
type Repository interface {
	// Insert durably stores the record. A second record with the same
	// dedup key returns errors.ErrDuplicateWebhook and writes nothing.
	Insert(ctx context.Context, r *Record) error
	// GetByID loads a record.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// Update persists status transitions made by the retry runner.
	Update(ctx context.Context, r *Record) error
	// ListQueued returns records still awaiting a successful handler run,
	// oldest first.
	ListQueued(ctx context.Context, receivedBefore time.Time, limit int) ([]*Record, error)
}
