package jobs

import (
	"context"

	"github.com/google/uuid"
)

// Type names a background job handler.
type Type string

const (
	// TypeChargeRenewal charges a due subscription renewal.
	TypeChargeRenewal Type = "billing.charge_renewal"
	// TypeDunningRetry re-attempts a failed renewal on the dunning
	// schedule.
	TypeDunningRetry Type = "billing.dunning_retry"
)

// Job is one unit handed to the runner.
type Job struct {
	ID       string
	Type     Type
	TenantID uuid.UUID
	Payload  map[string]any
	RunAt    int64 // unix seconds; zero means immediately
}

// Queue enqueues jobs for at-least-once future execution by the runner.
type Queue interface {
	Enqueue(ctx context.Context, jobType Type, payload map[string]any, tenantID uuid.UUID) (jobID string, err error)
	// EnqueueAt schedules the job to run no earlier than runAt.
	EnqueueAt(ctx context.Context, jobType Type, payload map[string]any, tenantID uuid.UUID, runAt int64) (jobID string, err error)
}
