// Package dunning implements the payment-failure recovery state machine:
// bounded retries on a fixed schedule, plan downgrade on exhaustion, and
// reactivation on recovery.
package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cassiomorais/billing/internal/application/billing"
	"github.com/cassiomorais/billing/internal/audit"
	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/jobs"
	"github.com/cassiomorais/billing/internal/notify"
)

// Outcome is the result of one dunning step.
type Outcome string

const (
	// OutcomeRetryScheduled means the attempt was recorded and a retry
	// job sits on the queue.
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	// OutcomeCancelled means the retry budget is exhausted: the tenant
	// was downgraded to free and the subscription cancelled.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeDuplicateIgnored means a duplicate failure webhook arrived
	// inside the debounce window and was dropped.
	OutcomeDuplicateIgnored Outcome = "duplicate_ignored"
	// OutcomeRecovered means a retry charge succeeded and the
	// subscription is active again.
	OutcomeRecovered Outcome = "recovered"
)

// Biller is the slice of the billing orchestrator the machine drives.
type Biller interface {
	ChargeRenewal(ctx context.Context, sub *subscription.Subscription) billing.RenewalResult
}

// Config bounds the retry schedule.
type Config struct {
	// MaxAttempts is the attempt count at which the subscription is
	// cancelled instead of retried.
	MaxAttempts int
	// RetryScheduleDays maps attempt number (1-based) to days until the
	// next retry.
	RetryScheduleDays []int
	// DebounceWindow suppresses duplicate failure webhooks arriving
	// close together at the same attempt count.
	DebounceWindow time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if len(out.RetryScheduleDays) == 0 {
		out.RetryScheduleDays = []int{1, 3, 7}
	}
	if out.DebounceWindow <= 0 {
		out.DebounceWindow = 2 * time.Minute
	}
	return out
}

// Machine is the dunning state machine.
type Machine struct {
	subs     subscription.Repository
	biller   Biller
	tenants  billing.TenantDirectory
	queue    jobs.Queue
	notifier notify.Sender
	tx       billing.TransactionManager
	auditor  audit.Sink
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMachine wires the dunning machine.
func NewMachine(
	subs subscription.Repository,
	biller Biller,
	tenants billing.TenantDirectory,
	queue jobs.Queue,
	notifier notify.Sender,
	tx billing.TransactionManager,
	auditor audit.Sink,
	cfg Config,
	logger zerolog.Logger,
) *Machine {
	return &Machine{
		subs:     subs,
		biller:   biller,
		tenants:  tenants,
		queue:    queue,
		notifier: notifier,
		tx:       tx,
		auditor:  auditor,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "dunning").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessFailedPayment reacts to a failed recurring charge. fromWebhook
// marks invocations driven by processor failure webhooks, which are
// debounced against duplicate delivery.
func (m *Machine) ProcessFailedPayment(ctx context.Context, tenantID uuid.UUID, fromWebhook bool) (Outcome, error) {
	sub, err := m.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return "", domainErrors.ErrSubscriptionNotFound
	}

	logger := m.logger.With().
		Str("tenant_id", tenantID.String()).
		Int("dunning_attempts", sub.DunningAttempts).
		Logger()

	now := m.now()
	if fromWebhook && sub.LastDunningAt != nil && now.Sub(*sub.LastDunningAt) < m.cfg.DebounceWindow {
		// The LastDunningAt stamp moves with every recorded attempt, so
		// a hit inside the window is the same attempt delivered twice.
		logger.Info().Msg("duplicate failure webhook ignored")
		return OutcomeDuplicateIgnored, nil
	}

	if sub.DunningAttempts+1 >= m.cfg.MaxAttempts {
		return m.exhaust(ctx, sub, now, logger)
	}
	return m.scheduleRetry(ctx, sub, now, logger)
}

// exhaust is the final-failure path: downgrade to free and cancel in the
// same operation. No further retry is scheduled.
func (m *Machine) exhaust(ctx context.Context, sub *subscription.Subscription, now time.Time, logger zerolog.Logger) (Outcome, error) {
	attempts := sub.RegisterDunningAttempt(now)
	sub.Tier = subscription.TierFree
	sub.Cancel(now)
	sub.DunningNextRetryAt = nil

	if err := m.subs.Update(ctx, sub); err != nil {
		return "", fmt.Errorf("persist exhausted subscription: %w", err)
	}
	if err := m.tenants.SetTier(ctx, sub.TenantID, string(subscription.TierFree)); err != nil {
		logger.Error().Err(err).Msg("plan downgrade sync failed")
	}

	m.notifier.Send(ctx, notify.KindPlanDowngraded, sub.TenantID, map[string]any{
		"attempts": attempts,
	})
	m.auditLog(ctx, "dunning.exhausted", sub.TenantID, map[string]any{
		"attempts": attempts,
	})
	logger.Warn().Int("attempts", attempts).Msg("dunning exhausted, subscription cancelled")
	return OutcomeCancelled, nil
}

// scheduleRetry records the attempt and enqueues the retry atomically: if
// the enqueue fails, the transaction rolls the subscription row back to
// exactly its pre-call state.
func (m *Machine) scheduleRetry(ctx context.Context, sub *subscription.Subscription, now time.Time, logger zerolog.Logger) (Outcome, error) {
	// Work on a copy inside the transaction so a rollback leaves the
	// caller's view untouched as well.
	staged := *sub

	var attempts int
	var retryAt time.Time
	err := m.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		attempts = staged.RegisterDunningAttempt(now)
		if err := staged.MarkAttention(); err != nil {
			return err
		}
		days := m.retryDelayDays(attempts)
		retryAt = now.Add(time.Duration(days) * 24 * time.Hour)
		staged.DunningNextRetryAt = &retryAt

		if err := m.subs.Update(txCtx, &staged); err != nil {
			return fmt.Errorf("persist dunning attempt: %w", err)
		}

		_, err := m.queue.EnqueueAt(txCtx, jobs.TypeDunningRetry, map[string]any{
			"attempt": attempts,
		}, staged.TenantID, retryAt.Unix())
		if err != nil {
			return fmt.Errorf("%w: %v", domainErrors.ErrEnqueueFailed, err)
		}
		return nil
	})
	if err != nil {
		// State rolled back; the tenant still hears about the failure.
		m.notifier.Send(ctx, notify.KindPaymentFailed, sub.TenantID, map[string]any{
			"attempts": sub.DunningAttempts,
		})
		logger.Error().Err(err).Msg("retry scheduling failed, state rolled back")
		return "", err
	}

	*sub = staged
	m.notifier.Send(ctx, notify.KindRetryScheduled, sub.TenantID, map[string]any{
		"attempts": attempts,
		"retry_at": retryAt.Format(time.RFC3339),
	})
	m.auditLog(ctx, "dunning.retry_scheduled", sub.TenantID, map[string]any{
		"attempts": attempts,
		"retry_at": retryAt.Format(time.RFC3339),
	})
	logger.Info().Int("attempts", attempts).Time("retry_at", retryAt).Msg("dunning retry scheduled")
	return OutcomeRetryScheduled, nil
}

// RetryPayment runs a scheduled retry charge. Success reactivates the
// subscription and resynchronizes the tenant's plan; failure feeds back
// into ProcessFailedPayment to continue or exhaust the schedule.
func (m *Machine) RetryPayment(ctx context.Context, tenantID uuid.UUID) (Outcome, error) {
	sub, err := m.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return "", domainErrors.ErrSubscriptionNotFound
	}

	result := m.biller.ChargeRenewal(ctx, sub)
	if !result.Success() {
		m.logger.Info().
			Str("tenant_id", tenantID.String()).
			Str("outcome", string(result.Outcome)).
			Msg("dunning retry charge failed")
		return m.ProcessFailedPayment(ctx, tenantID, false)
	}

	// ChargeRenewal already reactivated and persisted the subscription;
	// attempts are back to zero by the activation invariant.
	if err := m.tenants.SetTier(ctx, tenantID, string(sub.Tier)); err != nil {
		m.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("plan sync failed after recovery")
	}
	m.notifier.Send(ctx, notify.KindPaymentRecovered, tenantID, map[string]any{
		"reference": result.Reference,
	})
	m.auditLog(ctx, "dunning.recovered", tenantID, map[string]any{
		"reference": result.Reference,
	})
	return OutcomeRecovered, nil
}

func (m *Machine) retryDelayDays(attempt int) int {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.cfg.RetryScheduleDays) {
		idx = len(m.cfg.RetryScheduleDays) - 1
	}
	return m.cfg.RetryScheduleDays[idx]
}

func (m *Machine) auditLog(ctx context.Context, event string, tenantID uuid.UUID, details map[string]any) {
	if err := m.auditor.Log(ctx, event, "subscription", tenantID.String(), details); err != nil {
		m.logger.Warn().Err(err).Str("event", event).Msg("audit write failed")
	}
}
