package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
)

// CancelSubscription disables renewals at the gateway and marks the
// subscription cancelled. It requires the stored subscription code and
// email token; without them there is nothing to disable remotely.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return domainErrors.ErrSubscriptionNotFound
	}
	if sub.SubscriptionCode.IsZero() || sub.EmailToken.IsZero() {
		return domainErrors.NewValidationError("subscription",
			"no gateway subscription on record to cancel")
	}

	code, err := s.secrets.Reveal(ctx, sub.SubscriptionCode)
	if err != nil || code == "" {
		return domainErrors.NewValidationError("subscription",
			"stored subscription code is unusable")
	}
	token, err := s.secrets.Reveal(ctx, sub.EmailToken)
	if err != nil || token == "" {
		return domainErrors.NewValidationError("subscription",
			"stored email token is unusable")
	}

	if err := s.gateway.DisableSubscription(ctx, code, token); err != nil {
		s.logger.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Msg("cancel: gateway disable failed")
		return err
	}

	sub.Cancel(time.Now().UTC())
	if err := s.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}

	s.audit(ctx, "billing.subscription_cancelled", tenantID.String(), map[string]any{
		"tier": string(sub.Tier),
	})
	return nil
}
