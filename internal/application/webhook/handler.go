package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cassiomorais/billing/internal/application/dunning"
	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/domain/webhook"
	"github.com/cassiomorais/billing/internal/secret"
)

// Dunning is the failed-payment entry point the handler delegates to.
type Dunning interface {
	ProcessFailedPayment(ctx context.Context, tenantID uuid.UUID, fromWebhook bool) (dunning.Outcome, error)
}

// TierSync propagates plan changes back to the tenant directory.
type TierSync interface {
	SetTier(ctx context.Context, tenantID uuid.UUID, tier string) error
}

// BillingHandler applies processor events to subscription state. Unknown
// event kinds are acknowledged without mutation so new processor events
// never produce retry storms.
type BillingHandler struct {
	subs    subscription.Repository
	secrets secret.Codec
	dunning Dunning
	tenants TierSync
	logger  zerolog.Logger
}

// NewBillingHandler wires the event router.
func NewBillingHandler(
	subs subscription.Repository,
	secrets secret.Codec,
	dunning Dunning,
	tenants TierSync,
	logger zerolog.Logger,
) *BillingHandler {
	return &BillingHandler{
		subs:    subs,
		secrets: secrets,
		dunning: dunning,
		tenants: tenants,
		logger:  logger.With().Str("component", "webhook_handler").Logger(),
	}
}

// Handle routes one verified event to its business effect.
func (h *BillingHandler) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case webhook.KindChargeSuccess:
		return h.chargeSuccess(ctx, ev)
	case webhook.KindSubscriptionCreate:
		return h.subscriptionCreate(ctx, ev)
	case webhook.KindSubscriptionNotRenew:
		return h.transitionStatus(ctx, ev, subscription.StatusNonRenewing)
	case webhook.KindSubscriptionDisable:
		return h.transitionStatus(ctx, ev, subscription.StatusCompleted)
	case webhook.KindInvoicePaymentFailed:
		return h.paymentFailed(ctx, ev)
	case webhook.KindInvoiceCreate, webhook.KindInvoiceUpdate:
		// Informational; billing state only moves on charge and
		// subscription events.
		return nil
	default:
		h.logger.Info().Str("event_type", ev.Type).Msg("unhandled webhook event acknowledged")
		return nil
	}
}

// chargeSuccess confirms a charge: the subscription activates and the
// reusable authorization captured by the processor is stored encrypted for
// future renewals.
func (h *BillingHandler) chargeSuccess(ctx context.Context, ev Event) error {
	sub, err := h.resolveSubscription(ctx, ev)
	if err != nil {
		return err
	}

	if auth := nestedString(ev.Data, "authorization", "authorization_code"); auth != "" {
		ref, err := h.secrets.Encrypt(ctx, auth)
		if err != nil {
			return fmt.Errorf("encrypt authorization: %w", err)
		}
		sub.AuthorizationCode = ref
	}
	if customer := nestedString(ev.Data, "customer", "customer_code"); customer != "" {
		ref, err := h.secrets.Encrypt(ctx, customer)
		if err != nil {
			return fmt.Errorf("encrypt customer code: %w", err)
		}
		sub.CustomerCode = ref
	}
	if paidAt := timeField(ev.Data, "paid_at"); paidAt != nil {
		sub.LastChargeAt = paidAt
	}

	sub.Activate()
	if err := h.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("persist charge success: %w", err)
	}

	if h.tenants != nil && sub.Tier != "" {
		if err := h.tenants.SetTier(ctx, sub.TenantID, string(sub.Tier)); err != nil {
			h.logger.Warn().Err(err).
				Str("tenant_id", sub.TenantID.String()).
				Msg("tier sync failed after charge success")
		}
	}

	h.logger.Info().
		Str("tenant_id", sub.TenantID.String()).
		Str("reference", ev.Reference).
		Msg("charge confirmed")
	return nil
}

// subscriptionCreate records the processor-side subscription identifiers
// needed later for cancellation.
func (h *BillingHandler) subscriptionCreate(ctx context.Context, ev Event) error {
	sub, err := h.resolveSubscription(ctx, ev)
	if err != nil {
		return err
	}

	if code := stringField(ev.Data, "subscription_code"); code != "" {
		ref, err := h.secrets.Encrypt(ctx, code)
		if err != nil {
			return fmt.Errorf("encrypt subscription code: %w", err)
		}
		sub.SubscriptionCode = ref
	}
	if token := stringField(ev.Data, "email_token"); token != "" {
		ref, err := h.secrets.Encrypt(ctx, token)
		if err != nil {
			return fmt.Errorf("encrypt email token: %w", err)
		}
		sub.EmailToken = ref
	}
	if next := timeField(ev.Data, "next_payment_date"); next != nil {
		sub.NextPaymentDate = next
	}

	if err := h.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("persist subscription identifiers: %w", err)
	}
	return nil
}

func (h *BillingHandler) transitionStatus(ctx context.Context, ev Event, next subscription.Status) error {
	sub, err := h.resolveSubscription(ctx, ev)
	if err != nil {
		return err
	}
	if sub.Status == next {
		return nil
	}
	if !sub.CanTransitionTo(next) {
		h.logger.Warn().
			Str("tenant_id", sub.TenantID.String()).
			Str("from", string(sub.Status)).
			Str("to", string(next)).
			Msg("ignoring out-of-order subscription event")
		return nil
	}
	sub.Status = next
	sub.UpdatedAt = time.Now().UTC()
	if err := h.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("persist status transition: %w", err)
	}
	return nil
}

func (h *BillingHandler) paymentFailed(ctx context.Context, ev Event) error {
	sub, err := h.resolveSubscription(ctx, ev)
	if err != nil {
		return err
	}
	outcome, err := h.dunning.ProcessFailedPayment(ctx, sub.TenantID, true)
	if err != nil {
		return err
	}
	h.logger.Info().
		Str("tenant_id", sub.TenantID.String()).
		Str("outcome", string(outcome)).
		Msg("payment failure processed")
	return nil
}

// resolveSubscription maps an event to its tenant. Checkout metadata
// carries the tenant id explicitly; events without metadata fall back to
// the gateway charge reference stored at checkout time.
func (h *BillingHandler) resolveSubscription(ctx context.Context, ev Event) (*subscription.Subscription, error) {
	if raw := nestedString(ev.Data, "metadata", "tenant_id"); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return nil, domainErrors.NewValidationError("metadata.tenant_id", "not a valid uuid")
		}
		return h.subs.GetByTenant(ctx, tenantID)
	}
	if ev.Reference != "" {
		return h.subs.GetByChargeReference(ctx, ev.Reference)
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func nestedString(data map[string]any, outer, inner string) string {
	m, ok := data[outer].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := m[inner].(string)
	return v
}

func timeField(data map[string]any, key string) *time.Time {
	raw, ok := data[key].(string)
	if !ok || raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
