package subscription

import (
	"strings"
	"time"

	"github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/secret"
	"github.com/google/uuid"
)

// Tier is the tenant's plan tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(s)) {
	case TierFree:
		return TierFree, nil
	case TierStarter:
		return TierStarter, nil
	case TierGrowth:
		return TierGrowth, nil
	case TierPro:
		return TierPro, nil
	case TierEnterprise:
		return TierEnterprise, nil
	}
	return "", errors.ErrUnsupportedTier
}

// Status is the subscription lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusNonRenewing Status = "non_renewing"
	StatusAttention   Status = "attention"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// BillingCycle is the charge interval.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// ParseCycle validates a billing cycle name.
func ParseCycle(s string) (BillingCycle, error) {
	switch BillingCycle(strings.ToLower(s)) {
	case CycleMonthly:
		return CycleMonthly, nil
	case CycleAnnual:
		return CycleAnnual, nil
	}
	return "", errors.ErrUnsupportedCycle
}

// IntervalDays returns the renewal interval for the cycle.
func (c BillingCycle) IntervalDays() int {
	if c == CycleAnnual {
		return 365
	}
	return 30
}

// Subscription is the one-per-tenant billing record. It is never hard
// deleted; terminal state lives in Status.
type Subscription struct {
	TenantID        uuid.UUID
	Tier            Tier
	Status          Status
	BillingCurrency string

	LastChargeAmountSubunits int64
	LastChargeFXRate         float64
	LastChargeFXProvider     string
	LastChargeReference      string
	LastChargeAt             *time.Time
	NextPaymentDate          *time.Time

	DunningAttempts    int
	LastDunningAt      *time.Time
	DunningNextRetryAt *time.Time

	// Gateway identifiers, encrypted at rest.
	CustomerCode      secret.Ref
	SubscriptionCode  secret.Ref
	EmailToken        secret.Ref
	AuthorizationCode secret.Ref

	CanceledAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New creates a subscription record for a tenant's first checkout.
func New(tenantID uuid.UUID, tier Tier, currency string) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		TenantID:        tenantID,
		Tier:            tier,
		Status:          StatusActive,
		BillingCurrency: currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanTransitionTo checks whether the status transition is allowed.
func (s *Subscription) CanTransitionTo(next Status) bool {
	transitions := map[Status][]Status{
		StatusActive:      {StatusAttention, StatusNonRenewing, StatusCompleted, StatusCancelled},
		StatusAttention:   {StatusActive, StatusCancelled},
		StatusNonRenewing: {StatusActive, StatusCompleted, StatusCancelled},
		StatusCompleted:   {StatusActive},
		StatusCancelled:   {StatusActive},
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Activate moves the subscription to active and clears dunning state.
// dunning_attempts always resets to zero on this transition, and the
// dunning clock clears with it so a later genuine failure is never
// mistaken for a duplicate of the recovered one.
func (s *Subscription) Activate() {
	s.Status = StatusActive
	s.DunningAttempts = 0
	s.LastDunningAt = nil
	s.DunningNextRetryAt = nil
	s.touch()
}

// MarkAttention flags the subscription as having a failing payment method.
func (s *Subscription) MarkAttention() error {
	if s.Status != StatusAttention && !s.CanTransitionTo(StatusAttention) {
		return errors.NewDomainError("invalid_transition",
			"cannot move "+string(s.Status)+" subscription to attention", nil)
	}
	s.Status = StatusAttention
	s.touch()
	return nil
}

// Cancel terminates the subscription.
func (s *Subscription) Cancel(now time.Time) {
	s.Status = StatusCancelled
	s.CanceledAt = &now
	s.touch()
}

// ChargeOutcome captures the fields persisted after a successful gateway
// charge.
type ChargeOutcome struct {
	AmountSubunits  int64
	Currency        string
	FXRate          float64
	FXProvider      string
	Reference       string
	ChargedAt       time.Time
	NextPaymentDate *time.Time
}

// RecordCharge persists a successful charge onto the subscription.
func (s *Subscription) RecordCharge(o ChargeOutcome) {
	s.LastChargeAmountSubunits = o.AmountSubunits
	s.LastChargeFXRate = o.FXRate
	s.LastChargeFXProvider = o.FXProvider
	s.LastChargeReference = o.Reference
	s.BillingCurrency = o.Currency
	chargedAt := o.ChargedAt
	s.LastChargeAt = &chargedAt
	if o.NextPaymentDate != nil {
		s.NextPaymentDate = o.NextPaymentDate
	}
	s.touch()
}

// RegisterDunningAttempt increments the attempt counter and stamps the
// dunning clock, returning the new attempt count.
func (s *Subscription) RegisterDunningAttempt(now time.Time) int {
	s.DunningAttempts++
	s.LastDunningAt = &now
	s.touch()
	return s.DunningAttempts
}

func (s *Subscription) touch() {
	s.UpdatedAt = time.Now().UTC()
}
