package subscription

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseTier(t *testing.T) {
	if _, err := ParseTier("growth"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseTier("Platinum"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
	tier, err := ParseTier("PRO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier != TierPro {
		t.Errorf("expected pro, got %s", tier)
	}
}

func TestParseCycle(t *testing.T) {
	if _, err := ParseCycle("weekly"); err == nil {
		t.Fatal("expected error for unknown cycle")
	}
	if CycleMonthly.IntervalDays() != 30 {
		t.Errorf("monthly interval: got %d", CycleMonthly.IntervalDays())
	}
	if CycleAnnual.IntervalDays() != 365 {
		t.Errorf("annual interval: got %d", CycleAnnual.IntervalDays())
	}
}

func TestActivate_ResetsDunningState(t *testing.T) {
	s := New(uuid.New(), TierStarter, "NGN")
	s.Status = StatusAttention
	s.DunningAttempts = 2
	retry := time.Now().Add(24 * time.Hour)
	s.DunningNextRetryAt = &retry

	s.Activate()

	if s.Status != StatusActive {
		t.Errorf("expected active, got %s", s.Status)
	}
	if s.DunningAttempts != 0 {
		t.Errorf("dunning attempts must reset to 0, got %d", s.DunningAttempts)
	}
	if s.DunningNextRetryAt != nil {
		t.Error("next retry date must be cleared")
	}
}

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusActive, StatusAttention, true},
		{StatusActive, StatusCancelled, true},
		{StatusAttention, StatusActive, true},
		{StatusAttention, StatusCancelled, true},
		{StatusAttention, StatusCompleted, false},
		{StatusCancelled, StatusActive, true},
		{StatusCancelled, StatusAttention, false},
	}
	for _, tc := range cases {
		s := New(uuid.New(), TierStarter, "NGN")
		s.Status = tc.from
		if got := s.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestMarkAttention_FromCompleted(t *testing.T) {
	s := New(uuid.New(), TierStarter, "NGN")
	s.Status = StatusCompleted
	if err := s.MarkAttention(); err == nil {
		t.Fatal("expected transition error from completed")
	}
}

func TestRecordCharge(t *testing.T) {
	s := New(uuid.New(), TierStarter, "NGN")
	next := time.Now().Add(30 * 24 * time.Hour)
	s.RecordCharge(ChargeOutcome{
		AmountSubunits:  43500,
		Currency:        "NGN",
		FXRate:          1500.0,
		FXProvider:      "cbn",
		Reference:       "ref-123",
		ChargedAt:       time.Now(),
		NextPaymentDate: &next,
	})

	if s.LastChargeAmountSubunits != 43500 {
		t.Errorf("amount: got %d", s.LastChargeAmountSubunits)
	}
	if s.LastChargeFXProvider != "cbn" {
		t.Errorf("provider: got %s", s.LastChargeFXProvider)
	}
	if s.NextPaymentDate == nil || !s.NextPaymentDate.Equal(next) {
		t.Error("next payment date not recorded")
	}
}

func TestRegisterDunningAttempt_Monotonic(t *testing.T) {
	s := New(uuid.New(), TierStarter, "NGN")
	now := time.Now()
	for want := 1; want <= 3; want++ {
		if got := s.RegisterDunningAttempt(now); got != want {
			t.Errorf("attempt %d: got %d", want, got)
		}
	}
	if s.LastDunningAt == nil {
		t.Error("last dunning timestamp not stamped")
	}
}
