package billing

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/billing/internal/audit"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/pricing"
	"github.com/cassiomorais/billing/internal/secret"
)

// Service orchestrates checkout, renewal and cancellation against the
// subscription record.
type Service struct {
	subs     subscription.Repository
	gateway  Gateway
	currency *CurrencyResolver
	prices   pricing.Store
	tenants  TenantDirectory
	secrets  secret.Codec
	auditor  audit.Sink
	logger   zerolog.Logger
}

// NewService wires the billing orchestrator.
func NewService(
	subs subscription.Repository,
	gw Gateway,
	currency *CurrencyResolver,
	prices pricing.Store,
	tenants TenantDirectory,
	secrets secret.Codec,
	auditor audit.Sink,
	logger zerolog.Logger,
) *Service {
	return &Service{
		subs:     subs,
		gateway:  gw,
		currency: currency,
		prices:   prices,
		tenants:  tenants,
		secrets:  secrets,
		auditor:  auditor,
		logger:   logger.With().Str("component", "billing").Logger(),
	}
}

func (s *Service) audit(ctx context.Context, eventType, resourceID string, details map[string]any) {
	if err := s.auditor.Log(ctx, eventType, "subscription", resourceID, details); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("audit write failed")
	}
}
