package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/secret"
)

const subscriptionColumns = `tenant_id, tier, status, billing_currency,
	        last_charge_amount_subunits, last_charge_fx_rate, last_charge_fx_provider,
	        last_charge_reference, last_charge_at, next_payment_date,
	        dunning_attempts, last_dunning_at, dunning_next_retry_at,
	        customer_code, subscription_code, email_token, authorization_code,
	        canceled_at, created_at, updated_at`

// SubscriptionRepository implements subscription.Repository using
// PostgreSQL. Encrypted identifier columns are bytea; the ciphertext is
// opaque to this layer.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// GetByTenant retrieves the tenant's subscription.
func (r *SubscriptionRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	return r.scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID))
}

// GetByChargeReference retrieves the subscription whose last recorded
// charge or checkout carries the given gateway reference.
func (r *SubscriptionRepository) GetByChargeReference(ctx context.Context, reference string) (*subscription.Subscription, error) {
	return r.scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE last_charge_reference = $1`, reference))
}

// Upsert inserts or replaces the tenant's subscription row.
func (r *SubscriptionRepository) Upsert(ctx context.Context, s *subscription.Subscription) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO subscriptions
		 (tenant_id, tier, status, billing_currency,
		  last_charge_amount_subunits, last_charge_fx_rate, last_charge_fx_provider,
		  last_charge_reference, last_charge_at, next_payment_date,
		  dunning_attempts, last_dunning_at, dunning_next_retry_at,
		  customer_code, subscription_code, email_token, authorization_code,
		  canceled_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		  tier=EXCLUDED.tier, status=EXCLUDED.status, billing_currency=EXCLUDED.billing_currency,
		  last_charge_amount_subunits=EXCLUDED.last_charge_amount_subunits,
		  last_charge_fx_rate=EXCLUDED.last_charge_fx_rate,
		  last_charge_fx_provider=EXCLUDED.last_charge_fx_provider,
		  last_charge_reference=EXCLUDED.last_charge_reference,
		  last_charge_at=EXCLUDED.last_charge_at,
		  next_payment_date=EXCLUDED.next_payment_date,
		  dunning_attempts=EXCLUDED.dunning_attempts,
		  last_dunning_at=EXCLUDED.last_dunning_at,
		  dunning_next_retry_at=EXCLUDED.dunning_next_retry_at,
		  customer_code=EXCLUDED.customer_code,
		  subscription_code=EXCLUDED.subscription_code,
		  email_token=EXCLUDED.email_token,
		  authorization_code=EXCLUDED.authorization_code,
		  canceled_at=EXCLUDED.canceled_at,
		  updated_at=EXCLUDED.updated_at`,
		s.TenantID, string(s.Tier), string(s.Status), s.BillingCurrency,
		s.LastChargeAmountSubunits, s.LastChargeFXRate, s.LastChargeFXProvider,
		s.LastChargeReference, s.LastChargeAt, s.NextPaymentDate,
		s.DunningAttempts, s.LastDunningAt, s.DunningNextRetryAt,
		s.CustomerCode.Bytes(), s.SubscriptionCode.Bytes(), s.EmailToken.Bytes(), s.AuthorizationCode.Bytes(),
		s.CanceledAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// Update updates an existing subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE subscriptions SET
		  tier=$1, status=$2, billing_currency=$3,
		  last_charge_amount_subunits=$4, last_charge_fx_rate=$5, last_charge_fx_provider=$6,
		  last_charge_reference=$7, last_charge_at=$8, next_payment_date=$9,
		  dunning_attempts=$10, last_dunning_at=$11, dunning_next_retry_at=$12,
		  customer_code=$13, subscription_code=$14, email_token=$15, authorization_code=$16,
		  canceled_at=$17, updated_at=$18
		 WHERE tenant_id=$19`,
		string(s.Tier), string(s.Status), s.BillingCurrency,
		s.LastChargeAmountSubunits, s.LastChargeFXRate, s.LastChargeFXProvider,
		s.LastChargeReference, s.LastChargeAt, s.NextPaymentDate,
		s.DunningAttempts, s.LastDunningAt, s.DunningNextRetryAt,
		s.CustomerCode.Bytes(), s.SubscriptionCode.Bytes(), s.EmailToken.Bytes(), s.AuthorizationCode.Bytes(),
		s.CanceledAt, s.UpdatedAt, s.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrSubscriptionNotFound
	}
	return nil
}

// ListDueForRenewal returns active subscriptions whose next payment date
// is at or before asOf, oldest first.
func (r *SubscriptionRepository) ListDueForRenewal(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = $1 AND next_payment_date IS NOT NULL AND next_payment_date <= $2
		 ORDER BY next_payment_date ASC
		 LIMIT $3`,
		string(subscription.StatusActive), asOf, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		s, err := r.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// scanSubscription scans a subscription from any source implementing the
// scanner interface.
func (r *SubscriptionRepository) scanSubscription(s scanner) (*subscription.Subscription, error) {
	sub := &subscription.Subscription{}
	var (
		tier, status                                string
		customerCode, subCode, emailToken, authCode []byte
	)
	err := s.Scan(
		&sub.TenantID, &tier, &status, &sub.BillingCurrency,
		&sub.LastChargeAmountSubunits, &sub.LastChargeFXRate, &sub.LastChargeFXProvider,
		&sub.LastChargeReference, &sub.LastChargeAt, &sub.NextPaymentDate,
		&sub.DunningAttempts, &sub.LastDunningAt, &sub.DunningNextRetryAt,
		&customerCode, &subCode, &emailToken, &authCode,
		&sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Tier = subscription.Tier(tier)
	sub.Status = subscription.Status(status)
	sub.CustomerCode = secret.NewRef(customerCode)
	sub.SubscriptionCode = secret.NewRef(subCode)
	sub.EmailToken = secret.NewRef(emailToken)
	sub.AuthorizationCode = secret.NewRef(authCode)
	return sub, nil
}
