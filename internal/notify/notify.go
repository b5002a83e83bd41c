// Package notify is the outbound-notification boundary. Delivery is
// fire-and-forget: a notification that cannot be sent is logged and
// dropped, never allowed to fail a billing operation.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Kind names a notification template.
type Kind string

const (
	KindPaymentFailed      Kind = "payment_failed"
	KindRetryScheduled     Kind = "payment_retry_scheduled"
	KindPlanDowngraded     Kind = "plan_downgraded"
	KindPaymentRecovered   Kind = "payment_recovered"
	KindSubscriptionCancel Kind = "subscription_cancelled"
)

// Sender delivers notifications. Implementations must swallow their own
// failures.
type Sender interface {
	Send(ctx context.Context, kind Kind, tenantID uuid.UUID, details map[string]any)
}

// NotificationStream is the Redis stream the delivery service consumes.
const NotificationStream = "notifications:outbound"

// StreamSender publishes notifications onto a Redis stream for the
// delivery service to pick up.
type StreamSender struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewStreamSender creates a stream-backed sender.
func NewStreamSender(client *redis.Client, logger zerolog.Logger) *StreamSender {
	return &StreamSender{client: client, logger: logger}
}

func (s *StreamSender) Send(ctx context.Context, kind Kind, tenantID uuid.UUID, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("drop notification: marshal failed")
		return
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: NotificationStream,
		Values: map[string]any{
			"kind":      string(kind),
			"tenant_id": tenantID.String(),
			"details":   string(payload),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		s.logger.Error().Err(err).
			Str("kind", string(kind)).
			Str("tenant_id", tenantID.String()).
			Msg("drop notification: publish failed")
	}
}
