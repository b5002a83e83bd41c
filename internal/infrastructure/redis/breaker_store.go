package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/billing/pkg/breaker"
	"github.com/redis/go-redis/v9"
)

// BreakerStore mirrors circuit-breaker state in Redis so that every process
// instance agrees on the circuit state. Keys are laid out as
// {prefix}:{breaker_name}:{field}. The half-open probe slot is a short-TTL
// SET NX key, so only one instance fleet-wide can hold the probe.
type BreakerStore struct {
	client *redis.Client
	prefix string
}

// NewBreakerStore creates a shared breaker state store under prefix.
func NewBreakerStore(client *redis.Client, prefix string) *BreakerStore {
	if prefix == "" {
		prefix = "breaker"
	}
	return &BreakerStore{client: client, prefix: prefix}
}

func (s *BreakerStore) key(name, field string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, name, field)
}

// GetState returns the shared state and last failure time for name.
func (s *BreakerStore) GetState(ctx context.Context, name string) (breaker.State, time.Time, bool, error) {
	vals, err := s.client.MGet(ctx, s.key(name, "state"), s.key(name, "last_failure")).Result()
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("get breaker state: %w", err)
	}

	stateStr, ok := vals[0].(string)
	if !ok || stateStr == "" {
		return "", time.Time{}, false, nil
	}

	var lastFailure time.Time
	if ts, ok := vals[1].(string); ok && ts != "" {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			lastFailure = parsed
		}
	}
	return breaker.State(stateStr), lastFailure, true, nil
}

// SetState records the state and last failure time for name.
func (s *BreakerStore) SetState(ctx context.Context, name string, state breaker.State, lastFailure time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(name, "state"), string(state), 0)
	if !lastFailure.IsZero() {
		pipe.Set(ctx, s.key(name, "last_failure"), lastFailure.Format(time.RFC3339Nano), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set breaker state: %w", err)
	}
	return nil
}

// AcquireProbe takes the fleet-wide half-open probe slot via SET NX with a
// short TTL. acquired is false when another instance already holds it.
func (s *BreakerStore) AcquireProbe(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, s.key(name, "probe"), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire probe slot: %w", err)
	}
	return acquired, nil
}

// ReleaseProbe frees the probe slot for name.
func (s *BreakerStore) ReleaseProbe(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name, "probe")).Err(); err != nil {
		return fmt.Errorf("release probe slot: %w", err)
	}
	return nil
}
