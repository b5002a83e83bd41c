package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// ChargeLock serializes renewal charges for one subscription across worker
// instances. It is a plain SET NX lock with an owner token, so a crashed
// holder expires via TTL and nobody else can release it early.
type ChargeLock struct {
	client   *redis.Client
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewChargeLock creates a lock for the given tenant's renewal charge.
func NewChargeLock(client *redis.Client, tenantID string, ttl time.Duration) *ChargeLock {
	return &ChargeLock{
		client: client,
		key:    fmt.Sprintf("billing:charge-lock:%s", tenantID),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock. It does not block or retry: a renewal
// already being charged elsewhere should be skipped, not queued behind.
func (l *ChargeLock) Acquire(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire charge lock: %w", err)
	}
	l.acquired = success
	return success, nil
}

// Release frees the lock if this instance still owns it.
func (l *ChargeLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("release charge lock: %w", err)
	}
	if val, ok := result.(int64); !ok || val == 0 {
		return fmt.Errorf("charge lock not held or already released")
	}
	l.acquired = false
	return nil
}
