package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
)

// BillingStream is the Redis stream carrying billing jobs.
const BillingStream = "billing:jobs"

// ScheduledSet is the sorted set parking jobs that are not due yet, scored
// by their earliest run time. A promoter loop moves due members onto the
// stream, so a retry scheduled days out costs one ZADD and one promotion
// instead of circulating through the consumer group until its time.
const ScheduledSet = "billing:jobs:scheduled"

// StreamQueue is the Redis Streams implementation of Queue. The runner in
// cmd/worker consumes the stream through a consumer group, which gives the
// at-least-once delivery the dunning machine depends on.
type StreamQueue struct {
	client *redis.Client
}

// NewStreamQueue creates a stream-backed job queue.
func NewStreamQueue(client *redis.Client) *StreamQueue {
	return &StreamQueue{client: client}
}

// Enqueue publishes a job for immediate execution.
func (q *StreamQueue) Enqueue(ctx context.Context, jobType Type, payload map[string]any, tenantID uuid.UUID) (string, error) {
	return q.EnqueueAt(ctx, jobType, payload, tenantID, 0)
}

// EnqueueAt schedules the job to run no earlier than runAt. Future jobs
// park in the scheduled set; due jobs go straight onto the stream.
func (q *StreamQueue) EnqueueAt(ctx context.Context, jobType Type, payload map[string]any, tenantID uuid.UUID, runAt int64) (string, error) {
	if runAt > time.Now().Unix() {
		return q.park(ctx, jobType, payload, tenantID, runAt)
	}
	return q.publish(ctx, jobType, payload, tenantID, runAt)
}

// scheduledJob is the envelope stored as a scheduled-set member.
type scheduledJob struct {
	ID       string         `json:"id"`
	Type     Type           `json:"type"`
	TenantID string         `json:"tenant_id"`
	Payload  map[string]any `json:"payload,omitempty"`
	RunAt    int64          `json:"run_at"`
}

func (q *StreamQueue) park(ctx context.Context, jobType Type, payload map[string]any, tenantID uuid.UUID, runAt int64) (string, error) {
	// The id keeps otherwise identical members from collapsing in the set.
	job := scheduledJob{
		ID:       uuid.New().String(),
		Type:     jobType,
		TenantID: tenantID.String(),
		Payload:  payload,
		RunAt:    runAt,
	}
	member, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal scheduled job: %w", err)
	}
	err = q.client.ZAdd(ctx, ScheduledSet, redis.Z{
		Score:  float64(runAt),
		Member: string(member),
	}).Err()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainErrors.ErrEnqueueFailed, err)
	}
	return job.ID, nil
}

func (q *StreamQueue) publish(ctx context.Context, jobType Type, payload map[string]any, tenantID uuid.UUID, runAt int64) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: BillingStream,
		Values: map[string]any{
			"job_type":  string(jobType),
			"tenant_id": tenantID.String(),
			"payload":   string(body),
			"run_at":    runAt,
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainErrors.ErrEnqueueFailed, err)
	}
	return id, nil
}

// PromoteDue moves scheduled jobs whose time has come onto the stream and
// reports how many it published. ZREM is the claim: with several worker
// instances promoting concurrently, only the one that removes a member
// publishes it.
func (q *StreamQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, ScheduledSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan scheduled jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, ScheduledSet, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim scheduled job: %w", err)
		}
		if removed == 0 {
			continue
		}

		var job scheduledJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			// An unparseable member can never run; drop it.
			continue
		}
		tenantID, err := uuid.Parse(job.TenantID)
		if err != nil {
			continue
		}

		if _, err := q.publish(ctx, job.Type, job.Payload, tenantID, job.RunAt); err != nil {
			// Put the claimed member back so it is not lost.
			_ = q.client.ZAdd(ctx, ScheduledSet, redis.Z{
				Score:  float64(job.RunAt),
				Member: member,
			}).Err()
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// StreamConsumer reads billing jobs from the stream via a consumer group.
type StreamConsumer struct {
	client        *redis.Client
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

// NewStreamConsumer creates a consumer bound to a group and instance name.
func NewStreamConsumer(client *redis.Client, group, consumer string, batchSize int64, blockDuration time.Duration) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// CreateGroup creates the consumer group, tolerating one that already
// exists.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, BillingStream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Read fetches the next batch of jobs. A nil slice means no new messages.
func (c *StreamConsumer) Read(ctx context.Context) ([]Job, []string, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{BillingStream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read job stream: %w", err)
	}

	var out []Job
	var ids []string
	for _, s := range streams {
		for _, msg := range s.Messages {
			job, err := decodeJob(msg)
			if err != nil {
				// Unparseable messages are acked away rather than
				// poisoning the group.
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			out = append(out, job)
			ids = append(ids, msg.ID)
		}
	}
	return out, ids, nil
}

// Ack confirms a processed message.
func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, BillingStream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

func decodeJob(msg redis.XMessage) (Job, error) {
	job := Job{ID: msg.ID}

	jobType, _ := msg.Values["job_type"].(string)
	if jobType == "" {
		return Job{}, fmt.Errorf("job %s missing job_type", msg.ID)
	}
	job.Type = Type(jobType)

	if raw, ok := msg.Values["tenant_id"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Job{}, fmt.Errorf("job %s tenant_id: %w", msg.ID, err)
		}
		job.TenantID = id
	}

	if raw, ok := msg.Values["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Payload); err != nil {
			return Job{}, fmt.Errorf("job %s payload: %w", msg.ID, err)
		}
	}

	if raw, ok := msg.Values["run_at"].(string); ok && raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			job.RunAt = ts
		}
	}
	return job, nil
}
