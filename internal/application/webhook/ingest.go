// Package webhook accepts processor callbacks exactly once at the
// business-effect level despite at-least-once upstream delivery.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/webhook"
)

// Event is one parsed processor callback handed to the business handler.
type Event struct {
	Kind      webhook.EventKind
	Type      string
	Reference string
	Data      map[string]any
	Raw       []byte
}

// Handler applies the business effect of an event. A returned error leaves
// the durable record queued for the retry runner; it is never surfaced to
// the upstream processor.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// Status is the ingestion response contract.
type Status string

const (
	// StatusProcessed means the handler ran synchronously and
	// succeeded.
	StatusProcessed Status = "processed"
	// StatusDuplicate means this exact delivery was seen before; no
	// side effect ran.
	StatusDuplicate Status = "duplicate"
	// StatusQueued means the callback is durably recorded but the
	// handler failed; the retry runner owns it now.
	StatusQueued Status = "queued"
)

// Result is the outcome of one ingestion.
type Result struct {
	Status   Status
	RecordID uuid.UUID
}

// Config holds the shared webhook secret and origin policy.
type Config struct {
	// Provider names the processor in stored records.
	Provider string
	// Secret is the shared HMAC key. Fatal when empty.
	Secret string
	// StrictOrigin enables the source-IP allow list.
	StrictOrigin bool
	// AllowedIPs is the processor's published egress addresses.
	AllowedIPs []string
}

// Pipeline verifies, deduplicates, durably records and dispatches inbound
// callbacks.
type Pipeline struct {
	records webhook.Repository
	handler Handler
	cfg     Config
	secret  []byte
	allowed map[string]struct{}
	logger  zerolog.Logger
}

// NewPipeline wires the ingestion pipeline. The webhook secret is a
// construction-time requirement.
func NewPipeline(records webhook.Repository, handler Handler, cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	if cfg.Secret == "" {
		return nil, domainErrors.NewConfigError("webhook secret")
	}
	if cfg.Provider == "" {
		cfg.Provider = "paystack"
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = struct{}{}
	}
	return &Pipeline{
		records: records,
		handler: handler,
		cfg:     cfg,
		secret:  []byte(cfg.Secret),
		allowed: allowed,
		logger:  logger.With().Str("component", "webhook").Logger(),
	}, nil
}

// CheckOrigin rejects callbacks from outside the processor's published
// address set. It runs before signature verification in strict
// environments.
func (p *Pipeline) CheckOrigin(remoteAddr string) error {
	if !p.cfg.StrictOrigin {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if _, ok := p.allowed[host]; !ok {
		return domainErrors.ErrForbiddenOrigin
	}
	return nil
}

// VerifySignature checks the signature header against an HMAC-SHA512 of
// the raw body. Missing or mismatched signatures are rejected before any
// parsing happens.
func (p *Pipeline) VerifySignature(signature string, body []byte) error {
	if signature == "" {
		return domainErrors.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, p.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

// Ingest runs the full pipeline for one delivery: origin check, signature
// verification, dedup insert, then the synchronous business handler. Once
// the durable insert succeeds the delivery can no longer be lost; a
// handler failure downgrades the response to queued instead of an error.
func (p *Pipeline) Ingest(ctx context.Context, remoteAddr, signature string, body []byte) (Result, error) {
	if err := p.CheckOrigin(remoteAddr); err != nil {
		return Result{}, err
	}
	if err := p.VerifySignature(signature, body); err != nil {
		return Result{}, err
	}

	ev, err := parseEvent(body)
	if err != nil {
		return Result{}, err
	}

	record := webhook.NewRecord(p.cfg.Provider, ev.Type, ev.Reference, signature, body)
	if err := p.records.Insert(ctx, record); err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateWebhook) {
			p.logger.Info().
				Str("event_type", ev.Type).
				Str("reference", ev.Reference).
				Msg("duplicate webhook suppressed")
			return Result{Status: StatusDuplicate}, nil
		}
		return Result{}, fmt.Errorf("record webhook: %w", err)
	}

	if err := p.handler.Handle(ctx, ev); err != nil {
		// Durably recorded; the retry runner re-invokes the handler.
		record.MarkFailed(err.Error(), false)
		if updateErr := p.records.Update(ctx, record); updateErr != nil {
			p.logger.Error().Err(updateErr).Msg("webhook status update failed")
		}
		p.logger.Warn().Err(err).
			Str("event_type", ev.Type).
			Str("reference", ev.Reference).
			Msg("webhook handler failed, queued for retry")
		return Result{Status: StatusQueued, RecordID: record.ID}, nil
	}

	record.MarkProcessed(time.Now().UTC())
	if err := p.records.Update(ctx, record); err != nil {
		p.logger.Error().Err(err).Msg("webhook status update failed")
	}
	return Result{Status: StatusProcessed, RecordID: record.ID}, nil
}

// Replay re-runs the handler for a queued record. It is called by the
// worker's retry runner, never by the HTTP boundary.
func (p *Pipeline) Replay(ctx context.Context, record *webhook.Record, maxAttempts int) error {
	ev, err := parseEvent(record.RawPayload)
	if err != nil {
		record.MarkFailed(err.Error(), true)
		return p.records.Update(ctx, record)
	}

	if err := p.handler.Handle(ctx, ev); err != nil {
		record.MarkFailed(err.Error(), record.Attempts+1 >= maxAttempts)
		if updateErr := p.records.Update(ctx, record); updateErr != nil {
			return updateErr
		}
		return err
	}

	record.MarkProcessed(time.Now().UTC())
	return p.records.Update(ctx, record)
}

// parseEvent decodes the processor envelope. The body must be a JSON
// object carrying an event type; reference extraction is best effort
// because not every event kind has one.
func parseEvent(body []byte) (Event, error) {
	var envelope struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, domainErrors.NewValidationError("body", "webhook body is not a JSON object")
	}
	if envelope.Event == "" {
		return Event{}, domainErrors.NewValidationError("event", "missing event type")
	}

	reference := ""
	if envelope.Data != nil {
		if v, ok := envelope.Data["reference"].(string); ok {
			reference = v
		} else if v, ok := envelope.Data["subscription_code"].(string); ok {
			reference = v
		}
	}

	return Event{
		Kind:      webhook.ParseKind(envelope.Event),
		Type:      envelope.Event,
		Reference: reference,
		Data:      envelope.Data,
		Raw:       body,
	}, nil
}
