package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus tracks where an accepted callback sits in its lifecycle.
type ProcessingStatus string

const (
	StatusQueued    ProcessingStatus = "queued"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// EventKind is the closed set of processor event types this system reacts
// to. Anything else dispatches to KindUnknown, which is acknowledged
// without mutation.
type EventKind string

const (
	KindChargeSuccess        EventKind = "charge.success"
	KindSubscriptionCreate   EventKind = "subscription.create"
	KindSubscriptionNotRenew EventKind = "subscription.not_renew"
	KindSubscriptionDisable  EventKind = "subscription.disable"
	KindInvoiceCreate        EventKind = "invoice.create"
	KindInvoiceUpdate        EventKind = "invoice.update"
	KindInvoicePaymentFailed EventKind = "invoice.payment_failed"
	KindUnknown              EventKind = "unknown"
)

// ParseKind maps a processor event-type string onto the closed enum.
func ParseKind(s string) EventKind {
	switch EventKind(s) {
	case KindChargeSuccess, KindSubscriptionCreate, KindSubscriptionNotRenew,
		KindSubscriptionDisable, KindInvoiceCreate, KindInvoiceUpdate,
		KindInvoicePaymentFailed:
		return EventKind(s)
	}
	return KindUnknown
}

// Record is the append-only row written for every accepted callback. The
// unique dedup key is the serialization point for duplicate suppression
// across process instances.
type Record struct {
	ID               uuid.UUID
	Provider         string
	EventType        string
	Reference        string
	Signature        string
	RawPayload       []byte
	DedupKey         string
	ProcessingStatus ProcessingStatus
	Attempts         int
	LastError        *string
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
}

// NewRecord builds a queued record with its dedup key computed.
func NewRecord(provider, eventType, reference, signature string, rawPayload []byte) *Record {
	return &Record{
		ID:               uuid.New(),
		Provider:         provider,
		EventType:        eventType,
		Reference:        reference,
		Signature:        signature,
		RawPayload:       rawPayload,
		DedupKey:         DedupKey(provider, eventType, reference, signature),
		ProcessingStatus: StatusQueued,
		ReceivedAt:       time.Now().UTC(),
	}
}

// DedupKey is the deterministic fingerprint of one exact delivery.
func DedupKey(provider, eventType, reference, signature string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(reference))
	h.Write([]byte{0})
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil))
}

// MarkProcessed stamps a successful handler run.
func (r *Record) MarkProcessed(now time.Time) {
	r.ProcessingStatus = StatusProcessed
	r.ProcessedAt = &now
}

// MarkFailed records a handler failure; the record stays retryable until
// the runner gives up.
func (r *Record) MarkFailed(reason string, terminal bool) {
	r.Attempts++
	r.LastError = &reason
	if terminal {
		r.ProcessingStatus = StatusFailed
	} else {
		r.ProcessingStatus = StatusQueued
	}
}
