// Package audit defines the audit-log boundary.
package audit

import "context"

// Sink records billing events for the audit trail. Write failures are the
// caller's to log; they never abort the billing operation that produced
// the event.
type Sink interface {
	Log(ctx context.Context, eventType, resourceType, resourceID string, details map[string]any) error
}
