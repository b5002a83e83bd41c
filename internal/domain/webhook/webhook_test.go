package webhook

import (
	"testing"
	"time"
)

func TestDedupKey_Deterministic(t *testing.T) {
	a := DedupKey("paystack", "charge.success", "ref-1", "sig-1")
	b := DedupKey("paystack", "charge.success", "ref-1", "sig-1")
	if a != b {
		t.Fatal("same inputs must produce the same key")
	}
}

func TestDedupKey_DistinguishesFields(t *testing.T) {
	base := DedupKey("paystack", "charge.success", "ref-1", "sig-1")
	variants := []string{
		DedupKey("other", "charge.success", "ref-1", "sig-1"),
		DedupKey("paystack", "charge.failed", "ref-1", "sig-1"),
		DedupKey("paystack", "charge.success", "ref-2", "sig-1"),
		DedupKey("paystack", "charge.success", "ref-1", "sig-2"),
		// Field boundaries matter: shifting a character between fields
		// must change the key.
		DedupKey("paystack", "charge.successr", "ef-1", "sig-1"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base key", i)
		}
	}
}

func TestParseKind(t *testing.T) {
	if ParseKind("charge.success") != KindChargeSuccess {
		t.Error("charge.success should parse")
	}
	if ParseKind("invoice.payment_failed") != KindInvoicePaymentFailed {
		t.Error("invoice.payment_failed should parse")
	}
	if ParseKind("transfer.success") != KindUnknown {
		t.Error("unlisted events must map to unknown")
	}
	if ParseKind("") != KindUnknown {
		t.Error("empty event type must map to unknown")
	}
}

func TestRecord_Lifecycle(t *testing.T) {
	r := NewRecord("paystack", "charge.success", "ref-1", "sig-1", []byte(`{}`))
	if r.ProcessingStatus != StatusQueued {
		t.Fatalf("new record must start queued, got %s", r.ProcessingStatus)
	}
	if r.DedupKey == "" {
		t.Fatal("dedup key must be computed on construction")
	}

	r.MarkFailed("handler blew up", false)
	if r.ProcessingStatus != StatusQueued {
		t.Error("non-terminal failure keeps the record queued for retry")
	}
	if r.Attempts != 1 {
		t.Errorf("attempts: got %d", r.Attempts)
	}

	r.MarkProcessed(time.Now())
	if r.ProcessingStatus != StatusProcessed || r.ProcessedAt == nil {
		t.Error("processed transition incomplete")
	}

	r2 := NewRecord("paystack", "charge.success", "ref-1", "sig-1", []byte(`{}`))
	r2.MarkFailed("gave up", true)
	if r2.ProcessingStatus != StatusFailed {
		t.Error("terminal failure must park the record")
	}
}
