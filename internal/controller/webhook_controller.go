package controller

import (
	"io"
	"net/http"
	"strings"

	"github.com/cassiomorais/billing/internal/application/webhook"
	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"

	"github.com/rs/zerolog"
)

// maxWebhookBody caps callback payloads at 1 MiB.
const maxWebhookBody = 1 << 20

type WebhookController struct {
	pipeline        *webhook.Pipeline
	signatureHeader string
	logger          zerolog.Logger
}

func NewWebhookController(pipeline *webhook.Pipeline, signatureHeader string, logger zerolog.Logger) *WebhookController {
	if signatureHeader == "" {
		signatureHeader = "X-Gateway-Signature"
	}
	return &WebhookController{
		pipeline:        pipeline,
		signatureHeader: signatureHeader,
		logger:          logger.With().Str("component", "webhook_controller").Logger(),
	}
}

// Receive handles POST /webhooks/gateway. The processor expects a 200
// acknowledgement for anything it should not redeliver, so duplicates and
// events parked for retry both acknowledge.
func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	if strings.TrimSpace(mediaType) != "application/json" {
		writeError(w, domainErrors.ErrUnsupportedContent)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("body", "unreadable body"))
		return
	}

	result, err := c.pipeline.Ingest(r.Context(), r.RemoteAddr, r.Header.Get(c.signatureHeader), body)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := WebhookResponse{Status: string(result.Status)}
	if result.Status == webhook.StatusQueued {
		resp.JobID = result.RecordID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
