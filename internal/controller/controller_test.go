package controller

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/billing/internal/application/billing"
	"github.com/cassiomorais/billing/internal/application/webhook"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test_secret"

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type ackHandler struct {
	err   error
	calls int
}

func (h *ackHandler) Handle(ctx context.Context, ev webhook.Event) error {
	h.calls++
	return h.err
}

type routerFixture struct {
	subs  *testutil.MockSubscriptionRepository
	gw    *testutil.MockGateway
	hooks *testutil.MockWebhookRepository
	ack   *ackHandler
}

func newTestRouter(t *testing.T) (http.Handler, *routerFixture) {
	t.Helper()

	subs := testutil.NewMockSubscriptionRepository()
	gw := &testutil.MockGateway{}
	rates := &testutil.MockRateSource{}
	prices := testutil.NewMockPricingStore()
	tenants := testutil.NewMockTenantDirectory()
	auditor := &testutil.MockAuditSink{}
	logger := zerolog.Nop()

	resolver := billing.NewCurrencyResolver(rates, billing.CurrencyConfig{DefaultCurrency: "NGN"})
	svc := billing.NewService(subs, gw, resolver, prices, tenants, testutil.PlainCodec{}, auditor, logger)

	hooks := testutil.NewMockWebhookRepository()
	ack := &ackHandler{}
	pipeline, err := webhook.NewPipeline(hooks, ack, webhook.Config{Secret: webhookSecret}, logger)
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Billing: NewBillingController(svc, subs, logger),
		Webhook: NewWebhookController(pipeline, "X-Gateway-Signature", logger),
		Health:  &HealthController{},
	})

	return router, &routerFixture{subs: subs, gw: gw, hooks: hooks, ack: ack}
}

func postJSON(t *testing.T, router http.Handler, path string, tenant uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if tenant != uuid.Nil {
		req.Header.Set(TenantHeader, tenant.String())
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckout_Success(t *testing.T) {
	router, f := newTestRouter(t)
	tenant := uuid.New()

	rec := postJSON(t, router, "/api/v1/billing/checkout", tenant, CheckoutRequest{
		Tier:         "starter",
		BillingCycle: "monthly",
		Email:        "billing@acme.test",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CheckoutURL)
	assert.NotEmpty(t, resp.Reference)
	assert.Len(t, f.gw.InitCalls, 1)
}

func TestCheckout_RejectsUnknownTier(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postJSON(t, router, "/api/v1/billing/checkout", uuid.New(), CheckoutRequest{
		Tier:         "platinum",
		BillingCycle: "monthly",
		Email:        "billing@acme.test",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestCheckout_RequiresTenantHeader(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postJSON(t, router, "/api/v1/billing/checkout", uuid.Nil, CheckoutRequest{
		Tier:         "starter",
		BillingCycle: "monthly",
		Email:        "billing@acme.test",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSubscription_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscription", nil)
	req.Header.Set(TenantHeader, uuid.NewString())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Code)
}

func TestGetSubscription_HidesStoredSecrets(t *testing.T) {
	router, f := newTestRouter(t)
	tenant := uuid.New()
	f.subs.Seed(testutil.NewTestSubscription(tenant, subscription.TierGrowth, "NGN"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscription", nil)
	req.Header.Set(TenantHeader, tenant.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "growth", resp.Tier)
	assert.True(t, resp.HasAuthorization)
	assert.NotContains(t, rec.Body.String(), "AUTH_test")
}

func TestCancel_UnknownTenant(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/cancel", nil)
	req.Header.Set(TenantHeader, uuid.NewString())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_AcceptsSignedPayload(t *testing.T) {
	router, f := newTestRouter(t)
	body := testutil.SignedWebhookBody("charge.success", "ref_1", uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", sign(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(webhook.StatusProcessed), resp.Status)
	assert.Empty(t, resp.JobID)
	assert.Equal(t, 1, f.ack.calls)
}

func TestWebhook_HandlerFailureQueuedWithJobID(t *testing.T) {
	router, f := newTestRouter(t)
	f.ack.err = errors.New("downstream unavailable")
	body := testutil.SignedWebhookBody("charge.success", "ref_1", uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", sign(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Parked deliveries still acknowledge so the processor stops
	// redelivering; the returned id is the handle to the parked record.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(webhook.StatusQueued), resp.Status)
	require.NotEmpty(t, resp.JobID)

	recordID, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)
	stored, err := f.hooks.GetByID(context.Background(), recordID)
	require.NoError(t, err)
	assert.Equal(t, "charge.success", stored.EventType)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	router, f := newTestRouter(t)
	body := testutil.SignedWebhookBody("charge.success", "ref_1", uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.ack.calls)
}

func TestWebhook_RejectsWrongContentType(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader([]byte("a=b")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	router, f := newTestRouter(t)
	body := testutil.SignedWebhookBody("charge.success", "ref_dup", uuid.New())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Gateway-Signature", sign(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, f.ack.calls)
	assert.Equal(t, 1, f.hooks.Count())
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
