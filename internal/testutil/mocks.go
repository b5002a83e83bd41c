package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/domain/subscription"
	"github.com/cassiomorais/billing/internal/domain/webhook"
	"github.com/cassiomorais/billing/internal/fx"
	"github.com/cassiomorais/billing/internal/gateway"
	"github.com/cassiomorais/billing/internal/jobs"
	"github.com/cassiomorais/billing/internal/notify"
	"github.com/cassiomorais/billing/internal/secret"
)

// --- Subscription Repository Mock ---

// MockSubscriptionRepository is an in-memory subscription.Repository.
type MockSubscriptionRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscription.Subscription

	GetByTenantFunc          func(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error)
	UpsertFunc               func(ctx context.Context, s *subscription.Subscription) error
	UpdateFunc               func(ctx context.Context, s *subscription.Subscription) error
	GetByChargeReferenceFunc func(ctx context.Context, reference string) (*subscription.Subscription, error)
	ListDueForRenewalFunc    func(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error)
}

func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{subs: make(map[uuid.UUID]*subscription.Subscription)}
}

// Seed stores a copy of s so later mutations through the repository do not
// alias the caller's value.
func (m *MockSubscriptionRepository) Seed(s *subscription.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.TenantID] = &cp
}

func (m *MockSubscriptionRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	if m.GetByTenantFunc != nil {
		return m.GetByTenantFunc(ctx, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[tenantID]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepository) Upsert(ctx context.Context, s *subscription.Subscription) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.TenantID]; !ok {
		return domainErrors.ErrSubscriptionNotFound
	}
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

func (m *MockSubscriptionRepository) GetByChargeReference(ctx context.Context, reference string) (*subscription.Subscription, error) {
	if m.GetByChargeReferenceFunc != nil {
		return m.GetByChargeReferenceFunc(ctx, reference)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.LastChargeReference == reference {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (m *MockSubscriptionRepository) ListDueForRenewal(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	if m.ListDueForRenewalFunc != nil {
		return m.ListDueForRenewalFunc(ctx, asOf, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*subscription.Subscription
	for _, s := range m.subs {
		if s.Status == subscription.StatusActive && s.NextPaymentDate != nil && !s.NextPaymentDate.After(asOf) {
			cp := *s
			due = append(due, &cp)
			if limit > 0 && len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

// Stored returns the repository's current copy for assertions.
func (m *MockSubscriptionRepository) Stored(tenantID uuid.UUID) *subscription.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[tenantID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// --- Webhook Repository Mock ---

// MockWebhookRepository is an in-memory webhook.Repository with dedup-key
// uniqueness matching the real store's constraint.
type MockWebhookRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*webhook.Record
	byDedup map[string]uuid.UUID

	InsertFunc     func(ctx context.Context, r *webhook.Record) error
	GetByIDFunc    func(ctx context.Context, id uuid.UUID) (*webhook.Record, error)
	UpdateFunc     func(ctx context.Context, r *webhook.Record) error
	ListQueuedFunc func(ctx context.Context, receivedBefore time.Time, limit int) ([]*webhook.Record, error)
}

func NewMockWebhookRepository() *MockWebhookRepository {
	return &MockWebhookRepository{
		records: make(map[uuid.UUID]*webhook.Record),
		byDedup: make(map[string]uuid.UUID),
	}
}

func (m *MockWebhookRepository) Insert(ctx context.Context, r *webhook.Record) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byDedup[r.DedupKey]; exists {
		return domainErrors.ErrDuplicateWebhook
	}
	cp := *r
	m.records[r.ID] = &cp
	m.byDedup[r.DedupKey] = r.ID
	return nil
}

func (m *MockWebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Record, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockWebhookRepository) Update(ctx context.Context, r *webhook.Record) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *MockWebhookRepository) ListQueued(ctx context.Context, receivedBefore time.Time, limit int) ([]*webhook.Record, error) {
	if m.ListQueuedFunc != nil {
		return m.ListQueuedFunc(ctx, receivedBefore, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var queued []*webhook.Record
	for _, r := range m.records {
		if r.ProcessingStatus == webhook.StatusQueued && r.ReceivedAt.Before(receivedBefore) {
			cp := *r
			queued = append(queued, &cp)
			if limit > 0 && len(queued) == limit {
				break
			}
		}
	}
	return queued, nil
}

// Count reports how many records are stored.
func (m *MockWebhookRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// --- Gateway Mock ---

// MockGateway stubs the payment processor client.
type MockGateway struct {
	InitializeTransactionFunc func(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	ChargeAuthorizationFunc   func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	VerifyTransactionFunc     func(ctx context.Context, reference string) (*gateway.Transaction, error)
	FetchSubscriptionFunc     func(ctx context.Context, code string) (*gateway.Subscription, error)
	DisableSubscriptionFunc   func(ctx context.Context, code, emailToken string) error

	mu          sync.Mutex
	InitCalls   []gateway.InitializeRequest
	ChargeCalls []gateway.ChargeRequest
}

func (m *MockGateway) InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	m.mu.Lock()
	m.InitCalls = append(m.InitCalls, req)
	m.mu.Unlock()
	if m.InitializeTransactionFunc != nil {
		return m.InitializeTransactionFunc(ctx, req)
	}
	return &gateway.InitializeResult{
		AuthorizationURL: "https://checkout.example.com/session",
		AccessCode:       "access_test",
		Reference:        "ref_" + uuid.NewString()[:8],
	}, nil
}

func (m *MockGateway) ChargeAuthorization(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	m.mu.Lock()
	m.ChargeCalls = append(m.ChargeCalls, req)
	m.mu.Unlock()
	if m.ChargeAuthorizationFunc != nil {
		return m.ChargeAuthorizationFunc(ctx, req)
	}
	return &gateway.ChargeResult{Success: true, Reference: "chg_" + uuid.NewString()[:8]}, nil
}

func (m *MockGateway) VerifyTransaction(ctx context.Context, reference string) (*gateway.Transaction, error) {
	if m.VerifyTransactionFunc != nil {
		return m.VerifyTransactionFunc(ctx, reference)
	}
	return &gateway.Transaction{Reference: reference, Status: "success"}, nil
}

func (m *MockGateway) FetchSubscription(ctx context.Context, code string) (*gateway.Subscription, error) {
	if m.FetchSubscriptionFunc != nil {
		return m.FetchSubscriptionFunc(ctx, code)
	}
	return &gateway.Subscription{SubscriptionCode: code, Status: "active"}, nil
}

func (m *MockGateway) DisableSubscription(ctx context.Context, code, emailToken string) error {
	if m.DisableSubscriptionFunc != nil {
		return m.DisableSubscriptionFunc(ctx, code, emailToken)
	}
	return nil
}

// --- FX Rate Source Mock ---

// MockRateSource serves canned FX quotes and counts lookups.
type MockRateSource struct {
	GetRateFunc func(ctx context.Context, base, quote string) (fx.Quote, error)

	mu    sync.Mutex
	Calls int
}

func (m *MockRateSource) GetRate(ctx context.Context, base, quote string) (fx.Quote, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.GetRateFunc != nil {
		return m.GetRateFunc(ctx, base, quote)
	}
	return fx.Quote{From: base, To: quote, Rate: 1500, Provider: "test", LastUpdated: time.Now().UTC()}, nil
}

// CallCount returns how many quotes were requested.
func (m *MockRateSource) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// --- Pricing Store Mock ---

// MockPricingStore serves list prices from a static table.
type MockPricingStore struct {
	Prices    map[subscription.Tier]map[subscription.BillingCycle]float64
	Overrides map[subscription.Tier]float64

	ListPriceFunc    func(ctx context.Context, tier subscription.Tier, cycle subscription.BillingCycle) (float64, error)
	PlanOverrideFunc func(ctx context.Context, tier subscription.Tier) (float64, bool, error)
}

func NewMockPricingStore() *MockPricingStore {
	return &MockPricingStore{
		Prices: map[subscription.Tier]map[subscription.BillingCycle]float64{
			subscription.TierStarter: {subscription.CycleMonthly: 29, subscription.CycleAnnual: 290},
			subscription.TierGrowth:  {subscription.CycleMonthly: 79, subscription.CycleAnnual: 790},
			subscription.TierPro:     {subscription.CycleMonthly: 199, subscription.CycleAnnual: 1990},
		},
		Overrides: map[subscription.Tier]float64{},
	}
}

func (m *MockPricingStore) ListPrice(ctx context.Context, tier subscription.Tier, cycle subscription.BillingCycle) (float64, error) {
	if m.ListPriceFunc != nil {
		return m.ListPriceFunc(ctx, tier, cycle)
	}
	cycles, ok := m.Prices[tier]
	if !ok {
		return 0, domainErrors.ErrPriceUnavailable
	}
	price, ok := cycles[cycle]
	if !ok {
		return 0, domainErrors.ErrPriceUnavailable
	}
	return price, nil
}

func (m *MockPricingStore) PlanOverride(ctx context.Context, tier subscription.Tier) (float64, bool, error) {
	if m.PlanOverrideFunc != nil {
		return m.PlanOverrideFunc(ctx, tier)
	}
	price, ok := m.Overrides[tier]
	return price, ok, nil
}

// --- Tenant Directory Mock ---

// MockTenantDirectory stubs tenant lookups and tier sync.
type MockTenantDirectory struct {
	mu     sync.Mutex
	Emails map[uuid.UUID]secret.Ref
	Tiers  map[uuid.UUID]string

	FirstUserEmailFunc func(ctx context.Context, tenantID uuid.UUID) (secret.Ref, error)
	SetTierFunc        func(ctx context.Context, tenantID uuid.UUID, tier string) error
}

func NewMockTenantDirectory() *MockTenantDirectory {
	return &MockTenantDirectory{
		Emails: make(map[uuid.UUID]secret.Ref),
		Tiers:  make(map[uuid.UUID]string),
	}
}

func (m *MockTenantDirectory) FirstUserEmail(ctx context.Context, tenantID uuid.UUID) (secret.Ref, error) {
	if m.FirstUserEmailFunc != nil {
		return m.FirstUserEmailFunc(ctx, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.Emails[tenantID]
	if !ok {
		return secret.Ref{}, domainErrors.ErrTenantNotFound
	}
	return ref, nil
}

func (m *MockTenantDirectory) SetTier(ctx context.Context, tenantID uuid.UUID, tier string) error {
	if m.SetTierFunc != nil {
		return m.SetTierFunc(ctx, tenantID, tier)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tiers[tenantID] = tier
	return nil
}

// TierOf returns the last synced tier for assertions.
func (m *MockTenantDirectory) TierOf(tenantID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tiers[tenantID]
}

// --- Job Queue Mock ---

// EnqueuedJob captures one Enqueue call.
type EnqueuedJob struct {
	Type     jobs.Type
	TenantID uuid.UUID
	Payload  map[string]any
	RunAt    int64
}

// MockQueue records enqueued jobs.
type MockQueue struct {
	mu   sync.Mutex
	Jobs []EnqueuedJob

	EnqueueFunc   func(ctx context.Context, jobType jobs.Type, payload map[string]any, tenantID uuid.UUID) (string, error)
	EnqueueAtFunc func(ctx context.Context, jobType jobs.Type, payload map[string]any, tenantID uuid.UUID, runAt int64) (string, error)
}

func (m *MockQueue) Enqueue(ctx context.Context, jobType jobs.Type, payload map[string]any, tenantID uuid.UUID) (string, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, jobType, payload, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs = append(m.Jobs, EnqueuedJob{Type: jobType, TenantID: tenantID, Payload: payload})
	return uuid.NewString(), nil
}

func (m *MockQueue) EnqueueAt(ctx context.Context, jobType jobs.Type, payload map[string]any, tenantID uuid.UUID, runAt int64) (string, error) {
	if m.EnqueueAtFunc != nil {
		return m.EnqueueAtFunc(ctx, jobType, payload, tenantID, runAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs = append(m.Jobs, EnqueuedJob{Type: jobType, TenantID: tenantID, Payload: payload, RunAt: runAt})
	return uuid.NewString(), nil
}

// Enqueued returns a copy of all recorded jobs.
func (m *MockQueue) Enqueued() []EnqueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EnqueuedJob, len(m.Jobs))
	copy(out, m.Jobs)
	return out
}

// --- Notification Sender Mock ---

// SentNotification captures one Send call.
type SentNotification struct {
	Kind     notify.Kind
	TenantID uuid.UUID
	Details  map[string]any
}

// MockNotifier records outbound notifications.
type MockNotifier struct {
	mu   sync.Mutex
	Sent []SentNotification
}

func (m *MockNotifier) Send(ctx context.Context, kind notify.Kind, tenantID uuid.UUID, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentNotification{Kind: kind, TenantID: tenantID, Details: details})
}

// Kinds returns the kinds sent, in order.
func (m *MockNotifier) Kinds() []notify.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Kind, len(m.Sent))
	for i, s := range m.Sent {
		out[i] = s.Kind
	}
	return out
}

// --- Audit Sink Mock ---

// AuditEntry captures one audit Log call.
type AuditEntry struct {
	EventType    string
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

// MockAuditSink records audit events.
type MockAuditSink struct {
	mu      sync.Mutex
	Entries []AuditEntry

	LogFunc func(ctx context.Context, eventType, resourceType, resourceID string, details map[string]any) error
}

func (m *MockAuditSink) Log(ctx context.Context, eventType, resourceType, resourceID string, details map[string]any) error {
	if m.LogFunc != nil {
		return m.LogFunc(ctx, eventType, resourceType, resourceID, details)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, AuditEntry{EventType: eventType, ResourceType: resourceType, ResourceID: resourceID, Details: details})
	return nil
}

// Events returns the event types logged, in order.
func (m *MockAuditSink) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.EventType
	}
	return out
}

// --- Transaction Manager Mock ---

// MockTxManager runs the callback inline. Set FailWith to make every
// transaction fail without invoking fn.
type MockTxManager struct {
	FailWith error

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	if m.FailWith != nil {
		return m.FailWith
	}
	return fn(ctx)
}

// --- Secret Codec Mock ---

// PlainCodec is a secret.Codec that stores plaintext verbatim. Test only.
type PlainCodec struct{}

func (PlainCodec) Encrypt(ctx context.Context, plaintext string) (secret.Ref, error) {
	return secret.NewRef([]byte(plaintext)), nil
}

func (PlainCodec) Reveal(ctx context.Context, r secret.Ref) (string, error) {
	if r.IsZero() {
		return "", domainErrors.ErrDecryptFailed
	}
	return string(r.Bytes()), nil
}
