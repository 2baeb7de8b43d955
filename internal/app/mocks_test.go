package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neomorfeo/tenantplane/internal/adapter/fsm"
	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// --- Mocks ---

type mockRepo struct {
	mu      sync.Mutex
	tenants map[string]domain.Tenant
}

func newMockRepo() *mockRepo {
	return &mockRepo{tenants: make(map[string]domain.Tenant)}
}

func (m *mockRepo) Create(_ context.Context, t domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return &domain.DuplicateTenantError{TenantID: t.ID}
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id string) (domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return t, nil
}

func (m *mockRepo) List(_ context.Context, f domain.ListFilter) ([]domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tenant
	for _, t := range m.tenants {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, t domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tenants[t.ID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.Generation = cur.Generation
	m.tenants[t.ID] = t
	return nil
}

func (m *mockRepo) NextGeneration(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return 0, domain.ErrTenantNotFound
	}
	t.Generation++
	m.tenants[id] = t
	return t.Generation, nil
}

type mockDeployments struct {
	mu      sync.Mutex
	records map[string]domain.Deployment
}

func newMockDeployments() *mockDeployments {
	return &mockDeployments{records: make(map[string]domain.Deployment)}
}

func (m *mockDeployments) Put(_ context.Context, d domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[d.TenantID] = d
	return nil
}

func (m *mockDeployments) Get(_ context.Context, id string) (domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[id]
	if !ok {
		return domain.Deployment{}, domain.ErrDeploymentNotFound
	}
	return d, nil
}

func (m *mockDeployments) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

type mockLedger struct {
	mu        sync.Mutex
	steps     map[string]domain.StepRecord
	processed map[domain.DeliveryKey]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		steps:     make(map[string]domain.StepRecord),
		processed: make(map[domain.DeliveryKey]bool),
	}
}

func (m *mockLedger) Step(_ context.Context, tenantID, step string) (domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.steps[tenantID+"/"+step]
	if !ok {
		return domain.StepRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *mockLedger) RecordStep(_ context.Context, rec domain.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[rec.TenantID+"/"+rec.Step] = rec
	return nil
}

func (m *mockLedger) Processed(_ context.Context, key domain.DeliveryKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[key], nil
}

func (m *mockLedger) MarkProcessed(_ context.Context, key domain.DeliveryKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[key] = true
	return nil
}

// mockBus records every published envelope and keeps a FIFO of those not
// yet handled.
type mockBus struct {
	mu        sync.Mutex
	published []domain.Envelope
	queue     []domain.Envelope
	failNext  error
}

func (m *mockBus) Publish(_ context.Context, env domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.published = append(m.published, env)
	m.queue = append(m.queue, env)
	return nil
}

func (m *mockBus) next() (domain.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return domain.Envelope{}, false
	}
	env := m.queue[0]
	m.queue = m.queue[1:]
	return env, true
}

// lose drops every queued event, as if the process died before handling.
func (m *mockBus) lose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
}

func (m *mockBus) types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, 0, len(m.published))
	for _, e := range m.published {
		out = append(out, e.Type)
	}
	return out
}

func (m *mockBus) last(t domain.EventType) (domain.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Type == t {
			return m.published[i], true
		}
	}
	return domain.Envelope{}, false
}

// script hands out queued errors, one per call, then nil.
type script struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *script) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *script) fail(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

type mockIdentity struct {
	provision   script
	deprovision script

	// started is closed on the first Provision call; Provision then waits
	// on release when it is set.
	started chan struct{}
	release chan struct{}
	once    sync.Once

	// hangs is the number of Provision calls that block until their
	// context ends.
	mu    sync.Mutex
	hangs int
}

func (m *mockIdentity) hang(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hangs = n
}

func (m *mockIdentity) Provision(ctx context.Context, tenantID string) (domain.Identity, error) {
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.release != nil {
		<-m.release
	}
	err := m.provision.next()

	m.mu.Lock()
	hang := m.hangs > 0
	if hang {
		m.hangs--
	}
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return domain.Identity{}, ctx.Err()
	}

	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{PoolID: "pool-" + tenantID, ClientID: "client-" + tenantID}, nil
}

func (m *mockIdentity) Deprovision(_ context.Context, _ string) error {
	return m.deprovision.next()
}

type mockGateway struct {
	provision   script
	deprovision script

	mu        sync.Mutex
	throttles []domain.ThrottleClass
	seen      []domain.Identity
}

func (m *mockGateway) Provision(_ context.Context, tenantID string, throttle domain.ThrottleClass, id domain.Identity) (domain.Gateway, error) {
	m.mu.Lock()
	m.throttles = append(m.throttles, throttle)
	m.seen = append(m.seen, id)
	m.mu.Unlock()
	if err := m.provision.next(); err != nil {
		return domain.Gateway{}, err
	}
	return domain.Gateway{URL: "https://" + tenantID + ".gateway.test/prod", APIKeyID: "key-" + tenantID}, nil
}

func (m *mockGateway) Deprovision(_ context.Context, _ string) error {
	return m.deprovision.next()
}

// --- Harness ---

type harness struct {
	orch        *app.Orchestrator
	repo        *mockRepo
	deployments *mockDeployments
	ledger      *mockLedger
	bus         *mockBus
	identity    *mockIdentity
	gateway     *mockGateway
}

func newHarness(t *testing.T, opts ...func(*app.Config)) *harness {
	t.Helper()
	catalog, err := domain.NewTierCatalog(domain.DefaultTierDefinitions())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	h := &harness{
		repo:        newMockRepo(),
		deployments: newMockDeployments(),
		ledger:      newMockLedger(),
		bus:         &mockBus{},
		identity:    &mockIdentity{},
		gateway:     &mockGateway{},
	}
	cfg := app.Config{
		DefaultCommitID: "abc123",
		StepTimeout:     time.Second,
		InitialBackoff:  time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.orch = app.NewOrchestrator(app.Deps{
		Tenants:     h.repo,
		Deployments: h.deployments,
		Ledger:      h.ledger,
		Bus:         h.bus,
		Validator:   fsm.New(),
		Catalog:     catalog,
		Identity:    h.identity,
		Gateway:     h.gateway,
	}, cfg)
	return h
}

// drain handles queued events in publish order until none are left.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; ; i++ {
		if i > 100 {
			t.Fatal("event loop did not settle")
		}
		env, ok := h.bus.next()
		if !ok {
			return
		}
		if err := h.orch.OnControlPlaneEvent(context.Background(), env); err != nil {
			t.Fatalf("handling %s: %v", env.Type, err)
		}
	}
}

func (h *harness) onboard(t *testing.T, id string, tier domain.Tier) domain.Tenant {
	t.Helper()
	tenant := domain.Tenant{ID: id, Name: "Tenant " + id, Email: id + "@tenants.test", Tier: tier}
	got, err := h.orch.RequestOnboarding(context.Background(), tenant, domain.DeployTarget{})
	if err != nil {
		t.Fatalf("RequestOnboarding(%s): %v", id, err)
	}
	return got
}

func (h *harness) status(t *testing.T, id string) domain.Tenant {
	t.Helper()
	tenant, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return tenant
}

func assertStatus(t *testing.T, tenant domain.Tenant, want domain.Status) {
	t.Helper()
	if tenant.Status != want {
		t.Errorf("Status = %q, want %q (failed step %q: %s)", tenant.Status, want, tenant.FailedStep, tenant.FailureReason)
	}
}

func assertTypes(t *testing.T, got []domain.EventType, want ...domain.EventType) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

var errUnavailable = errors.New("service unavailable")
