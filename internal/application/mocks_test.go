package application_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// --- Credential store ---

type memCredentialStore struct {
	mu     sync.Mutex
	creds  map[int64]model.Credential
	nextID int64

	listErr error
	getErr  error
	// beforeCAS runs inside CompareAndUpdate before the version check.
	beforeCAS func()
	casCalls  int
}

func newMemCredentialStore(creds ...model.Credential) *memCredentialStore {
	m := &memCredentialStore{creds: make(map[int64]model.Credential)}
	for _, c := range creds {
		if c.Version == 0 {
			c.Version = 1
		}
		m.creds[c.ID] = c
		m.nextID = max(m.nextID, c.ID)
	}
	return m
}

func (m *memCredentialStore) Get(_ context.Context) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	ids := m.sortedIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	c := m.creds[ids[0]]
	return &c, nil
}

func (m *memCredentialStore) GetByID(_ context.Context, id int64) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		return nil, fmt.Errorf("credential %d: %w", id, driven.ErrCredentialNotFound)
	}
	return &c, nil
}

func (m *memCredentialStore) List(_ context.Context) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.Credential, 0, len(m.creds))
	for _, id := range m.sortedIDs() {
		out = append(out, m.creds[id])
	}
	return out, nil
}

func (m *memCredentialStore) EnsurePlaceholder(ctx context.Context) (*model.Credential, error) {
	m.mu.Lock()
	if ids := m.sortedIDs(); len(ids) > 0 {
		c := m.creds[ids[0]]
		m.mu.Unlock()
		return &c, nil
	}
	m.nextID++
	c := model.Credential{ID: m.nextID, Version: 1}
	m.creds[c.ID] = c
	m.mu.Unlock()
	return &c, nil
}

func (m *memCredentialStore) Upsert(_ context.Context, id int64, update model.CredentialUpdate) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		if id <= 0 {
			m.nextID++
			id = m.nextID
		}
		c = model.Credential{ID: id}
	}
	c = applyUpdate(c, update)
	c.Version++
	m.creds[id] = c
	return &c, nil
}

func (m *memCredentialStore) CompareAndUpdate(_ context.Context, id, version int64, update model.CredentialUpdate) (*model.Credential, error) {
	if m.beforeCAS != nil {
		m.beforeCAS()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	c, ok := m.creds[id]
	if !ok {
		return nil, driven.ErrCredentialNotFound
	}
	if c.Version != version {
		return nil, driven.ErrStaleCredential
	}
	c = applyUpdate(c, update)
	c.Version++
	m.creds[id] = c
	return &c, nil
}

func (m *memCredentialStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, id)
	return nil
}

func (m *memCredentialStore) snapshot(id int64) model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[id]
}

func (m *memCredentialStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(m.creds))
	for id := range m.creds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func applyUpdate(c model.Credential, u model.CredentialUpdate) model.Credential {
	if u.RealmID != nil {
		c.RealmID = *u.RealmID
	}
	if u.AccessToken != nil {
		c.AccessToken = *u.AccessToken
	}
	if u.AccessTokenExpiresAt != nil {
		c.AccessTokenExpiresAt = *u.AccessTokenExpiresAt
	}
	if u.RefreshToken != nil {
		c.RefreshToken = *u.RefreshToken
	}
	if u.RefreshTokenExpiresAt != nil {
		c.RefreshTokenExpiresAt = *u.RefreshTokenExpiresAt
	}
	return c
}

// --- OAuth provider ---

type mockOAuthProvider struct {
	mu           sync.Mutex
	refresh      func(ctx context.Context, refreshToken string) (model.TokenGrant, error)
	exchange     func(ctx context.Context, code string) (model.TokenGrant, error)
	refreshCalls []string
	lastState    string
}

func (m *mockOAuthProvider) AuthCodeURL(state string) string {
	m.mu.Lock()
	m.lastState = state
	m.mu.Unlock()
	return "https://appcenter.intuit.com/connect/oauth2?state=" + state
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code string) (model.TokenGrant, error) {
	return m.exchange(ctx, code)
}

func (m *mockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error) {
	m.mu.Lock()
	m.refreshCalls = append(m.refreshCalls, refreshToken)
	m.mu.Unlock()
	return m.refresh(ctx, refreshToken)
}

func (m *mockOAuthProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshCalls)
}

// --- Task runner ---

type scheduledRun struct {
	Delay time.Duration
	Name  string
	Task  driven.Task
}

type enqueuedRun struct {
	Name   string
	Policy driven.RetryPolicy
	Task   driven.Task
}

// fakeRunner records scheduled work. When inline is set, enqueued tasks run
// synchronously, attempting up to policy.Attempts times without delay.
type fakeRunner struct {
	mu        sync.Mutex
	scheduled []scheduledRun
	enqueued  []enqueuedRun
	inline    bool
	lastErr   error
}

func (f *fakeRunner) ScheduleAfter(delay time.Duration, name string, task driven.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduledRun{Delay: delay, Name: name, Task: task})
}

func (f *fakeRunner) Enqueue(name string, policy driven.RetryPolicy, task driven.Task) {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, enqueuedRun{Name: name, Policy: policy, Task: task})
	inline := f.inline
	f.mu.Unlock()

	if !inline {
		return
	}
	var err error
	for range max(policy.Attempts, 1) {
		if err = task(context.Background()); err == nil {
			break
		}
	}
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

func (f *fakeRunner) scheduledDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, 0, len(f.scheduled))
	for _, s := range f.scheduled {
		out = append(out, s.Delay)
	}
	return out
}

// --- Observer ---

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []driven.RefreshOutcome
	cycles   []time.Duration
}

func (r *recordingObserver) ObserveRefresh(outcome driven.RefreshOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) ObserveCycle(nextDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, nextDelay)
}

// --- Shipment store ---

type memShipmentStore struct {
	mu        sync.Mutex
	shipments map[int64]model.Shipment
	nextID    int64
}

func newMemShipmentStore() *memShipmentStore {
	return &memShipmentStore{shipments: make(map[int64]model.Shipment)}
}

func (m *memShipmentStore) Create(_ context.Context, s model.Shipment) (*model.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	if s.Status == "" {
		s.Status = model.ShipmentStatusPending
	}
	s.UpdatedAt = time.Now()
	m.shipments[s.ID] = s
	return &s, nil
}

func (m *memShipmentStore) GetByID(_ context.Context, id int64) (*model.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, fmt.Errorf("shipment %d: %w", id, driven.ErrShipmentNotFound)
	}
	return &s, nil
}

func (m *memShipmentStore) ListAll(_ context.Context) ([]model.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Shipment, 0, len(m.shipments))
	for _, s := range m.shipments {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memShipmentStore) ListStale(_ context.Context, statuses []model.ShipmentStatus, before time.Time) ([]model.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Shipment
	for _, s := range m.shipments {
		for _, st := range statuses {
			if s.Status == st && s.UpdatedAt.Before(before) {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memShipmentStore) UpdateDetails(_ context.Context, s model.Shipment) error {
	return m.mutate(s.ID, func(stored *model.Shipment) error {
		stored.Description = s.Description
		stored.Items = s.Items
		return nil
	})
}

func (m *memShipmentStore) TransitionStatus(_ context.Context, id int64, from, to model.ShipmentStatus) error {
	if !from.CanTransitionTo(to) {
		return driven.ErrTransitionNotAllowed
	}
	return m.mutate(id, func(s *model.Shipment) error {
		if s.Status != from {
			return driven.ErrStatusConflict
		}
		s.Status = to
		return nil
	})
}

func (m *memShipmentStore) MarkShipped(_ context.Context, id int64, shippedAt time.Time) error {
	return m.mutate(id, func(s *model.Shipment) error {
		if s.Status != model.ShipmentStatusAwaitingShipment {
			return driven.ErrStatusConflict
		}
		s.Status = model.ShipmentStatusShipped
		s.ShippedAt = shippedAt
		return nil
	})
}

func (m *memShipmentStore) SetInvoiceID(_ context.Context, id int64, invoiceID string) error {
	return m.mutate(id, func(s *model.Shipment) error {
		if s.InvoiceID != "" {
			return driven.ErrInvoiceAlreadySet
		}
		s.InvoiceID = invoiceID
		return nil
	})
}

func (m *memShipmentStore) AttachInvoicePDF(_ context.Context, id int64, key string) error {
	return m.mutate(id, func(s *model.Shipment) error {
		s.InvoicePDFKey = key
		return nil
	})
}

func (m *memShipmentStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shipments[id]; !ok {
		return driven.ErrShipmentNotFound
	}
	delete(m.shipments, id)
	return nil
}

func (m *memShipmentStore) mutate(id int64, fn func(*model.Shipment) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return driven.ErrShipmentNotFound
	}
	if err := fn(&s); err != nil {
		return err
	}
	m.shipments[id] = s
	return nil
}

// put stores a shipment as-is, including its UpdatedAt.
func (m *memShipmentStore) put(s model.Shipment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[s.ID] = s
	m.nextID = max(m.nextID, s.ID)
}

// force sets a status directly, bypassing the lifecycle.
func (m *memShipmentStore) force(id int64, status model.ShipmentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.shipments[id]
	s.Status = status
	m.shipments[id] = s
}

func (m *memShipmentStore) status(id int64) model.ShipmentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shipments[id].Status
}

// --- Blob store ---

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string]driven.Blob
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string]driven.Blob)}
}

func (m *memBlobStore) Put(_ context.Context, b driven.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[b.Key] = b
	return nil
}

func (m *memBlobStore) Get(_ context.Context, key string) (*driven.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, driven.ErrBlobNotFound
	}
	return &b, nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// --- Accounting client ---

type mockAccounting struct {
	createInvoice func(ctx context.Context, auth model.AccountingAuth, req model.InvoiceRequest) (*model.Invoice, error)
	fetchInvoice  func(ctx context.Context, auth model.AccountingAuth, id string) (*model.Invoice, error)
	invoicePDF    func(ctx context.Context, auth model.AccountingAuth, invoice model.Invoice) ([]byte, error)

	requests []model.InvoiceRequest
	auths    []model.AccountingAuth
}

func (m *mockAccounting) CreateInvoice(ctx context.Context, auth model.AccountingAuth, req model.InvoiceRequest) (*model.Invoice, error) {
	m.requests = append(m.requests, req)
	m.auths = append(m.auths, auth)
	return m.createInvoice(ctx, auth, req)
}

func (m *mockAccounting) FetchInvoice(ctx context.Context, auth model.AccountingAuth, id string) (*model.Invoice, error) {
	if m.fetchInvoice == nil {
		return &model.Invoice{ID: id}, nil
	}
	return m.fetchInvoice(ctx, auth, id)
}

func (m *mockAccounting) InvoicePDF(ctx context.Context, auth model.AccountingAuth, invoice model.Invoice) ([]byte, error) {
	if m.invoicePDF == nil {
		return nil, nil
	}
	return m.invoicePDF(ctx, auth, invoice)
}
