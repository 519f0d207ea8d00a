package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// MockConnectionStore is an in-memory ConnectionStore for testing.
// Records are copied on the way in and out.
type MockConnectionStore struct {
	mu      sync.RWMutex
	records map[domain.CacheKey]domain.ConnectionRecord

	// Call counters
	GetCalls                  int
	UpdateAuthenticationCalls int

	// Optional error injection
	GetErr    error
	CreateErr error
	UpdateErr error
}

// NewMockConnectionStore creates a new MockConnectionStore.
func NewMockConnectionStore() *MockConnectionStore {
	return &MockConnectionStore{
		records: make(map[domain.CacheKey]domain.ConnectionRecord),
	}
}

func key(tenantID, id string) domain.CacheKey {
	return domain.CacheKey{TenantID: tenantID, ConnectionID: id}
}

func (m *MockConnectionStore) Create(ctx context.Context, rec *domain.ConnectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.records[key(rec.TenantID, rec.ID)] = *rec
	return nil
}

func (m *MockConnectionStore) Get(ctx context.Context, tenantID, id string) (*domain.ConnectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.records[key(tenantID, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (m *MockConnectionStore) List(ctx context.Context, tenantID string) ([]*domain.ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ConnectionRecord
	for k, rec := range m.records {
		if k.TenantID == tenantID {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockConnectionStore) ListActive(ctx context.Context) ([]*domain.ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ConnectionRecord
	for _, rec := range m.records {
		if rec.IsActive {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockConnectionStore) Update(ctx context.Context, rec *domain.ConnectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	k := key(rec.TenantID, rec.ID)
	if _, ok := m.records[k]; !ok {
		return domain.ErrNotFound
	}
	m.records[k] = *rec
	return nil
}

func (m *MockConnectionStore) UpdateAuthentication(ctx context.Context, tenantID, id, authentication string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateAuthenticationCalls++
	k := key(tenantID, id)
	rec, ok := m.records[k]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Authentication = authentication
	m.records[k] = rec
	return nil
}

func (m *MockConnectionStore) Delete(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, id)
	if _, ok := m.records[k]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, k)
	return nil
}

// Put seeds a record directly, bypassing encryption.
func (m *MockConnectionStore) Put(rec domain.ConnectionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key(rec.TenantID, rec.ID)] = rec
}

// Record returns the stored record, if any.
func (m *MockConnectionStore) Record(tenantID, id string) (domain.ConnectionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key(tenantID, id)]
	return rec, ok
}
