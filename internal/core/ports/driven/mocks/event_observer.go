package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// RecordingObserver captures every event it is notified of.
type RecordingObserver struct {
	mu     sync.Mutex
	events []domain.Event
}

func (o *RecordingObserver) Notify(ctx context.Context, event domain.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

// Types returns the recorded event types in order.
func (o *RecordingObserver) Types() []domain.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type
	}
	return out
}

// MockCacheInvalidator is an in-process CacheInvalidator for testing.
type MockCacheInvalidator struct {
	mu        sync.Mutex
	Published []domain.CacheKey
	subs      []func(domain.CacheKey)
}

func (m *MockCacheInvalidator) Publish(ctx context.Context, key domain.CacheKey) error {
	m.mu.Lock()
	m.Published = append(m.Published, key)
	subs := append([]func(domain.CacheKey){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(key)
	}
	return nil
}

func (m *MockCacheInvalidator) Subscribe(ctx context.Context, fn func(domain.CacheKey)) error {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
	<-ctx.Done()
	return nil
}

// MockPendingAuthorizationStore is an in-memory PendingAuthorizationStore for testing.
type MockPendingAuthorizationStore struct {
	mu      sync.Mutex
	entries map[string]domain.PendingAuthorization
	Now     func() time.Time
}

// NewMockPendingAuthorizationStore creates a new MockPendingAuthorizationStore.
func NewMockPendingAuthorizationStore() *MockPendingAuthorizationStore {
	return &MockPendingAuthorizationStore{
		entries: make(map[string]domain.PendingAuthorization),
		Now:     time.Now,
	}
}

func (m *MockPendingAuthorizationStore) Save(ctx context.Context, p *domain.PendingAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[p.State]; ok {
		return domain.ErrStateInUse
	}
	m.entries[p.State] = *p
	return nil
}

func (m *MockPendingAuthorizationStore) Consume(ctx context.Context, state string) (*domain.PendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[state]
	if !ok {
		return nil, nil
	}
	delete(m.entries, state)
	return &p, nil
}

func (m *MockPendingAuthorizationStore) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	n := 0
	for state, p := range m.entries {
		if p.IsExpired(now) {
			delete(m.entries, state)
			n++
		}
	}
	return n, nil
}

// Len returns the number of pending entries.
func (m *MockPendingAuthorizationStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
