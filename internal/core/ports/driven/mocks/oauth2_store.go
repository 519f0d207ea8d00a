package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// MockOAuth2ProviderStore is an in-memory OAuth2ProviderStore for testing.
type MockOAuth2ProviderStore struct {
	mu        sync.RWMutex
	providers map[domain.CacheKey]domain.OAuth2Provider
}

// NewMockOAuth2ProviderStore creates a new MockOAuth2ProviderStore.
func NewMockOAuth2ProviderStore() *MockOAuth2ProviderStore {
	return &MockOAuth2ProviderStore{providers: make(map[domain.CacheKey]domain.OAuth2Provider)}
}

func (m *MockOAuth2ProviderStore) Save(ctx context.Context, p *domain.OAuth2Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[key(p.TenantID, p.ID)] = *p
	return nil
}

func (m *MockOAuth2ProviderStore) Get(ctx context.Context, tenantID, id string) (*domain.OAuth2Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[key(tenantID, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *MockOAuth2ProviderStore) List(ctx context.Context, tenantID string) ([]*domain.OAuth2Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OAuth2Provider
	for k, p := range m.providers {
		if k.TenantID == tenantID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

// MockOAuth2ConnectionStore is an in-memory OAuth2ConnectionStore for testing.
type MockOAuth2ConnectionStore struct {
	mu    sync.RWMutex
	conns map[domain.CacheKey]domain.OAuth2Connection

	UpdateTokensCalls int
	DeleteErr         error
}

// NewMockOAuth2ConnectionStore creates a new MockOAuth2ConnectionStore.
func NewMockOAuth2ConnectionStore() *MockOAuth2ConnectionStore {
	return &MockOAuth2ConnectionStore{conns: make(map[domain.CacheKey]domain.OAuth2Connection)}
}

func (m *MockOAuth2ConnectionStore) Save(ctx context.Context, c *domain.OAuth2Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[key(c.TenantID, c.ID)] = *c
	return nil
}

func (m *MockOAuth2ConnectionStore) Get(ctx context.Context, tenantID, id string) (*domain.OAuth2Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[key(tenantID, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *MockOAuth2ConnectionStore) ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.OAuth2Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OAuth2Connection
	for k, c := range m.conns {
		if k.TenantID == tenantID && c.UserID == userID && c.IsActive {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockOAuth2ConnectionStore) UpdateTokens(ctx context.Context, tenantID, id, accessToken, refreshToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateTokensCalls++
	k := key(tenantID, id)
	c, ok := m.conns[k]
	if !ok {
		return domain.ErrNotFound
	}
	c.EncryptedAccessToken = accessToken
	c.EncryptedRefreshToken = refreshToken
	c.ExpiresAt = expiresAt
	m.conns[k] = c
	return nil
}

func (m *MockOAuth2ConnectionStore) Delete(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	k := key(tenantID, id)
	if _, ok := m.conns[k]; !ok {
		return domain.ErrNotFound
	}
	delete(m.conns, k)
	return nil
}

// Len returns the number of stored connections.
func (m *MockOAuth2ConnectionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
