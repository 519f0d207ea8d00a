package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// MockRequestLogStore is an in-memory RequestLogStore for testing.
type MockRequestLogStore struct {
	mu   sync.Mutex
	logs []domain.RequestLog

	// RecordErr makes every Record call fail
	RecordErr error
}

// NewMockRequestLogStore creates a new MockRequestLogStore.
func NewMockRequestLogStore() *MockRequestLogStore {
	return &MockRequestLogStore{}
}

func (m *MockRequestLogStore) Record(ctx context.Context, log *domain.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.logs = append(m.logs, *log)
	return nil
}

func (m *MockRequestLogStore) ListByConnection(ctx context.Context, tenantID, connectionID string, limit int) ([]*domain.RequestLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RequestLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := m.logs[i]
		if l.TenantID == tenantID && l.ConnectionID == connectionID {
			out = append(out, &l)
		}
	}
	return out, nil
}

func (m *MockRequestLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var removed int64
	for _, l := range m.logs {
		if l.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return removed, nil
}

// All returns every recorded entry in insertion order.
func (m *MockRequestLogStore) All() []domain.RequestLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RequestLog, len(m.logs))
	copy(out, m.logs)
	return out
}
