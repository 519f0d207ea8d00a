// Package memory holds single-process adapters for state that does not
// need to outlive the gateway process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PendingAuthorizationStore = (*PendingAuthorizationStore)(nil)

// PendingAuthorizationStore keeps in-flight OAuth2 states in a map.
// Expired entries stay until Consume or Sweep removes them.
type PendingAuthorizationStore struct {
	mu      sync.Mutex
	entries map[string]domain.PendingAuthorization
	now     func() time.Time
}

// NewPendingAuthorizationStore creates an empty store.
func NewPendingAuthorizationStore() *PendingAuthorizationStore {
	return &PendingAuthorizationStore{
		entries: make(map[string]domain.PendingAuthorization),
		now:     time.Now,
	}
}

// Save stores a copy of p keyed by its state unless the state is taken.
func (s *PendingAuthorizationStore) Save(_ context.Context, p *domain.PendingAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p.State]; ok {
		return domain.ErrStateInUse
	}
	s.entries[p.State] = *p
	return nil
}

// Consume removes and returns the entry for state under one lock.
func (s *PendingAuthorizationStore) Consume(_ context.Context, state string) (*domain.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[state]
	if !ok {
		return nil, nil
	}
	delete(s.entries, state)
	return &p, nil
}

// Sweep drops expired entries.
func (s *PendingAuthorizationStore) Sweep(context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for state, p := range s.entries {
		if p.IsExpired(now) {
			delete(s.entries, state)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (s *PendingAuthorizationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
