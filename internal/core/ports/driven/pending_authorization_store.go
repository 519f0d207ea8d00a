package driven

import (
	"context"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// PendingAuthorizationStore holds in-flight OAuth2 authorization states.
// States are single-use and short-lived.
type PendingAuthorizationStore interface {
	// Save stores a pending authorization keyed by its state. It never
	// replaces an existing entry and returns domain.ErrStateInUse instead.
	Save(ctx context.Context, p *domain.PendingAuthorization) error

	// Consume atomically retrieves and deletes the entry for state.
	// Returns nil, nil if no entry exists. Expired entries may still be
	// returned so callers can report expiry distinctly; they are deleted either way.
	Consume(ctx context.Context, state string) (*domain.PendingAuthorization, error)

	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}
