package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// OAuth2ProviderStore persists tenant OAuth2 provider definitions.
type OAuth2ProviderStore interface {
	// Save stores or updates a provider (client secret already encrypted)
	Save(ctx context.Context, p *domain.OAuth2Provider) error

	// Get retrieves a provider by tenant and ID.
	// Returns domain.ErrNotFound if it doesn't exist for that tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.OAuth2Provider, error)

	// List retrieves all providers for a tenant
	List(ctx context.Context, tenantID string) ([]*domain.OAuth2Provider, error)
}

// OAuth2ConnectionStore persists completed authorizations.
type OAuth2ConnectionStore interface {
	// Save stores a new OAuth2 connection
	Save(ctx context.Context, c *domain.OAuth2Connection) error

	// Get retrieves a connection by tenant and ID.
	// Returns domain.ErrNotFound if it doesn't exist for that tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.OAuth2Connection, error)

	// ListByUser retrieves active connections owned by a user within a tenant
	ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.OAuth2Connection, error)

	// UpdateTokens replaces the encrypted tokens and expiry after a refresh
	UpdateTokens(ctx context.Context, tenantID, id, accessToken, refreshToken string, expiresAt time.Time) error

	// Delete removes a connection.
	// Returns domain.ErrNotFound if it doesn't exist for that tenant.
	Delete(ctx context.Context, tenantID, id string) error
}
