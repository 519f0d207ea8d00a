package driven

import (
	"context"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// ConnectionStore persists connection records. Authentication values arrive
// already encrypted; the store never sees plaintext credentials.
type ConnectionStore interface {
	// Create inserts a new connection record.
	Create(ctx context.Context, rec *domain.ConnectionRecord) error

	// Get retrieves a connection by tenant and ID.
	// Returns domain.ErrNotFound if it doesn't exist for that tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.ConnectionRecord, error)

	// List retrieves all connections for a tenant.
	List(ctx context.Context, tenantID string) ([]*domain.ConnectionRecord, error)

	// ListActive retrieves active connections across all tenants (cache warm-up).
	ListActive(ctx context.Context) ([]*domain.ConnectionRecord, error)

	// Update replaces a connection record.
	// Returns domain.ErrNotFound if it doesn't exist for that tenant.
	Update(ctx context.Context, rec *domain.ConnectionRecord) error

	// UpdateAuthentication replaces only the stored authentication envelope.
	UpdateAuthentication(ctx context.Context, tenantID, id, authentication string) error

	// Delete removes a connection.
	// Returns domain.ErrNotFound if it doesn't exist for that tenant.
	Delete(ctx context.Context, tenantID, id string) error
}
