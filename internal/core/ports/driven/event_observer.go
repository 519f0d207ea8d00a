package driven

import (
	"context"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// EventObserver receives gateway notifications. Implementations must not block.
type EventObserver interface {
	Notify(ctx context.Context, event domain.Event)
}

// CacheInvalidator fans cache invalidations out to other instances.
type CacheInvalidator interface {
	// Publish announces that key must be dropped everywhere.
	Publish(ctx context.Context, key domain.CacheKey) error

	// Subscribe calls fn for every key published by any instance until ctx ends.
	Subscribe(ctx context.Context, fn func(domain.CacheKey)) error
}
