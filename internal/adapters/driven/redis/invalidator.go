package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CacheInvalidator = (*Invalidator)(nil)

// InvalidationChannel carries "tenant:connection" keys between instances.
const InvalidationChannel = "gateway:connections:invalidate"

// Invalidator broadcasts connection cache invalidations over Redis pub/sub.
type Invalidator struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewInvalidator creates a pub/sub invalidator.
func NewInvalidator(client redis.UniversalClient, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{client: client, logger: logger}
}

// Publish announces that key must be dropped everywhere.
func (i *Invalidator) Publish(ctx context.Context, key domain.CacheKey) error {
	if err := i.client.Publish(ctx, InvalidationChannel, key.String()).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe delivers keys to fn until ctx ends. It returns once the
// subscription is torn down, or immediately if subscribing fails.
func (i *Invalidator) Subscribe(ctx context.Context, fn func(domain.CacheKey)) error {
	sub := i.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	// Block until Redis confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, valid := domain.ParseCacheKey(msg.Payload)
			if !valid {
				i.logger.Warn("ignoring malformed invalidation", "payload_len", len(msg.Payload))
				continue
			}
			fn(key)
		}
	}
}
