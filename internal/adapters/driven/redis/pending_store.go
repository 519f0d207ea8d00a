package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PendingAuthorizationStore = (*PendingAuthorizationStore)(nil)

const pendingPrefix = "gateway:oauth2:pending:"

// pendingGrace keeps an entry readable briefly past ExpiresAt so a late
// callback gets authorization_expired instead of an unknown-state error.
const pendingGrace = 5 * time.Minute

// PendingAuthorizationStore keeps in-flight OAuth2 states in Redis so any
// gateway instance can complete a callback. Redis TTLs handle expiry.
type PendingAuthorizationStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewPendingAuthorizationStore creates a Redis-backed pending authorization store.
func NewPendingAuthorizationStore(client redis.UniversalClient) *PendingAuthorizationStore {
	return &PendingAuthorizationStore{client: client, now: time.Now}
}

// Save stores the entry until ExpiresAt plus a grace period. SETNX keeps
// an existing entry for the same state intact.
func (s *PendingAuthorizationStore) Save(ctx context.Context, p *domain.PendingAuthorization) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending authorization: %w", err)
	}
	ttl := p.ExpiresAt.Sub(s.now()) + pendingGrace
	if ttl <= 0 {
		return nil
	}
	ok, err := s.client.SetNX(ctx, pendingPrefix+p.State, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("save pending authorization: %w", err)
	}
	if !ok {
		return domain.ErrStateInUse
	}
	return nil
}

// Consume reads and deletes the entry in one GETDEL.
func (s *PendingAuthorizationStore) Consume(ctx context.Context, state string) (*domain.PendingAuthorization, error) {
	data, err := s.client.GetDel(ctx, pendingPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	var p domain.PendingAuthorization
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending authorization: %w", err)
	}
	return &p, nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *PendingAuthorizationStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
