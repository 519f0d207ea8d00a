package driven

import (
	"context"
	"time"
)

// DistributedLock elects a single gateway instance for periodic jobs such as
// request log retention. Redis and PostgreSQL advisory locks implement it.
type DistributedLock interface {
	// Acquire takes the named lock for ttl. acquired is false when another
	// instance holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives the lock up. Releasing a lock this instance doesn't hold is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a held lock. Advisory locks have no expiry
	// and treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend.
	Ping(ctx context.Context) error
}
