package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*AdvisoryLock)(nil)

// AdvisoryLock implements DistributedLock using PostgreSQL advisory locks.
// It backs the retention sweep when no Redis is configured.
//
// Advisory locks are session-scoped, so each held lock pins one connection
// out of the pool until Release. The TTL is ignored; the lock lives until
// Release or until its session ends.
type AdvisoryLock struct {
	db *DB

	mu   sync.Mutex
	held map[string]*sql.Conn
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db, held: make(map[string]*sql.Conn)}
}

// lockID maps a lock name onto the bigint key space with FNV-1a.
func lockID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("gateway:lock:" + name))
	return int64(h.Sum64())
}

// Acquire tries pg_try_advisory_lock on a dedicated session without
// blocking. A lock this instance already holds is not acquired twice.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID(name)).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, err
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}
	l.held[name] = conn
	return true, nil
}

// Release unlocks on the session that took the lock and returns it to the
// pool. Releasing a lock that isn't held is not an error.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockID(name)).Scan(&released); err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("advisory lock %s was not held by its session", name)
	}
	return nil
}

// Extend checks that the session holding the lock is still alive; advisory
// locks don't expire while it is.
func (l *AdvisoryLock) Extend(ctx context.Context, name string, _ time.Duration) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("advisory lock %s not held", name)
	}
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("advisory lock %s session lost: %w", name, err)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
