package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven/mocks"
)

func TestSweeper_SweepPending(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pending := mocks.NewMockPendingAuthorizationStore()
	pending.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, pending.Save(ctx, &domain.PendingAuthorization{State: "old", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, pending.Save(ctx, &domain.PendingAuthorization{State: "new", ExpiresAt: now.Add(time.Minute)}))

	s := NewSweeper(SweeperConfig{Pending: pending})
	n, err := s.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, pending.Len())
}

func TestSweeper_PurgeRequestLogs(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	logs := mocks.NewMockRequestLogStore()
	ctx := context.Background()
	require.NoError(t, logs.Record(ctx, &domain.RequestLog{ConnectionID: "c", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, logs.Record(ctx, &domain.RequestLog{ConnectionID: "c", CreatedAt: now.Add(-time.Hour)}))

	lock := mocks.NewMockDistributedLock()
	s := NewSweeper(SweeperConfig{
		RequestLogs: logs,
		Lock:        lock,
		Retention:   24 * time.Hour,
		Now:         func() time.Time { return now },
	})

	n, err := s.PurgeRequestLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, logs.All(), 1)
	assert.Equal(t, []string{retentionLockName}, lock.Acquired)
	assert.False(t, lock.Held(retentionLockName), "lock released after purge")
}

func TestSweeper_PurgeSkipsWhenLockHeld(t *testing.T) {
	logs := mocks.NewMockRequestLogStore()
	lock := mocks.NewMockDistributedLock()
	lock.HoldElsewhere(retentionLockName, time.Hour)
	require.NoError(t, logs.Record(context.Background(), &domain.RequestLog{CreatedAt: time.Unix(0, 0)}))

	s := NewSweeper(SweeperConfig{RequestLogs: logs, Lock: lock})
	n, err := s.PurgeRequestLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Len(t, logs.All(), 1)
	assert.Empty(t, lock.Released, "a lock held elsewhere is left alone")
}

func TestSweeper_PurgeLockError(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.AcquireErr = errors.New("redis down")

	s := NewSweeper(SweeperConfig{RequestLogs: mocks.NewMockRequestLogStore(), Lock: lock})
	_, err := s.PurgeRequestLogs(context.Background())
	assert.Error(t, err)
}

// slowPurgeStore holds DeleteOlderThan open until released or cancelled.
type slowPurgeStore struct {
	*mocks.MockRequestLogStore
	release chan struct{}
}

func (s *slowPurgeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	select {
	case <-s.release:
		return s.MockRequestLogStore.DeleteOlderThan(ctx, cutoff)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestSweeper_PurgeExtendsLeaseWhileRunning(t *testing.T) {
	logs := &slowPurgeStore{MockRequestLogStore: mocks.NewMockRequestLogStore(), release: make(chan struct{})}
	lock := mocks.NewMockDistributedLock()
	s := NewSweeper(SweeperConfig{RequestLogs: logs, Lock: lock, LockTTL: 20 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := s.PurgeRequestLogs(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return lock.ExtendCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	close(logs.release)
	require.NoError(t, <-done)
	assert.False(t, lock.Held(retentionLockName))
}

func TestSweeper_PurgeCancelledWhenLeaseLost(t *testing.T) {
	logs := &slowPurgeStore{MockRequestLogStore: mocks.NewMockRequestLogStore(), release: make(chan struct{})}
	lock := mocks.NewMockDistributedLock()
	lock.ExtendErr = errors.New("lease expired")
	s := NewSweeper(SweeperConfig{RequestLogs: logs, Lock: lock, LockTTL: 20 * time.Millisecond})

	_, err := s.PurgeRequestLogs(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{retentionLockName}, lock.Released)
}

func TestSweeper_StartStop(t *testing.T) {
	pending := mocks.NewMockPendingAuthorizationStore()
	require.NoError(t, pending.Save(context.Background(), &domain.PendingAuthorization{State: "old", ExpiresAt: time.Unix(0, 0)}))

	s := NewSweeper(SweeperConfig{Pending: pending, PendingInterval: 20 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")

	assert.Eventually(t, func() bool { return pending.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestEventBus_DeliversAndRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := &mocks.RecordingObserver{}
	bus := NewEventBus(logger, panicObserver{}, rec)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventConnectionCreated, TenantID: "t"})

	assert.Equal(t, []domain.EventType{domain.EventConnectionCreated}, rec.Types())
	assert.Contains(t, buf.String(), "event observer panicked")

	var nilBus *EventBus
	nilBus.Publish(context.Background(), domain.Event{Type: domain.EventConnectionDeleted})
}

func TestLogObserver_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	o := NewLogObserver(slog.New(slog.NewTextHandler(&buf, nil)))

	o.Notify(context.Background(), domain.Event{
		Type:         domain.EventRequestFailed,
		TenantID:     "t1",
		ConnectionID: "c1",
		StatusCode:   503,
		Duration:     1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "event=request.failed")
	assert.Contains(t, out, "connection_id=c1")
	assert.Contains(t, out, "status=503")
	assert.Contains(t, out, "duration_ms=1500")
}

type panicObserver struct{}

func (panicObserver) Notify(context.Context, domain.Event) { panic("boom") }
