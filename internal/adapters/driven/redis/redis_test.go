package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLock_AcquireIsExclusiveAcrossInstances(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)
	require.NotEqual(t, a.ownerID, b.ownerID)

	ok, err := a.Acquire(ctx, "request-log-retention", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "request-log-retention", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// b cannot release or extend a's lock
	require.NoError(t, b.Release(ctx, "request-log-retention"))
	assert.Error(t, b.Extend(ctx, "request-log-retention", time.Minute))

	require.NoError(t, a.Extend(ctx, "request-log-retention", 2*time.Minute))
	require.NoError(t, a.Release(ctx, "request-log-retention"))

	ok, err = b.Acquire(ctx, "request-log-retention", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, b.Ping(ctx))
}

func TestLock_ExpiresWithTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPendingAuthorizationStore_ConsumeIsSingleUse(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewPendingAuthorizationStore(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := &domain.PendingAuthorization{
		State:      "abc",
		ProviderID: "prov-1",
		UserID:     "user-1",
		TenantID:   "tenant-1",
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
	require.NoError(t, store.Save(ctx, p))

	got, err := store.Consume(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "prov-1", got.ProviderID)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.True(t, got.ExpiresAt.Equal(p.ExpiresAt))

	again, err := store.Consume(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, again)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPendingAuthorizationStore_ExpiredEntryStillReadableWithinGrace(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewPendingAuthorizationStore(client)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, &domain.PendingAuthorization{State: "late", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.Save(ctx, &domain.PendingAuthorization{State: "gone", ExpiresAt: now.Add(time.Minute)}))

	mr.FastForward(2 * time.Minute)
	got, err := store.Consume(ctx, "late")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsExpired(now.Add(2*time.Minute)))

	mr.FastForward(pendingGrace)
	got, err = store.Consume(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPendingAuthorizationStore_SkipsLongExpired(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewPendingAuthorizationStore(client)

	require.NoError(t, store.Save(context.Background(), &domain.PendingAuthorization{
		State:     "stale",
		ExpiresAt: time.Now().Add(-time.Hour),
	}))
	assert.False(t, mr.Exists(pendingPrefix+"stale"))
}

func TestPendingAuthorizationStore_SaveRefusesTakenState(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewPendingAuthorizationStore(client)
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	require.NoError(t, store.Save(ctx, &domain.PendingAuthorization{State: "shared", TenantID: "tenant-1", ExpiresAt: expires}))
	err := store.Save(ctx, &domain.PendingAuthorization{State: "shared", TenantID: "tenant-2", ExpiresAt: expires})
	assert.ErrorIs(t, err, domain.ErrStateInUse)

	got, err := store.Consume(ctx, "shared")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tenant-1", got.TenantID)

	require.NoError(t, store.Save(ctx, &domain.PendingAuthorization{State: "shared", TenantID: "tenant-2", ExpiresAt: expires}),
		"state is reusable once consumed")
}

func TestInvalidator_DeliversKeys(t *testing.T) {
	_, client := setupTestRedis(t)
	inv := NewInvalidator(client, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []domain.CacheKey
	done := make(chan error, 1)
	go func() {
		done <- inv.Subscribe(ctx, func(k domain.CacheKey) {
			mu.Lock()
			got = append(got, k)
			mu.Unlock()
		})
	}()

	key := domain.CacheKey{TenantID: "tenant-a", ConnectionID: "conn-1"}
	assert.Eventually(t, func() bool {
		_ = inv.Publish(context.Background(), key)
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, key, got[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
