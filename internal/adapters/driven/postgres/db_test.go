package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

func TestJSONValue_NilMapsBecomeEmptyObjects(t *testing.T) {
	var headers map[string]string
	b, err := jsonValue(headers)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	var meta map[string]any
	b, err = jsonValue(meta)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	b, err = jsonValue(domain.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxRetries":3,"backoffMultiplier":2,"maxBackoffMs":30000,"retryableStatusCodes":[408,429,500,502,503,504]}`, string(b))
}

func TestScanJSON(t *testing.T) {
	var policy domain.RateLimitPolicy
	require.NoError(t, scanJSON(nil, &policy))
	assert.Zero(t, policy)

	require.NoError(t, scanJSON([]byte(`{"requestsPerSecond":5}`), &policy))
	assert.Equal(t, 5, policy.RequestsPerSecond)

	assert.Error(t, scanJSON([]byte(`{`), &policy))
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.Equal(t, sql.NullString{String: "x", Valid: true}, nullString("x"))
}

func TestLockID_StableAndDistinct(t *testing.T) {
	assert.Equal(t, lockID("request-log-retention"), lockID("request-log-retention"))
	assert.NotEqual(t, lockID("request-log-retention"), lockID("other"))
}

// openTestDB connects to GATEWAY_TEST_DATABASE_URL; store tests skip without it.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("GATEWAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GATEWAY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, DefaultConfig(url))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConnectionStore_TenantScoped(t *testing.T) {
	db := openTestDB(t)
	store := NewConnectionStore(db.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := "conn-" + now.Format("150405.000000")

	rec := &domain.ConnectionRecord{
		ID:             id,
		TenantID:       "tenant-a",
		Name:           "billing",
		Type:           domain.ConnectionTypeREST,
		BaseURL:        "https://api.example.com",
		Authentication: `{"version":"1"}`,
		Headers:        map[string]string{"X-Client": "gw"},
		RateLimit:      domain.DefaultRateLimitPolicy(),
		RetryConfig:    domain.DefaultRetryPolicy(),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Create(ctx, rec))
	t.Cleanup(func() { _ = store.Delete(ctx, "tenant-a", id) })

	got, err := store.Get(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, "billing", got.Name)
	assert.Equal(t, "gw", got.Headers["X-Client"])
	assert.Equal(t, domain.DefaultRateLimitPolicy(), got.RateLimit)

	_, err = store.Get(ctx, "tenant-b", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "tenant-b", id), domain.ErrNotFound)

	require.NoError(t, store.UpdateAuthentication(ctx, "tenant-a", id, `{"version":"2"}`))
	got, err = store.Get(ctx, "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, `{"version":"2"}`, got.Authentication)
}

func TestAdvisoryLock_ReleasesOnPinnedSession(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	name := "test-lock-" + time.Now().Format("150405.000000")

	first := NewAdvisoryLock(db)
	second := NewAdvisoryLock(db)

	ok, err := first.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = first.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock is not re-entered")

	ok, err = second.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Extend(ctx, name, time.Minute))
	require.NoError(t, first.Release(ctx, name))
	assert.Error(t, first.Extend(ctx, name, time.Minute))

	ok, err = second.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
	require.NoError(t, second.Release(ctx, name))
	require.NoError(t, second.Release(ctx, name), "second release is a no-op")
}

func TestRequestLogStore_NewestFirstAndPurge(t *testing.T) {
	db := openTestDB(t)
	store := NewRequestLogStore(db.DB)
	ctx := context.Background()
	conn := "logs-" + time.Now().Format("150405.000000")
	old := time.Now().Add(-72 * time.Hour)

	require.NoError(t, store.Record(ctx, &domain.RequestLog{ConnectionID: conn, TenantID: "t", Method: "GET", Endpoint: "/a", StatusCode: 200, CreatedAt: old}))
	require.NoError(t, store.Record(ctx, &domain.RequestLog{ConnectionID: conn, TenantID: "t", Method: "GET", Endpoint: "/b", StatusCode: 503, Error: "HTTP 503"}))

	logs, err := store.ListByConnection(ctx, "t", conn, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "/b", logs[0].Endpoint)
	assert.Equal(t, "HTTP 503", logs[0].Error)

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}
