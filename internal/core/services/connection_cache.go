package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
	"github.com/custodia-labs/integration-gateway/internal/httpclient"
	"github.com/custodia-labs/integration-gateway/internal/ratelimit"
)

// DefaultCacheTTL bounds how long a cached connection is served before it
// is reloaded from the store.
const DefaultCacheTTL = time.Hour

// CachedConnection is a connection ready to dispatch: decrypted definition,
// its dedicated HTTP client, and its rate limiter.
type CachedConnection struct {
	Connection *domain.Connection
	Client     *httpclient.Client
	Limiter    *ratelimit.Limiter

	loadedAt time.Time
}

// ConnectionCacheConfig holds configuration for the connection cache.
type ConnectionCacheConfig struct {
	Store       driven.ConnectionStore
	Cipher      driven.CredentialCipher
	Refresher   driven.TokenRefresher   // Optional: refresh grants for oauth2 connections
	Invalidator driven.CacheInvalidator // Optional: cross-instance invalidation
	Transport   http.RoundTripper       // Optional: outbound transport (default: http.DefaultTransport)
	Logger      *slog.Logger
	TTL         time.Duration // Entry lifetime (default: 1h)
	Now         func() time.Time
}

// ConnectionCache keeps decrypted connections keyed by (tenant, connection).
// Concurrent misses for one key share a single store load. Every write or
// invalidation bumps the key's generation; a load that started under an
// older generation is returned to its callers but never cached.
type ConnectionCache struct {
	store       driven.ConnectionStore
	cipher      driven.CredentialCipher
	refresher   driven.TokenRefresher
	invalidator driven.CacheInvalidator
	transport   http.RoundTripper
	logger      *slog.Logger
	ttl         time.Duration
	now         func() time.Time

	mu          sync.RWMutex
	entries     map[domain.CacheKey]*CachedConnection
	generations map[domain.CacheKey]uint64
	loads       singleflight.Group
}

// NewConnectionCache creates an empty cache.
func NewConnectionCache(cfg ConnectionCacheConfig) *ConnectionCache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ConnectionCache{
		store:       cfg.Store,
		cipher:      cfg.Cipher,
		refresher:   cfg.Refresher,
		invalidator: cfg.Invalidator,
		transport:   cfg.Transport,
		logger:      logger,
		ttl:         ttl,
		now:         now,
		entries:     make(map[domain.CacheKey]*CachedConnection),
		generations: make(map[domain.CacheKey]uint64),
	}
}

// Lookup returns the cached connection, loading it from the store on a
// miss or after expiry. A connection of another tenant is never returned.
func (c *ConnectionCache) Lookup(ctx context.Context, tenantID, id string) (*CachedConnection, error) {
	key := domain.CacheKey{TenantID: tenantID, ConnectionID: id}

	entry := c.fresh(key)
	if entry == nil {
		v, err, _ := c.loads.Do(key.String(), func() (any, error) {
			if e := c.fresh(key); e != nil {
				return e, nil
			}
			gen := c.generation(key)
			rec, err := c.store.Get(ctx, tenantID, id)
			if err != nil {
				return nil, err
			}
			e, err := c.build(ctx, rec, c.peek(key))
			if err != nil {
				return nil, err
			}
			c.putIfCurrent(key, e, gen)
			return e, nil
		})
		if err != nil {
			return nil, err
		}
		entry = v.(*CachedConnection)
	}

	if entry.Connection.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}

// Create validates, encrypts and persists conn, then caches it.
func (c *ConnectionCache) Create(ctx context.Context, conn *domain.Connection) (*CachedConnection, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	authentication, err := c.seal(conn.Auth)
	if err != nil {
		return nil, err
	}

	rec := toRecord(conn, authentication)
	if err := c.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	entry := c.newEntry(conn, nil)
	c.replace(entry.key(), entry)
	return entry, nil
}

// Update loads the stored connection, applies mutate, validates and
// persists the result. Credentials are re-encrypted only when they changed;
// the HTTP client and limiter are rebuilt only when their inputs changed.
func (c *ConnectionCache) Update(ctx context.Context, tenantID, id string, mutate func(*domain.Connection) error) (*CachedConnection, error) {
	rec, err := c.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	current, err := c.decode(ctx, rec)
	if err != nil {
		return nil, err
	}

	next := *current
	next.Headers = maps.Clone(current.Headers)
	next.Metadata = maps.Clone(current.Metadata)
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID, next.TenantID, next.CreatedAt = current.ID, current.TenantID, current.CreatedAt
	next.UpdatedAt = c.now()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	authentication := rec.Authentication
	changed := !domain.AuthConfigEqual(current.Auth, next.Auth)
	if changed || (c.cipher.IsLegacy(authentication) && c.cipher.CanEncrypt()) {
		if authentication, err = c.seal(next.Auth); err != nil {
			return nil, err
		}
	}

	if err := c.store.Update(ctx, toRecord(&next, authentication)); err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}

	key := domain.CacheKey{TenantID: tenantID, ConnectionID: id}
	prev := c.peek(key)
	if prev == nil {
		prev = &CachedConnection{Connection: current}
	}
	entry := c.newEntry(&next, prev)
	c.replace(key, entry)
	c.publish(ctx, key)
	return entry, nil
}

// Delete removes the connection from the store and the cache.
func (c *ConnectionCache) Delete(ctx context.Context, tenantID, id string) error {
	if err := c.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	key := domain.CacheKey{TenantID: tenantID, ConnectionID: id}
	c.Invalidate(key)
	c.publish(ctx, key)
	return nil
}

// List returns every connection of a tenant, loading uncached ones.
func (c *ConnectionCache) List(ctx context.Context, tenantID string) ([]*domain.Connection, error) {
	recs, err := c.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	out := make([]*domain.Connection, 0, len(recs))
	for _, rec := range recs {
		key := domain.CacheKey{TenantID: rec.TenantID, ConnectionID: rec.ID}
		if e := c.fresh(key); e != nil {
			out = append(out, e.Connection)
			continue
		}
		gen := c.generation(key)
		e, err := c.build(ctx, rec, c.peek(key))
		if err != nil {
			return nil, err
		}
		c.putIfCurrent(key, e, gen)
		out = append(out, e.Connection)
	}
	return out, nil
}

// Warm loads every active connection. Connections that fail to decrypt
// are logged and skipped. Returns the number cached.
func (c *ConnectionCache) Warm(ctx context.Context) (int, error) {
	recs, err := c.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active connections: %w", err)
	}

	n := 0
	for _, rec := range recs {
		key := domain.CacheKey{TenantID: rec.TenantID, ConnectionID: rec.ID}
		gen := c.generation(key)
		e, err := c.build(ctx, rec, c.peek(key))
		if err != nil {
			c.logger.Error("failed to warm connection",
				"tenant_id", rec.TenantID,
				"connection_id", rec.ID,
				"error", err)
			continue
		}
		if c.putIfCurrent(key, e, gen) {
			n++
		}
	}
	c.logger.Info("connection cache warmed", "connections", n)
	return n, nil
}

// Invalidate drops a key from this instance only. Loads already in flight
// for the key will not repopulate it.
func (c *ConnectionCache) Invalidate(key domain.CacheKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.generations[key]++
	c.mu.Unlock()
	c.loads.Forget(key.String())
}

// Len returns the number of cached entries.
func (c *ConnectionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Listen applies invalidations published by other instances until ctx ends.
func (c *ConnectionCache) Listen(ctx context.Context) error {
	if c.invalidator == nil {
		return nil
	}
	return c.invalidator.Subscribe(ctx, c.Invalidate)
}

func (c *ConnectionCache) publish(ctx context.Context, key domain.CacheKey) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.Publish(ctx, key); err != nil {
		c.logger.Warn("failed to publish cache invalidation", "connection_id", key.ConnectionID, "error", err)
	}
}

func (c *ConnectionCache) peek(key domain.CacheKey) *CachedConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

func (c *ConnectionCache) fresh(key domain.CacheKey) *CachedConnection {
	e := c.peek(key)
	if e == nil || c.now().Sub(e.loadedAt) >= c.ttl {
		return nil
	}
	return e
}

func (c *ConnectionCache) generation(key domain.CacheKey) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[key]
}

// putIfCurrent caches e only if no write or invalidation happened since gen
// was read.
func (c *ConnectionCache) putIfCurrent(key domain.CacheKey, e *CachedConnection, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key] != gen {
		return false
	}
	c.entries[key] = e
	return true
}

// replace caches e as the result of a write, superseding in-flight loads.
func (c *ConnectionCache) replace(key domain.CacheKey, e *CachedConnection) {
	c.mu.Lock()
	c.entries[key] = e
	c.generations[key]++
	c.mu.Unlock()
	c.loads.Forget(key.String())
}

// build decodes rec and creates an entry, reusing parts of prev whose
// inputs are unchanged.
func (c *ConnectionCache) build(ctx context.Context, rec *domain.ConnectionRecord, prev *CachedConnection) (*CachedConnection, error) {
	conn, err := c.decode(ctx, rec)
	if err != nil {
		return nil, err
	}
	return c.newEntry(conn, prev), nil
}

func (c *ConnectionCache) newEntry(conn *domain.Connection, prev *CachedConnection) *CachedConnection {
	entry := &CachedConnection{Connection: conn, loadedAt: c.now()}

	if prev != nil && prev.Client != nil && sameClientInputs(prev.Connection, conn) {
		entry.Client = prev.Client
	} else {
		entry.Client = httpclient.New(conn, httpclient.Options{
			Transport: c.transport,
			Refresher: c.refresher,
			OnRefresh: c.persistRefresh(entry.key()),
		})
	}

	if prev != nil && prev.Limiter != nil && prev.Limiter.Policy() == conn.RateLimit {
		entry.Limiter = prev.Limiter
	} else {
		entry.Limiter = ratelimit.New(conn.ID, conn.RateLimit)
	}
	return entry
}

func (e *CachedConnection) key() domain.CacheKey {
	return domain.CacheKey{TenantID: e.Connection.TenantID, ConnectionID: e.Connection.ID}
}

// persistRefresh stores refreshed oauth2 credentials and updates the entry.
func (c *ConnectionCache) persistRefresh(key domain.CacheKey) httpclient.RefreshFunc {
	return func(ctx context.Context, auth domain.OAuth2Auth) error {
		authentication, err := c.seal(auth)
		if err == nil {
			err = c.store.UpdateAuthentication(ctx, key.TenantID, key.ConnectionID, authentication)
		}
		if err != nil {
			c.logger.Error("failed to persist refreshed credentials",
				"tenant_id", key.TenantID,
				"connection_id", key.ConnectionID,
				"error", err)
			return err
		}

		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			conn := *e.Connection
			conn.Auth = auth
			updated := *e
			updated.Connection = &conn
			c.entries[key] = &updated
		}
		c.mu.Unlock()

		c.logger.Info("refreshed connection credentials", "tenant_id", key.TenantID, "connection_id", key.ConnectionID)
		return nil
	}
}

// decode opens the record's credentials, migrating legacy values to
// envelopes when a key is configured.
func (c *ConnectionCache) decode(ctx context.Context, rec *domain.ConnectionRecord) (*domain.Connection, error) {
	var raw json.RawMessage
	if err := c.cipher.Decrypt(rec.Authentication, &raw); err != nil {
		return nil, err
	}
	auth, err := domain.UnmarshalAuthConfig(raw)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, &domain.DecryptionError{Reason: ve.Error()}
		}
		return nil, &domain.DecryptionError{Reason: "credentials are not a valid auth config"}
	}

	if c.cipher.IsLegacy(rec.Authentication) && c.cipher.CanEncrypt() {
		c.migrate(ctx, rec, auth)
	}

	return &domain.Connection{
		ID:          rec.ID,
		TenantID:    rec.TenantID,
		Name:        rec.Name,
		Type:        rec.Type,
		BaseURL:     rec.BaseURL,
		Auth:        auth,
		Headers:     rec.Headers,
		RateLimit:   rec.RateLimit,
		RetryConfig: rec.RetryConfig,
		IsActive:    rec.IsActive,
		Metadata:    rec.Metadata,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// migrate rewrites a legacy value as an envelope. Failure leaves the
// legacy value in place for the next read.
func (c *ConnectionCache) migrate(ctx context.Context, rec *domain.ConnectionRecord, auth domain.AuthConfig) {
	authentication, err := c.seal(auth)
	if err == nil {
		err = c.store.UpdateAuthentication(ctx, rec.TenantID, rec.ID, authentication)
	}
	if err != nil {
		c.logger.Warn("failed to migrate legacy credentials",
			"tenant_id", rec.TenantID,
			"connection_id", rec.ID,
			"error", err)
		return
	}
	rec.Authentication = authentication
	c.logger.Info("migrated legacy credentials", "tenant_id", rec.TenantID, "connection_id", rec.ID)
}

func (c *ConnectionCache) seal(auth domain.AuthConfig) (string, error) {
	if !c.cipher.CanEncrypt() {
		return "", domain.ErrEncryptionKeyMissing
	}
	plaintext, err := domain.MarshalAuthConfig(auth)
	if err != nil {
		return "", err
	}
	return c.cipher.Encrypt(json.RawMessage(plaintext))
}

func sameClientInputs(a, b *domain.Connection) bool {
	return a.BaseURL == b.BaseURL &&
		maps.Equal(a.Headers, b.Headers) &&
		domain.AuthConfigEqual(a.Auth, b.Auth)
}

func toRecord(conn *domain.Connection, authentication string) *domain.ConnectionRecord {
	return &domain.ConnectionRecord{
		ID:             conn.ID,
		TenantID:       conn.TenantID,
		Name:           conn.Name,
		Type:           conn.Type,
		BaseURL:        conn.BaseURL,
		Authentication: authentication,
		Headers:        conn.Headers,
		RateLimit:      conn.RateLimit,
		RetryConfig:    conn.RetryConfig,
		IsActive:       conn.IsActive,
		Metadata:       conn.Metadata,
		CreatedAt:      conn.CreatedAt,
		UpdatedAt:      conn.UpdatedAt,
	}
}
