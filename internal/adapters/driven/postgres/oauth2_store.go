package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure the stores implement their interfaces.
var (
	_ driven.OAuth2ProviderStore   = (*OAuth2ProviderStore)(nil)
	_ driven.OAuth2ConnectionStore = (*OAuth2ConnectionStore)(nil)
)

// OAuth2ProviderStore implements driven.OAuth2ProviderStore using PostgreSQL.
type OAuth2ProviderStore struct {
	db *sql.DB
}

// NewOAuth2ProviderStore creates a new PostgreSQL-backed provider store.
func NewOAuth2ProviderStore(db *sql.DB) *OAuth2ProviderStore {
	return &OAuth2ProviderStore{db: db}
}

// Save inserts or updates a provider.
func (s *OAuth2ProviderStore) Save(ctx context.Context, p *domain.OAuth2Provider) error {
	query := `
		INSERT INTO oauth2_providers (
			id, tenant_id, name, auth_url, token_url, client_id, client_secret,
			scopes, redirect_uri, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			auth_url = EXCLUDED.auth_url,
			token_url = EXCLUDED.token_url,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			scopes = EXCLUDED.scopes,
			redirect_uri = EXCLUDED.redirect_uri,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		WHERE oauth2_providers.tenant_id = EXCLUDED.tenant_id`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.TenantID,
		p.Name,
		p.AuthURL,
		p.TokenURL,
		p.ClientID,
		p.EncryptedClientSecret,
		pq.Array(p.Scopes),
		p.RedirectURI,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save oauth2 provider: %w", err)
	}
	return nil
}

const providerColumns = `
	id, tenant_id, name, auth_url, token_url, client_id, client_secret,
	scopes, redirect_uri, is_active, created_at, updated_at`

// Get retrieves a provider by tenant and ID.
func (s *OAuth2ProviderStore) Get(ctx context.Context, tenantID, id string) (*domain.OAuth2Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM oauth2_providers WHERE tenant_id = $1 AND id = $2`
	p, err := scanProvider(s.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth2 provider: %w", err)
	}
	return p, nil
}

// List retrieves all providers for a tenant.
func (s *OAuth2ProviderStore) List(ctx context.Context, tenantID string) ([]*domain.OAuth2Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM oauth2_providers WHERE tenant_id = $1 ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list oauth2 providers: %w", err)
	}
	defer rows.Close()

	var out []*domain.OAuth2Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan oauth2 provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProvider(row rowScanner) (*domain.OAuth2Provider, error) {
	var p domain.OAuth2Provider
	if err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.Name,
		&p.AuthURL,
		&p.TokenURL,
		&p.ClientID,
		&p.EncryptedClientSecret,
		pq.Array(&p.Scopes),
		&p.RedirectURI,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// OAuth2ConnectionStore implements driven.OAuth2ConnectionStore using PostgreSQL.
type OAuth2ConnectionStore struct {
	db *sql.DB
}

// NewOAuth2ConnectionStore creates a new PostgreSQL-backed OAuth2 connection store.
func NewOAuth2ConnectionStore(db *sql.DB) *OAuth2ConnectionStore {
	return &OAuth2ConnectionStore{db: db}
}

const oauth2ConnectionColumns = `
	id, tenant_id, user_id, provider_id, access_token, refresh_token,
	token_type, scope, expires_at, user_info, is_active, created_at, updated_at`

// Save inserts a completed authorization.
func (s *OAuth2ConnectionStore) Save(ctx context.Context, c *domain.OAuth2Connection) error {
	var userInfo []byte
	if c.UserInfo != nil {
		b, err := jsonValue(c.UserInfo)
		if err != nil {
			return err
		}
		userInfo = b
	}

	query := `INSERT INTO oauth2_connections (` + oauth2ConnectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.TenantID,
		c.UserID,
		c.ProviderID,
		c.EncryptedAccessToken,
		nullString(c.EncryptedRefreshToken),
		c.TokenType,
		c.Scope,
		c.ExpiresAt,
		userInfo,
		c.IsActive,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save oauth2 connection: %w", err)
	}
	return nil
}

// Get retrieves a connection by tenant and ID.
func (s *OAuth2ConnectionStore) Get(ctx context.Context, tenantID, id string) (*domain.OAuth2Connection, error) {
	query := `SELECT ` + oauth2ConnectionColumns + ` FROM oauth2_connections WHERE tenant_id = $1 AND id = $2`
	c, err := scanOAuth2Connection(s.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth2 connection: %w", err)
	}
	return c, nil
}

// ListByUser retrieves active connections owned by a user within a tenant.
func (s *OAuth2ConnectionStore) ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.OAuth2Connection, error) {
	query := `SELECT ` + oauth2ConnectionColumns + `
		FROM oauth2_connections
		WHERE tenant_id = $1 AND user_id = $2 AND is_active
		ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list oauth2 connections: %w", err)
	}
	defer rows.Close()

	var out []*domain.OAuth2Connection
	for rows.Next() {
		c, err := scanOAuth2Connection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan oauth2 connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTokens replaces tokens and expiry after a refresh.
func (s *OAuth2ConnectionStore) UpdateTokens(ctx context.Context, tenantID, id, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth2_connections
		SET access_token = $3, refresh_token = $4, expires_at = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, accessToken, nullString(refreshToken), expiresAt)
	if err != nil {
		return fmt.Errorf("update oauth2 tokens: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return fmt.Errorf("update oauth2 tokens: %w", err)
	} else if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a connection.
func (s *OAuth2ConnectionStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth2_connections WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete oauth2 connection: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return fmt.Errorf("delete oauth2 connection: %w", err)
	} else if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func scanOAuth2Connection(row rowScanner) (*domain.OAuth2Connection, error) {
	var c domain.OAuth2Connection
	var refresh sql.NullString
	var userInfo []byte
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.UserID,
		&c.ProviderID,
		&c.EncryptedAccessToken,
		&refresh,
		&c.TokenType,
		&c.Scope,
		&c.ExpiresAt,
		&userInfo,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.EncryptedRefreshToken = refresh.String
	if err := scanJSON(userInfo, &c.UserInfo); err != nil {
		return nil, err
	}
	return &c, nil
}
