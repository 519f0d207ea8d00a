package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure ConnectionStore implements the interface.
var _ driven.ConnectionStore = (*ConnectionStore)(nil)

const connectionColumns = `
	id, tenant_id, name, type, base_url, authentication,
	headers, rate_limit, retry_config, is_active, metadata,
	created_at, updated_at`

// ConnectionStore implements driven.ConnectionStore using PostgreSQL.
// The authentication column only ever holds encrypted envelopes.
type ConnectionStore struct {
	db *sql.DB
}

// NewConnectionStore creates a new PostgreSQL-backed connection store.
func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// Create inserts a new connection record.
func (s *ConnectionStore) Create(ctx context.Context, rec *domain.ConnectionRecord) error {
	args, err := connectionArgs(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// Get retrieves a connection by tenant and ID.
func (s *ConnectionStore) Get(ctx context.Context, tenantID, id string) (*domain.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE tenant_id = $1 AND id = $2`
	rec, err := scanConnection(s.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return rec, nil
}

// List retrieves all connections for a tenant.
func (s *ConnectionStore) List(ctx context.Context, tenantID string) ([]*domain.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE tenant_id = $1 ORDER BY created_at`
	return s.query(ctx, query, tenantID)
}

// ListActive retrieves active connections across all tenants.
func (s *ConnectionStore) ListActive(ctx context.Context) ([]*domain.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE is_active ORDER BY tenant_id, created_at`
	return s.query(ctx, query)
}

// Update replaces a connection record.
func (s *ConnectionStore) Update(ctx context.Context, rec *domain.ConnectionRecord) error {
	args, err := connectionArgs(rec)
	if err != nil {
		return err
	}
	query := `
		UPDATE connections SET
			name = $3, type = $4, base_url = $5, authentication = $6,
			headers = $7, rate_limit = $8, retry_config = $9, is_active = $10,
			metadata = $11, updated_at = $13
		WHERE id = $1 AND tenant_id = $2`
	// created_at ($12) is bound but never rewritten
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return fmt.Errorf("update connection: %w", err)
	} else if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAuthentication replaces only the stored authentication envelope.
func (s *ConnectionStore) UpdateAuthentication(ctx context.Context, tenantID, id, authentication string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET authentication = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, authentication)
	if err != nil {
		return fmt.Errorf("update connection authentication: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return fmt.Errorf("update connection authentication: %w", err)
	} else if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a connection.
func (s *ConnectionStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	} else if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *ConnectionStore) query(ctx context.Context, query string, args ...any) ([]*domain.ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*domain.ConnectionRecord, error) {
	var rec domain.ConnectionRecord
	var headers, rateLimit, retryConfig, metadata []byte
	if err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.Name,
		&rec.Type,
		&rec.BaseURL,
		&rec.Authentication,
		&headers,
		&rateLimit,
		&retryConfig,
		&rec.IsActive,
		&metadata,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := scanJSON(headers, &rec.Headers); err != nil {
		return nil, err
	}
	if err := scanJSON(rateLimit, &rec.RateLimit); err != nil {
		return nil, err
	}
	if err := scanJSON(retryConfig, &rec.RetryConfig); err != nil {
		return nil, err
	}
	if err := scanJSON(metadata, &rec.Metadata); err != nil {
		return nil, err
	}
	return &rec, nil
}

func connectionArgs(rec *domain.ConnectionRecord) ([]any, error) {
	headers, err := jsonValue(rec.Headers)
	if err != nil {
		return nil, err
	}
	rateLimit, err := jsonValue(rec.RateLimit)
	if err != nil {
		return nil, err
	}
	retryConfig, err := jsonValue(rec.RetryConfig)
	if err != nil {
		return nil, err
	}
	metadata, err := jsonValue(rec.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		rec.ID,
		rec.TenantID,
		rec.Name,
		rec.Type,
		rec.BaseURL,
		rec.Authentication,
		headers,
		rateLimit,
		retryConfig,
		rec.IsActive,
		metadata,
		rec.CreatedAt,
		rec.UpdatedAt,
	}, nil
}
