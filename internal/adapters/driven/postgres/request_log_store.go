package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure RequestLogStore implements the interface.
var _ driven.RequestLogStore = (*RequestLogStore)(nil)

// RequestLogStore implements driven.RequestLogStore using PostgreSQL.
type RequestLogStore struct {
	db *sql.DB
}

// NewRequestLogStore creates a new PostgreSQL-backed request log store.
func NewRequestLogStore(db *sql.DB) *RequestLogStore {
	return &RequestLogStore{db: db}
}

// Record appends one attempt.
func (s *RequestLogStore) Record(ctx context.Context, log *domain.RequestLog) error {
	var data []byte
	if log.RequestData != nil {
		b, err := jsonValue(log.RequestData)
		if err != nil {
			return err
		}
		data = b
	}
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (
			connection_id, tenant_id, method, endpoint, status_code,
			duration_ms, error, request_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ConnectionID,
		log.TenantID,
		log.Method,
		log.Endpoint,
		log.StatusCode,
		log.Duration,
		nullString(log.Error),
		data,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("record request log: %w", err)
	}
	return nil
}

// ListByConnection returns the most recent attempts, newest first.
func (s *RequestLogStore) ListByConnection(ctx context.Context, tenantID, connectionID string, limit int) ([]*domain.RequestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connection_id, tenant_id, method, endpoint, status_code,
		       duration_ms, error, request_data, created_at
		FROM request_logs
		WHERE tenant_id = $1 AND connection_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		tenantID, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.RequestLog
	for rows.Next() {
		var l domain.RequestLog
		var errText sql.NullString
		var data []byte
		if err := rows.Scan(
			&l.ConnectionID,
			&l.TenantID,
			&l.Method,
			&l.Endpoint,
			&l.StatusCode,
			&l.Duration,
			&errText,
			&data,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		l.Error = errText.String
		if len(data) > 0 {
			var v any
			if err := scanJSON(data, &v); err != nil {
				return nil, err
			}
			l.RequestData = v
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// DeleteOlderThan purges entries created before the cutoff.
func (s *RequestLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge request logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge request logs: %w", err)
	}
	return n, nil
}
