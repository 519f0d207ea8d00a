package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// RequestLogStore is the audit sink for outbound request attempts.
// Writers treat it as fire-and-forget: failures are logged, never propagated.
type RequestLogStore interface {
	// Record appends one attempt
	Record(ctx context.Context, log *domain.RequestLog) error

	// ListByConnection returns the most recent attempts for a connection, newest first
	ListByConnection(ctx context.Context, tenantID, connectionID string, limit int) ([]*domain.RequestLog, error)

	// DeleteOlderThan purges entries created before the cutoff and returns the count
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
