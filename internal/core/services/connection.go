package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driving"
	"github.com/custodia-labs/integration-gateway/internal/ratelimit"
	"github.com/custodia-labs/integration-gateway/internal/retry"
)

// Ensure connectionService implements ConnectionService
var _ driving.ConnectionService = (*connectionService)(nil)

const (
	defaultRequestLogLimit = 50
	maxRequestLogLimit     = 500
)

// ConnectionServiceConfig holds configuration for the connection service.
type ConnectionServiceConfig struct {
	Cache       *ConnectionCache
	Dispatcher  *retry.Dispatcher
	RequestLogs driven.RequestLogStore // Optional: audit sink for request attempts
	Events      *EventBus              // Optional
	Logger      *slog.Logger
	NewID       func() string // Default: uuid.NewString
	Now         func() time.Time
}

// connectionService implements the ConnectionService interface.
type connectionService struct {
	cache       *ConnectionCache
	dispatcher  *retry.Dispatcher
	requestLogs driven.RequestLogStore
	events      *EventBus
	logger      *slog.Logger
	newID       func() string
	now         func() time.Time
}

// NewConnectionService creates a new connection service.
func NewConnectionService(cfg ConnectionServiceConfig) driving.ConnectionService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = retry.NewDispatcher()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &connectionService{
		cache:       cfg.Cache,
		dispatcher:  dispatcher,
		requestLogs: cfg.RequestLogs,
		events:      cfg.Events,
		logger:      logger,
		newID:       newID,
		now:         now,
	}
}

// Create validates, encrypts and persists a new connection.
func (s *connectionService) Create(ctx context.Context, tenantID string, req driving.CreateConnectionRequest) (*domain.ConnectionSummary, error) {
	auth, err := req.Authentication.ToAuthConfig()
	if err != nil {
		return nil, err
	}

	connType := req.Type
	if connType == "" {
		connType = domain.ConnectionTypeREST
	}
	rateLimit := domain.DefaultRateLimitPolicy()
	if req.RateLimit != nil {
		rateLimit = *req.RateLimit
	}
	retryConfig := domain.DefaultRetryPolicy()
	if req.RetryConfig != nil {
		retryConfig = *req.RetryConfig
	}

	now := s.now()
	conn := &domain.Connection{
		ID:          s.newID(),
		TenantID:    tenantID,
		Name:        strings.TrimSpace(req.Name),
		Type:        connType,
		BaseURL:     strings.TrimSpace(req.BaseURL),
		Auth:        auth,
		Headers:     req.Headers,
		RateLimit:   rateLimit,
		RetryConfig: retryConfig,
		IsActive:    true,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	entry, err := s.cache.Create(ctx, conn)
	if err != nil {
		return nil, err
	}

	s.logger.Info("connection created",
		"tenant_id", tenantID,
		"connection_id", conn.ID,
		"auth_type", auth.Kind())
	s.events.Publish(ctx, domain.Event{
		Type:         domain.EventConnectionCreated,
		TenantID:     tenantID,
		ConnectionID: conn.ID,
		Attributes:   map[string]string{"auth_type": string(auth.Kind())},
	})
	return entry.Connection.ToSummary(), nil
}

// Get returns a connection summary.
func (s *connectionService) Get(ctx context.Context, tenantID, id string) (*domain.ConnectionSummary, error) {
	entry, err := s.cache.Lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return entry.Connection.ToSummary(), nil
}

// List returns all connections of a tenant.
func (s *connectionService) List(ctx context.Context, tenantID string) ([]*domain.ConnectionSummary, error) {
	conns, err := s.cache.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ToSummary())
	}
	return out, nil
}

// Update applies a partial update.
func (s *connectionService) Update(ctx context.Context, tenantID, id string, req driving.UpdateConnectionRequest) (*domain.ConnectionSummary, error) {
	entry, err := s.cache.Update(ctx, tenantID, id, func(c *domain.Connection) error {
		if req.Name != nil {
			c.Name = strings.TrimSpace(*req.Name)
		}
		if req.BaseURL != nil {
			c.BaseURL = strings.TrimSpace(*req.BaseURL)
		}
		if req.Authentication != nil {
			auth, err := req.Authentication.ToAuthConfig()
			if err != nil {
				return err
			}
			c.Auth = auth
		}
		if req.Headers != nil {
			c.Headers = req.Headers
		}
		if req.RateLimit != nil {
			c.RateLimit = *req.RateLimit
		}
		if req.RetryConfig != nil {
			c.RetryConfig = *req.RetryConfig
		}
		if req.IsActive != nil {
			c.IsActive = *req.IsActive
		}
		if req.Metadata != nil {
			c.Metadata = req.Metadata
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("connection updated", "tenant_id", tenantID, "connection_id", id)
	s.events.Publish(ctx, domain.Event{
		Type:         domain.EventConnectionUpdated,
		TenantID:     tenantID,
		ConnectionID: id,
	})
	return entry.Connection.ToSummary(), nil
}

// Delete removes a connection.
func (s *connectionService) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.cache.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	s.logger.Info("connection deleted", "tenant_id", tenantID, "connection_id", id)
	s.events.Publish(ctx, domain.Event{
		Type:         domain.EventConnectionDeleted,
		TenantID:     tenantID,
		ConnectionID: id,
	})
	return nil
}

// MakeRequest sends spec through the connection.
func (s *connectionService) MakeRequest(ctx context.Context, tenantID, id string, spec domain.RequestSpec) (*domain.Response, error) {
	entry, err := s.cache.Lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	conn := entry.Connection
	if !conn.IsActive {
		return nil, domain.ErrConnectionInactive
	}

	spec.Normalize()

	if err := entry.Limiter.CheckLimit(); err != nil {
		s.events.Publish(ctx, domain.Event{
			Type:         domain.EventRequestFailed,
			TenantID:     tenantID,
			ConnectionID: id,
			Attributes:   map[string]string{"reason": "rate_limited"},
		})
		return nil, err
	}

	start := s.now()
	res, err := s.dispatcher.Execute(ctx, entry.Client, spec, conn.RetryConfig, func(a retry.Attempt) {
		s.audit(ctx, conn, spec, a)
	})
	elapsed := s.now().Sub(start)

	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}

		resp := &domain.Response{Success: false, Error: err.Error(), Duration: elapsed}
		var statusErr *domain.UpstreamStatusError
		if errors.As(err, &statusErr) {
			resp.StatusCode = statusErr.StatusCode
			resp.Data = decodeBody(statusErr.Body)
			resp.Headers = statusErr.Header
		}

		s.logger.Warn("request failed",
			"tenant_id", tenantID,
			"connection_id", id,
			"method", spec.Method,
			"endpoint", spec.Endpoint,
			"status", resp.StatusCode,
			"error", err)
		s.events.Publish(ctx, domain.Event{
			Type:         domain.EventRequestFailed,
			TenantID:     tenantID,
			ConnectionID: id,
			StatusCode:   resp.StatusCode,
			Duration:     elapsed,
		})
		return resp, nil
	}

	s.events.Publish(ctx, domain.Event{
		Type:         domain.EventRequestSucceeded,
		TenantID:     tenantID,
		ConnectionID: id,
		StatusCode:   res.StatusCode,
		Duration:     elapsed,
		Attributes:   map[string]string{"method": spec.Method},
	})
	return &domain.Response{
		Success:    true,
		Data:       decodeBody(res.Body),
		StatusCode: res.StatusCode,
		Headers:    res.Header,
		Duration:   elapsed,
	}, nil
}

// TestConnection calls the connection's test endpoint.
func (s *connectionService) TestConnection(ctx context.Context, tenantID, id string) (*driving.TestConnectionResult, error) {
	entry, err := s.cache.Lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	resp, err := s.MakeRequest(ctx, tenantID, id, domain.RequestSpec{
		Method:   http.MethodGet,
		Endpoint: entry.Connection.TestEndpoint(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return &driving.TestConnectionResult{Success: false, Error: err.Error()}, nil
	}

	return &driving.TestConnectionResult{
		Success:    resp.Success,
		StatusCode: resp.StatusCode,
		DurationMs: resp.Duration.Milliseconds(),
		Error:      resp.Error,
	}, nil
}

// RateLimitStats reports current window usage of a connection.
func (s *connectionService) RateLimitStats(ctx context.Context, tenantID, id string) (*ratelimit.Stats, error) {
	entry, err := s.cache.Lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	stats := entry.Limiter.Stats()
	return &stats, nil
}

// ListRequestLogs returns recent audit entries of a connection.
func (s *connectionService) ListRequestLogs(ctx context.Context, tenantID, id string, limit int) ([]*domain.RequestLog, error) {
	if _, err := s.cache.Lookup(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if s.requestLogs == nil {
		return []*domain.RequestLog{}, nil
	}
	if limit <= 0 {
		limit = defaultRequestLogLimit
	}
	if limit > maxRequestLogLimit {
		limit = maxRequestLogLimit
	}
	return s.requestLogs.ListByConnection(ctx, tenantID, id, limit)
}

// audit records one attempt. Failures are logged and never reach the caller.
func (s *connectionService) audit(ctx context.Context, conn *domain.Connection, spec domain.RequestSpec, a retry.Attempt) {
	if s.requestLogs == nil {
		return
	}

	entry := &domain.RequestLog{
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		Method:       spec.Method,
		Endpoint:     spec.Endpoint,
		StatusCode:   a.StatusCode,
		Duration:     a.Duration.Milliseconds(),
		CreatedAt:    s.now(),
	}
	if a.Err != nil {
		entry.Error = a.Err.Error()
	}
	if len(spec.Params) > 0 {
		entry.RequestData = map[string]any{"params": spec.Params}
	}

	if err := s.requestLogs.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record request log",
			"tenant_id", conn.TenantID,
			"connection_id", conn.ID,
			"attempt", a.Number,
			"error", err)
	}
}

// decodeBody returns parsed JSON when possible, otherwise the raw text.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}
