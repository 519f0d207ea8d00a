package http

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/ulule/limiter/v3"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	connectionService driving.ConnectionService
	oauthService      driving.OAuthService

	// Infrastructure
	identity  driven.IdentityVerifier
	throttle  func(http.Handler) http.Handler
	metrics   http.Handler
	runtime   *domain.RuntimeConfig
	db        Pinger // PostgreSQL health check
	redisPing Pinger // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string

	// APIRateLimit is the per-tenant inbound limit in ulule format ("600-M").
	// Empty disables inbound throttling.
	APIRateLimit string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		Version:      "dev",
		APIRateLimit: "600-M",
	}
}

// Dependencies are the services and infrastructure the server fronts
type Dependencies struct {
	Connections driving.ConnectionService
	OAuth       driving.OAuthService
	Identity    driven.IdentityVerifier

	// RateLimitStore backs inbound throttling; nil disables it.
	RateLimitStore limiter.Store

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Runtime is reported on /version when set.
	Runtime *domain.RuntimeConfig

	DB     Pinger
	Redis  Pinger // can be nil
	Logger *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:            http.NewServeMux(),
		version:           cfg.Version,
		logger:            logger,
		connectionService: deps.Connections,
		oauthService:      deps.OAuth,
		identity:          deps.Identity,
		metrics:           deps.Metrics,
		runtime:           deps.Runtime,
		db:                deps.DB,
		redisPing:         deps.Redis,
	}

	if deps.RateLimitStore != nil && cfg.APIRateLimit != "" {
		throttle, err := NewTenantRateLimiter(deps.RateLimitStore, cfg.APIRateLimit, logger)
		if err != nil {
			return nil, fmt.Errorf("invalid API rate limit %q: %w", cfg.APIRateLimit, err)
		}
		s.throttle = throttle
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	handler = NewLoggingMiddleware(logger).Handler(handler)
	if len(cfg.AllowedOrigins) > 0 {
		handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	}
	handler = NewRecoveryMiddleware(logger).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // make-request may retry for a while
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	auth := NewAuthMiddleware(s.identity)
	protected := func(h http.HandlerFunc) http.Handler {
		var next http.Handler = h
		if s.throttle != nil {
			next = s.throttle(next)
		}
		return auth.Authenticate(next)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}

	// Connections
	s.router.Handle("GET /api/v1/connections", protected(s.handleListConnections))
	s.router.Handle("POST /api/v1/connections", protected(s.handleCreateConnection))
	s.router.Handle("GET /api/v1/connections/{id}", protected(s.handleGetConnection))
	s.router.Handle("PUT /api/v1/connections/{id}", protected(s.handleUpdateConnection))
	s.router.Handle("DELETE /api/v1/connections/{id}", protected(s.handleDeleteConnection))
	s.router.Handle("POST /api/v1/connections/{id}/request", protected(s.handleMakeRequest))
	s.router.Handle("POST /api/v1/connections/{id}/test", protected(s.handleTestConnection))
	s.router.Handle("GET /api/v1/connections/{id}/stats", protected(s.handleRateLimitStats))
	s.router.Handle("GET /api/v1/connections/{id}/logs", protected(s.handleListRequestLogs))

	// OAuth2 providers and connections
	s.router.Handle("GET /api/v1/oauth2/providers", protected(s.handleListProviders))
	s.router.Handle("POST /api/v1/oauth2/providers", protected(s.handleRegisterProvider))
	s.router.Handle("POST /api/v1/oauth2/providers/{id}/authorize", protected(s.handleAuthorize))
	// Callback is public - receives redirects from OAuth providers
	s.router.HandleFunc("GET /api/v1/oauth2/callback", s.handleCallback)
	s.router.Handle("GET /api/v1/oauth2/connections", protected(s.handleListOAuth2Connections))
	s.router.Handle("POST /api/v1/oauth2/connections/{id}/refresh", protected(s.handleRefreshOAuth2Connection))
	s.router.Handle("GET /api/v1/oauth2/connections/{id}/token", protected(s.handleGetAccessToken))
	s.router.Handle("DELETE /api/v1/oauth2/connections/{id}", protected(s.handleRevokeOAuth2Connection))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
