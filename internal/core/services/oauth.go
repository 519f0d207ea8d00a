package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driving"
)

// Ensure oauthService implements OAuthService
var _ driving.OAuthService = (*oauthService)(nil)

const (
	// DefaultPendingAuthorizationTTL is how long a state token is accepted.
	DefaultPendingAuthorizationTTL = 10 * time.Minute

	// defaultTokenLifetime applies when a provider omits expires_in.
	defaultTokenLifetime = time.Hour

	stateBytes     = 32
	minStateLength = 16
)

// OAuthServiceConfig holds configuration for the OAuth service.
type OAuthServiceConfig struct {
	Providers   driven.OAuth2ProviderStore
	Connections driven.OAuth2ConnectionStore
	Pending     driven.PendingAuthorizationStore
	Client      driven.OAuth2Client
	Cipher      driven.CredentialCipher
	Events      *EventBus // Optional
	Logger      *slog.Logger

	// CallbackURL is the redirect URI used for providers registered without one.
	// Example: "https://gateway.example.com/api/v1/oauth2/callback"
	CallbackURL string

	// PendingTTL bounds the authorization window (default: 10m).
	PendingTTL time.Duration

	NewID func() string
	Now   func() time.Time
}

// oauthService implements the OAuthService interface.
type oauthService struct {
	providers   driven.OAuth2ProviderStore
	connections driven.OAuth2ConnectionStore
	pending     driven.PendingAuthorizationStore
	client      driven.OAuth2Client
	cipher      driven.CredentialCipher
	events      *EventBus
	logger      *slog.Logger
	callbackURL string
	pendingTTL  time.Duration
	newID       func() string
	now         func() time.Time

	refreshes singleflight.Group
}

// NewOAuthService creates a new OAuth service.
func NewOAuthService(cfg OAuthServiceConfig) driving.OAuthService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingAuthorizationTTL
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &oauthService{
		providers:   cfg.Providers,
		connections: cfg.Connections,
		pending:     cfg.Pending,
		client:      cfg.Client,
		cipher:      cfg.Cipher,
		events:      cfg.Events,
		logger:      logger,
		callbackURL: cfg.CallbackURL,
		pendingTTL:  ttl,
		newID:       newID,
		now:         now,
	}
}

// RegisterProvider stores a provider with its client secret encrypted.
func (s *oauthService) RegisterProvider(ctx context.Context, tenantID string, req driving.RegisterProviderRequest) (*domain.OAuth2Provider, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	if req.ClientID == "" {
		return nil, domain.NewValidationError("clientId", "is required")
	}
	if req.ClientSecret == "" {
		return nil, domain.NewValidationError("clientSecret", "is required")
	}
	for field, raw := range map[string]string{"authUrl": req.AuthURL, "tokenUrl": req.TokenURL} {
		if err := domain.ValidateBaseURL(raw); err != nil {
			return nil, domain.NewValidationError(field, "must be an absolute http(s) URL")
		}
	}

	secret, err := s.cipher.EncryptString(req.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt client secret: %w", err)
	}

	redirect := req.RedirectURI
	if redirect == "" {
		redirect = s.callbackURL
	}

	now := s.now()
	provider := &domain.OAuth2Provider{
		ID:                    s.newID(),
		TenantID:              tenantID,
		Name:                  strings.TrimSpace(req.Name),
		AuthURL:               req.AuthURL,
		TokenURL:              req.TokenURL,
		ClientID:              req.ClientID,
		EncryptedClientSecret: secret,
		Scopes:                req.Scopes,
		RedirectURI:           redirect,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.providers.Save(ctx, provider); err != nil {
		return nil, fmt.Errorf("save provider: %w", err)
	}

	s.logger.Info("oauth2 provider registered", "tenant_id", tenantID, "provider_id", provider.ID, "name", provider.Name)
	return provider, nil
}

// ListProviders returns the providers of a tenant.
func (s *oauthService) ListProviders(ctx context.Context, tenantID string) ([]*domain.OAuth2Provider, error) {
	return s.providers.List(ctx, tenantID)
}

// GenerateAuthURL starts an authorization flow.
func (s *oauthService) GenerateAuthURL(ctx context.Context, tenantID, providerID, userID, state string) (*driving.AuthorizeResponse, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "is required")
	}
	if state != "" && len(state) < minStateLength {
		return nil, domain.NewValidationError("state", fmt.Sprintf("must be at least %d characters", minStateLength))
	}

	provider, err := s.providers.Get(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	if !provider.IsActive {
		return nil, domain.NewValidationError("providerId", "provider is inactive")
	}

	if state == "" {
		state, err = generateState()
		if err != nil {
			return nil, fmt.Errorf("generate state: %w", err)
		}
	}

	now := s.now()
	pending := &domain.PendingAuthorization{
		State:      state,
		ProviderID: providerID,
		UserID:     userID,
		TenantID:   tenantID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.pendingTTL),
	}
	if err := s.pending.Save(ctx, pending); err != nil {
		if errors.Is(err, domain.ErrStateInUse) {
			return nil, domain.NewValidationError("state", "is already in use")
		}
		return nil, fmt.Errorf("save pending authorization: %w", err)
	}

	authURL := s.client.AuthCodeURL(driven.ProviderCredentials{Provider: provider}, state)

	s.logger.Debug("authorization started", "tenant_id", tenantID, "provider_id", providerID, "user_id", userID)
	return &driving.AuthorizeResponse{
		AuthorizationURL: authURL,
		State:            state,
		ExpiresAt:        pending.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// HandleCallback completes an authorization flow.
func (s *oauthService) HandleCallback(ctx context.Context, req driving.CallbackRequest) (*domain.OAuth2ConnectionSummary, error) {
	if req.Error != "" {
		// Burn the state so it cannot be replayed.
		if req.State != "" {
			if _, err := s.pending.Consume(ctx, req.State); err != nil {
				s.logger.Warn("failed to discard pending authorization", "error", err)
			}
		}
		code := domain.OAuth2CodeProviderError
		if req.Error == domain.OAuth2CodeAccessDenied {
			code = domain.OAuth2CodeAccessDenied
		}
		desc := req.ErrorDescription
		if desc == "" {
			desc = req.Error
		}
		return nil, &domain.OAuth2Error{Code: code, Description: desc}
	}

	if req.State == "" {
		return nil, domain.ErrInvalidState
	}
	if req.Code == "" {
		return nil, domain.NewValidationError("code", "is required")
	}

	pending, err := s.pending.Consume(ctx, req.State)
	if err != nil {
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	if pending == nil {
		return nil, domain.ErrInvalidState
	}
	now := s.now()
	if pending.IsExpired(now) {
		return nil, domain.ErrAuthorizationExpired
	}

	creds, err := s.credentials(ctx, pending.TenantID, pending.ProviderID)
	if err != nil {
		return nil, err
	}

	tokens, err := s.client.Exchange(ctx, creds, req.Code)
	if err != nil {
		s.logger.Warn("authorization code exchange failed",
			"tenant_id", pending.TenantID,
			"provider_id", pending.ProviderID,
			"error", err)
		return nil, &domain.OAuth2Error{Code: domain.OAuth2CodeExchangeFailed, Description: err.Error()}
	}

	userInfo, err := s.client.FetchUserInfo(ctx, creds, tokens.AccessToken)
	if err != nil {
		s.logger.Warn("failed to fetch user info", "provider_id", pending.ProviderID, "error", err)
		userInfo = nil
	}

	conn := &domain.OAuth2Connection{
		ID:         s.newID(),
		UserID:     pending.UserID,
		TenantID:   pending.TenantID,
		ProviderID: pending.ProviderID,
		TokenType:  tokenType(tokens.TokenType),
		Scope:      tokens.Scope,
		ExpiresAt:  s.expiry(tokens, now),
		UserInfo:   userInfo,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if conn.EncryptedAccessToken, err = s.cipher.EncryptString(tokens.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if tokens.RefreshToken != "" {
		if conn.EncryptedRefreshToken, err = s.cipher.EncryptString(tokens.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("save oauth2 connection: %w", err)
	}

	s.logger.Info("oauth2 connection established",
		"tenant_id", conn.TenantID,
		"connection_id", conn.ID,
		"provider_id", conn.ProviderID,
		"user_id", conn.UserID)
	s.events.Publish(ctx, domain.Event{
		Type:         domain.EventOAuth2Connected,
		TenantID:     conn.TenantID,
		ConnectionID: conn.ID,
		Attributes:   map[string]string{"provider_id": conn.ProviderID},
	})
	return conn.ToSummary(now), nil
}

// RefreshToken performs a refresh grant and persists the new tokens.
func (s *oauthService) RefreshToken(ctx context.Context, tenantID, connectionID string) (*driving.RefreshResult, error) {
	return s.refresh(ctx, tenantID, connectionID, true)
}

// RevokeConnection revokes at the provider when supported, then deletes locally.
// Provider failures are logged; local deletion always proceeds.
func (s *oauthService) RevokeConnection(ctx context.Context, tenantID, connectionID string) error {
	conn, err := s.connections.Get(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}

	s.revokeAtProvider(ctx, conn)

	if err := s.connections.Delete(ctx, tenantID, connectionID); err != nil {
		return fmt.Errorf("delete oauth2 connection: %w", err)
	}

	s.logger.Info("oauth2 connection revoked", "tenant_id", tenantID, "connection_id", connectionID)
	s.events.Publish(ctx, domain.Event{
		Type:         domain.EventOAuth2Revoked,
		TenantID:     tenantID,
		ConnectionID: connectionID,
	})
	return nil
}

func (s *oauthService) revokeAtProvider(ctx context.Context, conn *domain.OAuth2Connection) {
	creds, err := s.credentials(ctx, conn.TenantID, conn.ProviderID)
	if err != nil {
		s.logger.Warn("skipping provider revocation", "connection_id", conn.ID, "error", err)
		return
	}
	if !s.client.SupportsRevocation(creds.Provider.NormalizedName()) {
		return
	}

	token, err := s.cipher.DecryptString(conn.EncryptedAccessToken)
	if err != nil {
		s.logger.Warn("skipping provider revocation", "connection_id", conn.ID, "error", err)
		return
	}

	if err := s.client.Revoke(ctx, creds, token); err != nil {
		s.logger.Warn("provider revocation failed",
			"connection_id", conn.ID,
			"provider", creds.Provider.NormalizedName(),
			"error", err)
	}
}

// GetUserConnections lists a user's connections without tokens.
func (s *oauthService) GetUserConnections(ctx context.Context, tenantID, userID string) ([]*domain.OAuth2ConnectionSummary, error) {
	conns, err := s.connections.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list oauth2 connections: %w", err)
	}
	now := s.now()
	out := make([]*domain.OAuth2ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ToSummary(now))
	}
	return out, nil
}

// GetValidAccessToken returns a usable access token, refreshing first if expired.
func (s *oauthService) GetValidAccessToken(ctx context.Context, tenantID, connectionID string) (string, error) {
	conn, err := s.connections.Get(ctx, tenantID, connectionID)
	if err != nil {
		return "", err
	}
	if !conn.IsExpired(s.now()) {
		return s.cipher.DecryptString(conn.EncryptedAccessToken)
	}
	res, err := s.refresh(ctx, tenantID, connectionID, false)
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// IsTokenExpired reports whether a connection's access token has expired.
func (s *oauthService) IsTokenExpired(ctx context.Context, tenantID, connectionID string) (bool, error) {
	conn, err := s.connections.Get(ctx, tenantID, connectionID)
	if err != nil {
		return false, err
	}
	return conn.IsExpired(s.now()), nil
}

// refresh runs at most one refresh grant per connection at a time. Unless
// force is set, a token that became valid while waiting is returned as is.
func (s *oauthService) refresh(ctx context.Context, tenantID, connectionID string, force bool) (*driving.RefreshResult, error) {
	key := domain.CacheKey{TenantID: tenantID, ConnectionID: connectionID}.String()
	v, err, _ := s.refreshes.Do(key, func() (any, error) {
		conn, err := s.connections.Get(ctx, tenantID, connectionID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if !force && !conn.IsExpired(now) {
			access, err := s.cipher.DecryptString(conn.EncryptedAccessToken)
			if err != nil {
				return nil, err
			}
			return &driving.RefreshResult{AccessToken: access, TokenType: tokenType(conn.TokenType), ExpiresAt: conn.ExpiresAt}, nil
		}
		if !conn.HasRefreshToken() {
			return nil, domain.ErrNoRefreshToken
		}

		creds, err := s.credentials(ctx, tenantID, conn.ProviderID)
		if err != nil {
			return nil, err
		}
		refreshToken, err := s.cipher.DecryptString(conn.EncryptedRefreshToken)
		if err != nil {
			return nil, err
		}

		tokens, err := s.client.Refresh(ctx, creds, refreshToken)
		if err != nil {
			s.logger.Warn("token refresh failed", "tenant_id", tenantID, "connection_id", connectionID, "error", err)
			return nil, &domain.OAuth2Error{Code: domain.OAuth2CodeRefreshFailed, Description: err.Error()}
		}

		access, err := s.cipher.EncryptString(tokens.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt access token: %w", err)
		}
		refresh := conn.EncryptedRefreshToken
		if tokens.RefreshToken != "" {
			if refresh, err = s.cipher.EncryptString(tokens.RefreshToken); err != nil {
				return nil, fmt.Errorf("encrypt refresh token: %w", err)
			}
		}

		expiresAt := s.expiry(tokens, now)
		if err := s.connections.UpdateTokens(ctx, tenantID, connectionID, access, refresh, expiresAt); err != nil {
			return nil, fmt.Errorf("update tokens: %w", err)
		}

		s.logger.Info("oauth2 token refreshed", "tenant_id", tenantID, "connection_id", connectionID)
		s.events.Publish(ctx, domain.Event{
			Type:         domain.EventOAuth2Refreshed,
			TenantID:     tenantID,
			ConnectionID: connectionID,
		})
		return &driving.RefreshResult{AccessToken: tokens.AccessToken, TokenType: tokenType(tokens.TokenType), ExpiresAt: expiresAt}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*driving.RefreshResult), nil
}

// credentials loads a provider and decrypts its client secret.
func (s *oauthService) credentials(ctx context.Context, tenantID, providerID string) (driven.ProviderCredentials, error) {
	provider, err := s.providers.Get(ctx, tenantID, providerID)
	if err != nil {
		return driven.ProviderCredentials{}, err
	}
	secret, err := s.cipher.DecryptString(provider.EncryptedClientSecret)
	if err != nil {
		return driven.ProviderCredentials{}, err
	}
	return driven.ProviderCredentials{Provider: provider, ClientSecret: secret}, nil
}

func (s *oauthService) expiry(tokens *domain.TokenSet, now time.Time) time.Time {
	if tokens.ExpiresAt.IsZero() {
		return now.Add(defaultTokenLifetime)
	}
	return tokens.ExpiresAt
}

func tokenType(t string) string {
	if t == "" {
		return "Bearer"
	}
	return t
}

// generateState returns a hex-encoded random state token.
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
