package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// OAuthService runs the OAuth2 authorization code flow on behalf of users
// and keeps their tokens valid.
type OAuthService interface {
	// RegisterProvider stores a provider definition with its client secret encrypted.
	RegisterProvider(ctx context.Context, tenantID string, req RegisterProviderRequest) (*domain.OAuth2Provider, error)

	// ListProviders returns the providers of a tenant.
	ListProviders(ctx context.Context, tenantID string) ([]*domain.OAuth2Provider, error)

	// GenerateAuthURL starts a flow and returns the consent URL and its state.
	// An empty state is minted randomly; a caller-supplied one must be at
	// least 16 characters.
	GenerateAuthURL(ctx context.Context, tenantID, providerID, userID, state string) (*AuthorizeResponse, error)

	// HandleCallback completes a flow. The state is consumed exactly once.
	HandleCallback(ctx context.Context, req CallbackRequest) (*domain.OAuth2ConnectionSummary, error)

	// RefreshToken performs a refresh grant and persists the new tokens.
	RefreshToken(ctx context.Context, tenantID, connectionID string) (*RefreshResult, error)

	// RevokeConnection revokes tokens at the provider when supported and
	// always deletes the local connection.
	RevokeConnection(ctx context.Context, tenantID, connectionID string) error

	// GetUserConnections lists a user's connections without tokens.
	GetUserConnections(ctx context.Context, tenantID, userID string) ([]*domain.OAuth2ConnectionSummary, error)

	// GetValidAccessToken returns a usable access token, refreshing first if expired.
	GetValidAccessToken(ctx context.Context, tenantID, connectionID string) (string, error)

	// IsTokenExpired reports whether a connection's access token has expired.
	IsTokenExpired(ctx context.Context, tenantID, connectionID string) (bool, error)
}

// RegisterProviderRequest represents a request to register an OAuth2 provider.
// @Description OAuth2 provider registration
type RegisterProviderRequest struct {
	Name         string   `json:"name" example:"google"`
	AuthURL      string   `json:"authUrl" example:"https://accounts.google.com/o/oauth2/v2/auth"`
	TokenURL     string   `json:"tokenUrl" example:"https://oauth2.googleapis.com/token"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	Scopes       []string `json:"scopes"`
	RedirectURI  string   `json:"redirectUri,omitempty"`
}

// AuthorizeRequest optionally carries a caller-chosen state.
// @Description Optional parameters for starting an authorization
type AuthorizeRequest struct {
	State string `json:"state,omitempty"`
}

// AuthorizeResponse contains the authorization URL and state.
// @Description Response containing the OAuth2 authorization URL
type AuthorizeResponse struct {
	// AuthorizationURL is the URL to redirect the user to for consent.
	AuthorizationURL string `json:"authorizationUrl" example:"https://accounts.google.com/o/oauth2/v2/auth?client_id=..."`

	// State is the single-use token that will be returned in the callback.
	State string `json:"state" example:"4f1c2a..."`

	// ExpiresAt is when the state stops being accepted (RFC 3339).
	ExpiresAt string `json:"expiresAt" example:"2024-01-15T10:10:00Z"`
}

// CallbackRequest carries the provider redirect parameters.
// @Description OAuth2 callback parameters from provider redirect
type CallbackRequest struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error,omitempty" example:"access_denied"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RefreshResult is the outcome of a refresh grant. The refresh token itself
// never leaves the gateway.
// @Description Refreshed access token
type RefreshResult struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType" example:"Bearer"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
