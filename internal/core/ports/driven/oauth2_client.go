package driven

import (
	"context"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// ProviderCredentials pairs a provider definition with its decrypted secret.
type ProviderCredentials struct {
	Provider     *domain.OAuth2Provider
	ClientSecret string
}

// OAuth2Client talks to provider authorization servers.
type OAuth2Client interface {
	// AuthCodeURL builds the consent URL requesting offline access and forced consent.
	AuthCodeURL(creds ProviderCredentials, state string) string

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, creds ProviderCredentials, code string) (*domain.TokenSet, error)

	// Refresh performs a refresh-token grant.
	Refresh(ctx context.Context, creds ProviderCredentials, refreshToken string) (*domain.TokenSet, error)

	// FetchUserInfo retrieves the provider-specific profile for the token owner.
	FetchUserInfo(ctx context.Context, creds ProviderCredentials, accessToken string) (map[string]any, error)

	// SupportsRevocation reports whether the provider is on the revocation allow-list.
	SupportsRevocation(providerName string) bool

	// Revoke invalidates a token at the provider.
	Revoke(ctx context.Context, creds ProviderCredentials, token string) error
}

// TokenRefresher performs refresh grants for oauth2-authenticated connections.
type TokenRefresher interface {
	RefreshConnectionToken(ctx context.Context, auth domain.OAuth2Auth) (*domain.TokenSet, error)
}
