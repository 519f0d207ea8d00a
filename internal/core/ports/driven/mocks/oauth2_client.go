package mocks

import (
	"context"
	"net/url"
	"sync"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// MockOAuth2Client is a scriptable OAuth2Client for testing.
type MockOAuth2Client struct {
	mu sync.Mutex

	ExchangeFn func(code string) (*domain.TokenSet, error)
	RefreshFn  func(refreshToken string) (*domain.TokenSet, error)
	UserInfoFn func(accessToken string) (map[string]any, error)
	RevokeFn   func(token string) error

	// Providers whose tokens can be revoked (normalized names)
	Revocable map[string]bool

	ExchangeCalls int
	RefreshCalls  int
	RevokeCalls   int
}

// NewMockOAuth2Client creates a client that issues fixed tokens.
func NewMockOAuth2Client() *MockOAuth2Client {
	return &MockOAuth2Client{
		Revocable: map[string]bool{"google": true, "slack": true, "dropbox": true},
	}
}

func (m *MockOAuth2Client) AuthCodeURL(creds driven.ProviderCredentials, state string) string {
	q := url.Values{}
	q.Set("client_id", creds.Provider.ClientID)
	q.Set("redirect_uri", creds.Provider.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	return creds.Provider.AuthURL + "?" + q.Encode()
}

func (m *MockOAuth2Client) Exchange(ctx context.Context, creds driven.ProviderCredentials, code string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.ExchangeCalls++
	m.mu.Unlock()
	if m.ExchangeFn != nil {
		return m.ExchangeFn(code)
	}
	return &domain.TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, TokenType: "Bearer"}, nil
}

func (m *MockOAuth2Client) Refresh(ctx context.Context, creds driven.ProviderCredentials, refreshToken string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.RefreshCalls++
	m.mu.Unlock()
	if m.RefreshFn != nil {
		return m.RefreshFn(refreshToken)
	}
	return &domain.TokenSet{AccessToken: "refreshed-access", TokenType: "Bearer"}, nil
}

func (m *MockOAuth2Client) FetchUserInfo(ctx context.Context, creds driven.ProviderCredentials, accessToken string) (map[string]any, error) {
	if m.UserInfoFn != nil {
		return m.UserInfoFn(accessToken)
	}
	return map[string]any{"email": "user@example.com"}, nil
}

func (m *MockOAuth2Client) SupportsRevocation(providerName string) bool {
	return m.Revocable[providerName]
}

func (m *MockOAuth2Client) Revoke(ctx context.Context, creds driven.ProviderCredentials, token string) error {
	m.mu.Lock()
	m.RevokeCalls++
	m.mu.Unlock()
	if m.RevokeFn != nil {
		return m.RevokeFn(token)
	}
	return nil
}

// Calls returns the exchange, refresh and revoke call counts.
func (m *MockOAuth2Client) Calls() (exchange, refresh, revoke int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExchangeCalls, m.RefreshCalls, m.RevokeCalls
}

// MockTokenRefresher is a scriptable TokenRefresher for testing.
type MockTokenRefresher struct {
	mu    sync.Mutex
	Calls int

	RefreshFn func(auth domain.OAuth2Auth) (*domain.TokenSet, error)
}

func (m *MockTokenRefresher) RefreshConnectionToken(ctx context.Context, auth domain.OAuth2Auth) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.RefreshFn != nil {
		return m.RefreshFn(auth)
	}
	return &domain.TokenSet{AccessToken: "new-access", TokenType: "Bearer"}, nil
}

// CallCount returns how many refreshes were requested.
func (m *MockTokenRefresher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
