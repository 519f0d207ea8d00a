package services

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integration-gateway/internal/adapters/driven/crypto"
	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driving"
)

type oauthFixture struct {
	providers   *mocks.MockOAuth2ProviderStore
	connections *mocks.MockOAuth2ConnectionStore
	pending     *mocks.MockPendingAuthorizationStore
	client      *mocks.MockOAuth2Client
	cipher      *crypto.Cipher
	events      *mocks.RecordingObserver
	now         time.Time
	mu          sync.Mutex
	service     driving.OAuthService
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()
	f := &oauthFixture{
		providers:   mocks.NewMockOAuth2ProviderStore(),
		connections: mocks.NewMockOAuth2ConnectionStore(),
		pending:     mocks.NewMockPendingAuthorizationStore(),
		client:      mocks.NewMockOAuth2Client(),
		cipher:      newTestCipher(t),
		events:      &mocks.RecordingObserver{},
		now:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewOAuthService(OAuthServiceConfig{
		Providers:   f.providers,
		Connections: f.connections,
		Pending:     f.pending,
		Client:      f.client,
		Cipher:      f.cipher,
		Events:      NewEventBus(nil, f.events),
		CallbackURL: "https://gateway.example.com/api/v1/oauth2/callback",
		Now:         f.clock,
	})
	return f
}

func (f *oauthFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *oauthFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *oauthFixture) registerProvider(t *testing.T, name string) *domain.OAuth2Provider {
	t.Helper()
	p, err := f.service.RegisterProvider(context.Background(), testTenant, driving.RegisterProviderRequest{
		Name:         name,
		AuthURL:      "https://auth.example.com/authorize",
		TokenURL:     "https://auth.example.com/token",
		ClientID:     "client-1",
		ClientSecret: "client-secret-1",
		Scopes:       []string{"read"},
	})
	require.NoError(t, err)
	return p
}

// connect runs a full authorize/callback round trip.
func (f *oauthFixture) connect(t *testing.T, providerID, code string) *domain.OAuth2ConnectionSummary {
	t.Helper()
	auth, err := f.service.GenerateAuthURL(context.Background(), testTenant, providerID, "user-1", "")
	require.NoError(t, err)
	summary, err := f.service.HandleCallback(context.Background(), driving.CallbackRequest{Code: code, State: auth.State})
	require.NoError(t, err)
	return summary
}

func TestOAuthService_RegisterProviderEncryptsSecret(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "Google")

	stored, err := f.providers.Get(context.Background(), testTenant, p.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.EncryptedClientSecret, "client-secret-1")
	assert.Equal(t, "https://gateway.example.com/api/v1/oauth2/callback", stored.RedirectURI)

	secret, err := f.cipher.DecryptString(stored.EncryptedClientSecret)
	require.NoError(t, err)
	assert.Equal(t, "client-secret-1", secret)
}

func TestOAuthService_RegisterProviderValidates(t *testing.T) {
	f := newOAuthFixture(t)
	_, err := f.service.RegisterProvider(context.Background(), testTenant, driving.RegisterProviderRequest{
		Name:     "x",
		AuthURL:  "not a url",
		TokenURL: "https://auth.example.com/token",
		ClientID: "c", ClientSecret: "s",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOAuthService_GenerateAuthURL(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")

	resp, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "")
	require.NoError(t, err)

	assert.Len(t, resp.State, 64)
	u, err := url.Parse(resp.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, resp.State, u.Query().Get("state"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, "consent", u.Query().Get("prompt"))
	assert.Equal(t, "2024-03-01T12:10:00Z", resp.ExpiresAt)
	assert.Equal(t, 1, f.pending.Len())

	other, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, resp.State, other.State)
}

func TestOAuthService_GenerateAuthURLCallerState(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")

	resp, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "caller-chosen-state-0001")
	require.NoError(t, err)
	assert.Equal(t, "caller-chosen-state-0001", resp.State)
	u, err := url.Parse(resp.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, "caller-chosen-state-0001", u.Query().Get("state"))
	assert.Equal(t, 1, f.pending.Len())

	_, err = f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "short")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "state", ve.Field)
	assert.Equal(t, 1, f.pending.Len(), "rejected state is not stored")
}

func TestOAuthService_GenerateAuthURLStateCollision(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	const state = "caller-chosen-state-0001"

	_, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", state)
	require.NoError(t, err)

	_, err = f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-2", state)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "state", ve.Field)

	pending, err := f.pending.Consume(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, testTenant, pending.TenantID)
	assert.Equal(t, "user-1", pending.UserID)
}

func TestOAuthService_GenerateAuthURLUnknownProvider(t *testing.T) {
	f := newOAuthFixture(t)
	_, err := f.service.GenerateAuthURL(context.Background(), testTenant, "missing", "user-1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOAuthService_HandleCallbackStoresEncryptedTokens(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")

	summary := f.connect(t, p.ID, "code-1")

	assert.Equal(t, p.ID, summary.ProviderID)
	assert.Equal(t, "Bearer", summary.TokenType)
	assert.Equal(t, f.now.Add(time.Hour), summary.ExpiresAt)
	assert.False(t, summary.Expired)
	assert.Equal(t, "user@example.com", summary.UserInfo["email"])

	stored, err := f.connections.Get(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.EncryptedAccessToken, "access-code-1")
	assert.Equal(t, "user-1", stored.UserID)

	token, err := f.service.GetValidAccessToken(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-code-1", token)
	assert.Contains(t, f.events.Types(), domain.EventOAuth2Connected)
}

func TestOAuthService_StateIsSingleUse(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")

	auth, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "")
	require.NoError(t, err)

	_, err = f.service.HandleCallback(context.Background(), driving.CallbackRequest{Code: "c", State: auth.State})
	require.NoError(t, err)

	_, err = f.service.HandleCallback(context.Background(), driving.CallbackRequest{Code: "c", State: auth.State})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 1, f.client.ExchangeCalls)
}

func TestOAuthService_UnknownState(t *testing.T) {
	f := newOAuthFixture(t)
	_, err := f.service.HandleCallback(context.Background(), driving.CallbackRequest{Code: "c", State: "forged"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestOAuthService_ExpiredState(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")

	auth, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "")
	require.NoError(t, err)

	f.advance(11 * time.Minute)
	_, err = f.service.HandleCallback(context.Background(), driving.CallbackRequest{Code: "c", State: auth.State})
	assert.ErrorIs(t, err, domain.ErrAuthorizationExpired)
	assert.Equal(t, 0, f.client.ExchangeCalls)
}

func TestOAuthService_ProviderErrorBurnsState(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")

	auth, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "")
	require.NoError(t, err)

	_, err = f.service.HandleCallback(context.Background(), driving.CallbackRequest{
		State:            auth.State,
		Error:            "access_denied",
		ErrorDescription: "user declined",
	})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	var oerr *domain.OAuth2Error
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "user declined", oerr.Description)
	assert.Equal(t, 0, f.pending.Len())
}

func TestOAuthService_ExchangeFailure(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.client.ExchangeFn = func(string) (*domain.TokenSet, error) { return nil, errors.New("invalid_grant") }

	auth, err := f.service.GenerateAuthURL(context.Background(), testTenant, p.ID, "user-1", "")
	require.NoError(t, err)

	_, err = f.service.HandleCallback(context.Background(), driving.CallbackRequest{Code: "c", State: auth.State})
	assert.ErrorIs(t, err, &domain.OAuth2Error{Code: domain.OAuth2CodeExchangeFailed})
	assert.Equal(t, 0, f.connections.Len())
}

func TestOAuthService_UserInfoFailureIsTolerated(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.client.UserInfoFn = func(string) (map[string]any, error) { return nil, errors.New("timeout") }

	summary := f.connect(t, p.ID, "code")
	assert.Nil(t, summary.UserInfo)
}

func TestOAuthService_GetValidAccessTokenRefreshesWhenExpired(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.client.RefreshFn = func(rt string) (*domain.TokenSet, error) {
		assert.Equal(t, "refresh-code", rt)
		return &domain.TokenSet{AccessToken: "fresh", ExpiresAt: f.clock().Add(time.Hour)}, nil
	}
	summary := f.connect(t, p.ID, "code")

	f.advance(time.Hour)
	expired, err := f.service.IsTokenExpired(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	token, err := f.service.GetValidAccessToken(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	stored, err := f.connections.Get(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	refresh, err := f.cipher.DecryptString(stored.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-code", refresh, "refresh token kept when provider omits a new one")

	expired, err = f.service.IsTokenExpired(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestOAuthService_ConcurrentRefreshHappensOnce(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	release := make(chan struct{})
	f.client.RefreshFn = func(string) (*domain.TokenSet, error) {
		<-release
		return &domain.TokenSet{AccessToken: "fresh", ExpiresAt: f.clock().Add(time.Hour)}, nil
	}
	summary := f.connect(t, p.ID, "code")
	f.advance(2 * time.Hour)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := f.service.GetValidAccessToken(context.Background(), testTenant, summary.ID)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	_, refreshes, _ := f.client.Calls()
	assert.Equal(t, 1, refreshes)
	for _, tok := range tokens {
		assert.Equal(t, "fresh", tok)
	}
}

func TestOAuthService_RefreshTokenRotates(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.client.RefreshFn = func(string) (*domain.TokenSet, error) {
		return &domain.TokenSet{AccessToken: "rotated", RefreshToken: "new-refresh", TokenType: "bearer", ExpiresAt: f.clock().Add(2 * time.Hour)}, nil
	}
	summary := f.connect(t, p.ID, "code")

	res, err := f.service.RefreshToken(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", res.AccessToken)
	assert.Equal(t, "bearer", res.TokenType)
	assert.Equal(t, f.clock().Add(2*time.Hour), res.ExpiresAt)

	stored, err := f.connections.Get(context.Background(), testTenant, summary.ID)
	require.NoError(t, err)
	refresh, err := f.cipher.DecryptString(stored.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh)
}

func TestOAuthService_RefreshWithoutRefreshToken(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.client.ExchangeFn = func(code string) (*domain.TokenSet, error) {
		return &domain.TokenSet{AccessToken: "only-access"}, nil
	}
	summary := f.connect(t, p.ID, "code")

	_, err := f.service.RefreshToken(context.Background(), testTenant, summary.ID)
	assert.ErrorIs(t, err, domain.ErrNoRefreshToken)
}

func TestOAuthService_RefreshFailure(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.client.RefreshFn = func(string) (*domain.TokenSet, error) { return nil, errors.New("invalid_grant") }
	summary := f.connect(t, p.ID, "code")

	_, err := f.service.RefreshToken(context.Background(), testTenant, summary.ID)
	assert.ErrorIs(t, err, &domain.OAuth2Error{Code: domain.OAuth2CodeRefreshFailed})
	assert.Equal(t, 0, f.connections.UpdateTokensCalls)
}

func TestOAuthService_RevokeSupportedProvider(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "Google")
	var revoked string
	f.client.RevokeFn = func(token string) error {
		revoked = token
		return nil
	}
	summary := f.connect(t, p.ID, "code")

	require.NoError(t, f.service.RevokeConnection(context.Background(), testTenant, summary.ID))

	assert.Equal(t, "access-code", revoked)
	assert.Equal(t, 0, f.connections.Len())
	assert.Contains(t, f.events.Types(), domain.EventOAuth2Revoked)
}

func TestOAuthService_RevokeBearerStyleSendsAccessToken(t *testing.T) {
	for _, name := range []string{"dropbox", "slack"} {
		t.Run(name, func(t *testing.T) {
			f := newOAuthFixture(t)
			p := f.registerProvider(t, name)
			var revoked []string
			f.client.RevokeFn = func(token string) error {
				revoked = append(revoked, token)
				return nil
			}
			summary := f.connect(t, p.ID, "code")

			require.NoError(t, f.service.RevokeConnection(context.Background(), testTenant, summary.ID))
			assert.Equal(t, []string{"access-code"}, revoked)
		})
	}
}

func TestOAuthService_RevokeProviderFailureStillDeletes(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "slack")
	f.client.RevokeFn = func(string) error { return errors.New("provider unavailable") }
	summary := f.connect(t, p.ID, "code")

	require.NoError(t, f.service.RevokeConnection(context.Background(), testTenant, summary.ID))
	assert.Equal(t, 0, f.connections.Len())
}

func TestOAuthService_RevokeUnsupportedProviderSkipsRemoteCall(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "github")
	summary := f.connect(t, p.ID, "code")

	require.NoError(t, f.service.RevokeConnection(context.Background(), testTenant, summary.ID))
	_, _, revokes := f.client.Calls()
	assert.Equal(t, 0, revokes)
	assert.Equal(t, 0, f.connections.Len())
}

func TestOAuthService_GetUserConnections(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	f.connect(t, p.ID, "a")
	f.connect(t, p.ID, "b")

	conns, err := f.service.GetUserConnections(context.Background(), testTenant, "user-1")
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	conns, err = f.service.GetUserConnections(context.Background(), "tenant-b", "user-1")
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestOAuthService_TenantIsolation(t *testing.T) {
	f := newOAuthFixture(t)
	p := f.registerProvider(t, "google")
	summary := f.connect(t, p.ID, "code")

	_, err := f.service.GetValidAccessToken(context.Background(), "tenant-b", summary.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = f.service.RevokeConnection(context.Background(), "tenant-b", summary.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, f.connections.Len())
}
