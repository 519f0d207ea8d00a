// Package oauth2 talks to provider authorization servers: consent URLs,
// code exchange, refresh grants, user-info lookups and token revocation.
package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xoauth2 "golang.org/x/oauth2"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure Client implements the ports.
var (
	_ driven.OAuth2Client   = (*Client)(nil)
	_ driven.TokenRefresher = (*Client)(nil)
)

// DefaultHTTPTimeout bounds every call to a provider.
const DefaultHTTPTimeout = 30 * time.Second

// maxProviderBody caps how much of a provider response is read.
const maxProviderBody = 1 << 20

// Endpoint is a provider URL and the HTTP method it expects.
type Endpoint struct {
	URL    string
	Method string
}

// revocationStyle says how the token is presented to a revocation endpoint.
type revocationStyle int

const (
	// revokeForm posts token=<token> as a form body (RFC 7009).
	revokeForm revocationStyle = iota
	// revokeBearer sends the token as a bearer credential with no body.
	revokeBearer
)

type revocationEndpoint struct {
	Endpoint
	style revocationStyle
}

var defaultUserInfo = map[string]Endpoint{
	"google":    {URL: "https://www.googleapis.com/oauth2/v2/userinfo", Method: http.MethodGet},
	"github":    {URL: "https://api.github.com/user", Method: http.MethodGet},
	"slack":     {URL: "https://slack.com/api/users.identity", Method: http.MethodGet},
	"microsoft": {URL: "https://graph.microsoft.com/v1.0/me", Method: http.MethodGet},
	"dropbox":   {URL: "https://api.dropboxapi.com/2/users/get_current_account", Method: http.MethodPost},
}

// Only these providers are revoked remotely.
var defaultRevocation = map[string]revocationEndpoint{
	"google":  {Endpoint{URL: "https://oauth2.googleapis.com/revoke", Method: http.MethodPost}, revokeForm},
	"slack":   {Endpoint{URL: "https://slack.com/api/auth.revoke", Method: http.MethodPost}, revokeBearer},
	"dropbox": {Endpoint{URL: "https://api.dropboxapi.com/2/auth/token/revoke", Method: http.MethodPost}, revokeBearer},
}

// Client implements driven.OAuth2Client with golang.org/x/oauth2.
type Client struct {
	http       *http.Client
	userInfo   map[string]Endpoint
	revocation map[string]revocationEndpoint
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserInfoEndpoint overrides the user-info endpoint for a provider name.
func WithUserInfoEndpoint(provider string, ep Endpoint) Option {
	return func(c *Client) { c.userInfo[strings.ToLower(provider)] = ep }
}

// WithRevocationURL points an allow-listed provider at another revocation URL.
// Names outside the allow-list are ignored.
func WithRevocationURL(provider, rawURL string) Option {
	return func(c *Client) {
		name := strings.ToLower(provider)
		if ep, ok := c.revocation[name]; ok {
			ep.URL = rawURL
			c.revocation[name] = ep
		}
	}
}

// NewClient creates a provider client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: DefaultHTTPTimeout},
		userInfo:   make(map[string]Endpoint, len(defaultUserInfo)),
		revocation: make(map[string]revocationEndpoint, len(defaultRevocation)),
	}
	for k, v := range defaultUserInfo {
		c.userInfo[k] = v
	}
	for k, v := range defaultRevocation {
		c.revocation[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) config(creds driven.ProviderCredentials) *xoauth2.Config {
	p := creds.Provider
	return &xoauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Scopes:       p.Scopes,
		Endpoint: xoauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, xoauth2.HTTPClient, c.http)
}

// AuthCodeURL requests offline access and forces the consent screen so a
// refresh token is issued every time.
func (c *Client) AuthCodeURL(creds driven.ProviderCredentials, state string) string {
	return c.config(creds).AuthCodeURL(state, xoauth2.AccessTypeOffline, xoauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, creds driven.ProviderCredentials, code string) (*domain.TokenSet, error) {
	tok, err := c.config(creds).Exchange(c.withHTTP(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", tokenError(err))
	}
	return toTokenSet(tok), nil
}

// Refresh performs a refresh-token grant.
func (c *Client) Refresh(ctx context.Context, creds driven.ProviderCredentials, refreshToken string) (*domain.TokenSet, error) {
	return c.refresh(ctx, c.config(creds), refreshToken)
}

// RefreshConnectionToken refreshes the credentials of an oauth2-authenticated
// connection using the token endpoint stored on the connection itself.
func (c *Client) RefreshConnectionToken(ctx context.Context, auth domain.OAuth2Auth) (*domain.TokenSet, error) {
	if auth.RefreshToken == "" {
		return nil, domain.ErrNoRefreshToken
	}
	if auth.TokenURL == "" {
		return nil, domain.NewValidationError("authentication.tokenUrl", "is required to refresh")
	}
	cfg := &xoauth2.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		Scopes:       auth.Scopes,
		Endpoint:     xoauth2.Endpoint{TokenURL: auth.TokenURL},
	}
	return c.refresh(ctx, cfg, auth.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, cfg *xoauth2.Config, refreshToken string) (*domain.TokenSet, error) {
	// An already-expired token forces the source to hit the token endpoint.
	stale := &xoauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := cfg.TokenSource(c.withHTTP(ctx), stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", tokenError(err))
	}
	set := toTokenSet(tok)
	// x/oauth2 carries the old refresh token forward when none is returned.
	if set.RefreshToken == refreshToken {
		set.RefreshToken = ""
	}
	return set, nil
}

// FetchUserInfo retrieves the profile of the token owner. Providers without a
// known user-info endpoint yield nil.
func (c *Client) FetchUserInfo(ctx context.Context, creds driven.ProviderCredentials, accessToken string) (map[string]any, error) {
	ep, ok := c.userInfo[creds.Provider.NormalizedName()]
	if !ok {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, ep.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderBody))
		return nil, fmt.Errorf("fetch user info: provider returned %d", resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return info, nil
}

// SupportsRevocation reports whether providerName is on the revocation allow-list.
func (c *Client) SupportsRevocation(providerName string) bool {
	_, ok := c.revocation[strings.ToLower(strings.TrimSpace(providerName))]
	return ok
}

// Revoke invalidates token at the provider.
func (c *Client) Revoke(ctx context.Context, creds driven.ProviderCredentials, token string) error {
	ep, ok := c.revocation[creds.Provider.NormalizedName()]
	if !ok {
		return fmt.Errorf("provider %q does not support revocation", creds.Provider.NormalizedName())
	}

	var req *http.Request
	var err error
	switch ep.style {
	case revokeForm:
		form := url.Values{"token": {token}}
		req, err = http.NewRequestWithContext(ctx, ep.Method, ep.URL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, ep.Method, ep.URL, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("revoke token: provider returned %d", resp.StatusCode)
	}
	return nil
}

func toTokenSet(tok *xoauth2.Token) *domain.TokenSet {
	set := &domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set
}

// tokenError drops the raw response body, which can echo request parameters.
func tokenError(err error) error {
	var re *xoauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" {
			code = "unknown_error"
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return fmt.Errorf("token endpoint returned %d (%s)", status, code)
	}
	return err
}
