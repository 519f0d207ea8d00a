package domain

import (
	"strings"
	"time"
)

// OAuth2Provider describes a tenant's authorization server.
// EncryptedClientSecret holds a serialized envelope.
type OAuth2Provider struct {
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenantId"`
	Name                  string    `json:"name"`
	AuthURL               string    `json:"authUrl"`
	TokenURL              string    `json:"tokenUrl"`
	ClientID              string    `json:"clientId"`
	EncryptedClientSecret string    `json:"-"` // Never serialize
	Scopes                []string  `json:"scopes"`
	RedirectURI           string    `json:"redirectUri"`
	IsActive              bool      `json:"isActive"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// NormalizedName is the lower-case provider name used for allow-lists.
func (p *OAuth2Provider) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(p.Name))
}

// OAuth2Connection is the stored result of a completed authorization.
// Token fields hold serialized envelopes.
type OAuth2Connection struct {
	ID                    string         `json:"id"`
	UserID                string         `json:"userId"`
	TenantID              string         `json:"tenantId"`
	ProviderID            string         `json:"providerId"`
	EncryptedAccessToken  string         `json:"-"` // Never serialize
	EncryptedRefreshToken string         `json:"-"` // Never serialize
	TokenType             string         `json:"tokenType"`
	Scope                 string         `json:"scope"`
	ExpiresAt             time.Time      `json:"expiresAt"`
	UserInfo              map[string]any `json:"userInfo,omitempty"`
	IsActive              bool           `json:"isActive"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

// IsExpired is true iff now >= ExpiresAt.
func (c *OAuth2Connection) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// HasRefreshToken reports whether a refresh grant is possible.
func (c *OAuth2Connection) HasRefreshToken() bool {
	return c.EncryptedRefreshToken != ""
}

// OAuth2ConnectionSummary is a token-free view of an OAuth2 connection.
type OAuth2ConnectionSummary struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"providerId"`
	TokenType  string         `json:"tokenType"`
	Scope      string         `json:"scope"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	Expired    bool           `json:"expired"`
	UserInfo   map[string]any `json:"userInfo,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ToSummary converts to the token-free view.
func (c *OAuth2Connection) ToSummary(now time.Time) *OAuth2ConnectionSummary {
	return &OAuth2ConnectionSummary{
		ID:         c.ID,
		ProviderID: c.ProviderID,
		TokenType:  c.TokenType,
		Scope:      c.Scope,
		ExpiresAt:  c.ExpiresAt,
		Expired:    c.IsExpired(now),
		UserInfo:   c.UserInfo,
		CreatedAt:  c.CreatedAt,
	}
}

// PendingAuthorization links a state token to the flow that minted it.
// It lives only in memory (or a TTL store) and is consumed once.
type PendingAuthorization struct {
	State      string    `json:"state"`
	ProviderID string    `json:"providerId"`
	UserID     string    `json:"userId"`
	TenantID   string    `json:"tenantId"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IsExpired reports whether the authorization window has closed.
func (p *PendingAuthorization) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// TokenSet is the plaintext result of a token endpoint call.
type TokenSet struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
