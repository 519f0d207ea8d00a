package driving

import (
	"context"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/ratelimit"
)

// ConnectionService manages tenant connections and proxies requests through them.
// Every operation is scoped to the tenant given by the caller.
type ConnectionService interface {
	// Create validates, encrypts and persists a new connection, then caches it.
	Create(ctx context.Context, tenantID string, req CreateConnectionRequest) (*domain.ConnectionSummary, error)

	// Get returns a connection summary.
	// Returns domain.ErrNotFound if the connection doesn't belong to the tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.ConnectionSummary, error)

	// List returns all connections of a tenant.
	List(ctx context.Context, tenantID string) ([]*domain.ConnectionSummary, error)

	// Update applies a partial update. Credentials are re-encrypted only when they change.
	Update(ctx context.Context, tenantID, id string, req UpdateConnectionRequest) (*domain.ConnectionSummary, error)

	// Delete removes a connection and evicts it from the cache.
	Delete(ctx context.Context, tenantID, id string) error

	// MakeRequest sends a request through a connection with rate limiting,
	// retries and auditing. Upstream failures are reported in the Response
	// with Success=false; the error is reserved for gateway failures.
	MakeRequest(ctx context.Context, tenantID, id string, spec domain.RequestSpec) (*domain.Response, error)

	// TestConnection calls the connection's test endpoint with a GET.
	TestConnection(ctx context.Context, tenantID, id string) (*TestConnectionResult, error)

	// RateLimitStats reports current window usage of a connection.
	RateLimitStats(ctx context.Context, tenantID, id string) (*ratelimit.Stats, error)

	// ListRequestLogs returns recent audit entries of a connection, newest first.
	ListRequestLogs(ctx context.Context, tenantID, id string, limit int) ([]*domain.RequestLog, error)
}

// AuthConfigInput is the wire form of connection credentials.
// @Description Connection credentials; fields depend on type
type AuthConfigInput struct {
	Type         domain.AuthKind       `json:"type" example:"bearer"`
	APIKey       string                `json:"apiKey,omitempty"`
	KeyName      string                `json:"keyName,omitempty" example:"X-API-Key"`
	In           domain.APIKeyLocation `json:"in,omitempty" example:"header"`
	Token        string                `json:"token,omitempty"`
	AccessToken  string                `json:"accessToken,omitempty"`
	RefreshToken string                `json:"refreshToken,omitempty"`
	TokenURL     string                `json:"tokenUrl,omitempty"`
	ClientID     string                `json:"clientId,omitempty"`
	ClientSecret string                `json:"clientSecret,omitempty"`
	Scopes       []string              `json:"scopes,omitempty"`
	Username     string                `json:"username,omitempty"`
	Password     string                `json:"password,omitempty"`
}

// ToAuthConfig converts the wire form into a domain variant.
func (in AuthConfigInput) ToAuthConfig() (domain.AuthConfig, error) {
	switch in.Type {
	case domain.AuthKindNone:
		return domain.NoAuth{}, nil
	case domain.AuthKindAPIKey:
		return domain.APIKeyAuth{Key: in.APIKey, Name: in.KeyName, In: in.In}, nil
	case domain.AuthKindBearer:
		return domain.BearerAuth{Token: in.Token}, nil
	case domain.AuthKindOAuth2:
		return domain.OAuth2Auth{
			AccessToken:  in.AccessToken,
			RefreshToken: in.RefreshToken,
			TokenURL:     in.TokenURL,
			ClientID:     in.ClientID,
			ClientSecret: in.ClientSecret,
			Scopes:       in.Scopes,
		}, nil
	case domain.AuthKindBasic:
		return domain.BasicAuth{Username: in.Username, Password: in.Password}, nil
	default:
		return nil, domain.NewValidationError("authentication.type", "must be one of none, api_key, bearer, oauth2, basic")
	}
}

// CreateConnectionRequest represents a request to create a connection.
// @Description Request to create a connection to an external API
type CreateConnectionRequest struct {
	Name           string                  `json:"name" example:"CRM"`
	Type           domain.ConnectionType   `json:"type" example:"rest"`
	BaseURL        string                  `json:"baseUrl" example:"https://api.example.com/v1"`
	Authentication AuthConfigInput         `json:"authentication"`
	Headers        map[string]string       `json:"headers,omitempty"`
	RateLimit      *domain.RateLimitPolicy `json:"rateLimit,omitempty"`
	RetryConfig    *domain.RetryPolicy     `json:"retryConfig,omitempty"`
	Metadata       map[string]any          `json:"metadata,omitempty"`
}

// UpdateConnectionRequest represents a partial update; nil fields are left unchanged.
// @Description Partial update of a connection
type UpdateConnectionRequest struct {
	Name           *string                 `json:"name,omitempty"`
	BaseURL        *string                 `json:"baseUrl,omitempty"`
	Authentication *AuthConfigInput        `json:"authentication,omitempty"`
	Headers        map[string]string       `json:"headers,omitempty"`
	RateLimit      *domain.RateLimitPolicy `json:"rateLimit,omitempty"`
	RetryConfig    *domain.RetryPolicy     `json:"retryConfig,omitempty"`
	IsActive       *bool                   `json:"isActive,omitempty"`
	Metadata       map[string]any          `json:"metadata,omitempty"`
}

// TestConnectionResult reports the outcome of a connection test.
// @Description Result of testing a connection
type TestConnectionResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}
