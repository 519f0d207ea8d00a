package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ConnectionType classifies the external API behind a connection.
type ConnectionType string

const (
	ConnectionTypeREST    ConnectionType = "rest"
	ConnectionTypeGraphQL ConnectionType = "graphql"
	ConnectionTypeWebhook ConnectionType = "webhook"
	ConnectionTypeCustom  ConnectionType = "custom"
)

// IsValid returns true if the connection type is known.
func (t ConnectionType) IsValid() bool {
	switch t {
	case ConnectionTypeREST, ConnectionTypeGraphQL, ConnectionTypeWebhook, ConnectionTypeCustom:
		return true
	}
	return false
}

// RateLimitPolicy bounds how fast a connection may be called.
type RateLimitPolicy struct {
	RequestsPerSecond int `json:"requestsPerSecond"`
	RequestsPerMinute int `json:"requestsPerMinute"`
	RequestsPerHour   int `json:"requestsPerHour"`
	BurstLimit        int `json:"burstLimit"`
}

// DefaultRateLimitPolicy returns the policy applied when none is given.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		RequestsPerSecond: 10,
		RequestsPerMinute: 100,
		RequestsPerHour:   1000,
		BurstLimit:        20,
	}
}

// Validate checks every limit is positive.
func (p RateLimitPolicy) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"rateLimit.requestsPerSecond", p.RequestsPerSecond},
		{"rateLimit.requestsPerMinute", p.RequestsPerMinute},
		{"rateLimit.requestsPerHour", p.RequestsPerHour},
		{"rateLimit.burstLimit", p.BurstLimit},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return NewValidationError(c.field, "must be greater than zero")
		}
	}
	return nil
}

// RetryPolicy controls how failed requests are retried.
type RetryPolicy struct {
	MaxRetries           int     `json:"maxRetries"`
	BackoffMultiplier    float64 `json:"backoffMultiplier"`
	MaxBackoffMs         int     `json:"maxBackoffMs"`
	RetryableStatusCodes []int   `json:"retryableStatusCodes"`
}

// DefaultRetryPolicy returns the policy applied when none is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:           3,
		BackoffMultiplier:    2,
		MaxBackoffMs:         30000,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// Validate checks the retry policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return NewValidationError("retryConfig.maxRetries", "must not be negative")
	}
	if p.BackoffMultiplier < 1 {
		return NewValidationError("retryConfig.backoffMultiplier", "must be at least 1")
	}
	if p.MaxBackoffMs <= 0 {
		return NewValidationError("retryConfig.maxBackoffMs", "must be greater than zero")
	}
	return nil
}

// IsRetryable reports whether a response status may be retried.
func (p RetryPolicy) IsRetryable(status int) bool {
	for _, code := range p.RetryableStatusCodes {
		if code == status {
			return true
		}
	}
	return false
}

// Connection is a tenant's definition of how to reach one external API,
// with credentials decrypted. It is only ever held in memory.
type Connection struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Name        string            `json:"name"`
	Type        ConnectionType    `json:"type"`
	BaseURL     string            `json:"baseUrl"`
	Auth        AuthConfig        `json:"-"` // Never serialize
	Headers     map[string]string `json:"headers,omitempty"`
	RateLimit   RateLimitPolicy   `json:"rateLimit"`
	RetryConfig RetryPolicy       `json:"retryConfig"`
	IsActive    bool              `json:"isActive"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ConnectionRecord is the persisted form of a Connection.
// Authentication always holds a serialized encrypted envelope, or a legacy
// encoded value awaiting migration.
type ConnectionRecord struct {
	ID             string
	TenantID       string
	Name           string
	Type           ConnectionType
	BaseURL        string
	Authentication string
	Headers        map[string]string
	RateLimit      RateLimitPolicy
	RetryConfig    RetryPolicy
	IsActive       bool
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConnectionSummary is a secret-free view of a connection.
type ConnectionSummary struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	Name        string          `json:"name"`
	Type        ConnectionType  `json:"type"`
	BaseURL     string          `json:"baseUrl"`
	AuthKind    AuthKind        `json:"authType"`
	RateLimit   RateLimitPolicy `json:"rateLimit"`
	RetryConfig RetryPolicy     `json:"retryConfig"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ToSummary converts a Connection to its secret-free summary.
func (c *Connection) ToSummary() *ConnectionSummary {
	kind := AuthKindNone
	if c.Auth != nil {
		kind = c.Auth.Kind()
	}
	return &ConnectionSummary{
		ID:          c.ID,
		TenantID:    c.TenantID,
		Name:        c.Name,
		Type:        c.Type,
		BaseURL:     c.BaseURL,
		AuthKind:    kind,
		RateLimit:   c.RateLimit,
		RetryConfig: c.RetryConfig,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Validate checks the connection definition before it is persisted.
func (c *Connection) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return NewValidationError("tenantId", "is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if !c.Type.IsValid() {
		return NewValidationError("type", fmt.Sprintf("unknown connection type %q", c.Type))
	}
	if err := ValidateBaseURL(c.BaseURL); err != nil {
		return err
	}
	if c.Auth == nil {
		return NewValidationError("authentication", "is required")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.RetryConfig.Validate()
}

// ValidateBaseURL requires an absolute http(s) URL.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return NewValidationError("baseUrl", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("baseUrl", "scheme must be http or https")
	}
	return nil
}

// TestEndpoint returns the path requested by a connection test.
func (c *Connection) TestEndpoint() string {
	if v, ok := c.Metadata["test_endpoint"].(string); ok && v != "" {
		return v
	}
	return "/"
}

// CacheKey identifies a cached connection. Both parts are required so a
// connection id can never resolve across tenants.
type CacheKey struct {
	TenantID     string
	ConnectionID string
}

// String renders the key for maps and channels.
func (k CacheKey) String() string {
	return k.TenantID + ":" + k.ConnectionID
}

// ParseCacheKey is the inverse of CacheKey.String.
func ParseCacheKey(s string) (CacheKey, bool) {
	tenant, conn, ok := strings.Cut(s, ":")
	if !ok || tenant == "" || conn == "" {
		return CacheKey{}, false
	}
	return CacheKey{TenantID: tenant, ConnectionID: conn}, true
}
