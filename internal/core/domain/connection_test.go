package domain

import (
	"errors"
	"testing"
)

func validConnection() *Connection {
	return &Connection{
		TenantID:    "tenant-1",
		Name:        "crm",
		Type:        ConnectionTypeREST,
		BaseURL:     "https://api.example.com/v1",
		Auth:        BearerAuth{Token: "tok"},
		RateLimit:   DefaultRateLimitPolicy(),
		RetryConfig: DefaultRetryPolicy(),
		IsActive:    true,
	}
}

func TestConnectionValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Connection)
		wantField string
	}{
		{"valid", func(c *Connection) {}, ""},
		{"missing tenant", func(c *Connection) { c.TenantID = " " }, "tenantId"},
		{"missing name", func(c *Connection) { c.Name = "" }, "name"},
		{"unknown type", func(c *Connection) { c.Type = "soap" }, "type"},
		{"relative base url", func(c *Connection) { c.BaseURL = "/v1" }, "baseUrl"},
		{"ftp base url", func(c *Connection) { c.BaseURL = "ftp://files.example.com" }, "baseUrl"},
		{"missing auth", func(c *Connection) { c.Auth = nil }, "authentication"},
		{"empty bearer", func(c *Connection) { c.Auth = BearerAuth{} }, "authentication.token"},
		{"zero rate", func(c *Connection) { c.RateLimit.RequestsPerSecond = 0 }, "rateLimit.requestsPerSecond"},
		{"negative retries", func(c *Connection) { c.RetryConfig.MaxRetries = -1 }, "retryConfig.maxRetries"},
		{"shrinking backoff", func(c *Connection) { c.RetryConfig.BackoffMultiplier = 0.5 }, "retryConfig.backoffMultiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConnection()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, ve.Field)
			}
		})
	}
}

func TestRetryPolicyIsRetryable(t *testing.T) {
	p := DefaultRetryPolicy()
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		if !p.IsRetryable(status) {
			t.Errorf("expected %d to be retryable", status)
		}
	}
	for _, status := range []int{400, 401, 404, 501} {
		if p.IsRetryable(status) {
			t.Errorf("expected %d not to be retryable", status)
		}
	}
}

func TestConnectionToSummary(t *testing.T) {
	c := validConnection()
	c.ID = "c1"
	s := c.ToSummary()
	if s.AuthKind != AuthKindBearer {
		t.Errorf("expected bearer, got %s", s.AuthKind)
	}
	if s.ID != "c1" || s.TenantID != "tenant-1" {
		t.Errorf("unexpected summary %+v", s)
	}

	c.Auth = nil
	if c.ToSummary().AuthKind != AuthKindNone {
		t.Error("nil auth should summarize as none")
	}
}

func TestConnectionTestEndpoint(t *testing.T) {
	c := validConnection()
	if c.TestEndpoint() != "/" {
		t.Errorf("expected default /, got %q", c.TestEndpoint())
	}
	c.Metadata = map[string]any{"test_endpoint": "/health"}
	if c.TestEndpoint() != "/health" {
		t.Errorf("expected /health, got %q", c.TestEndpoint())
	}
}

func TestCacheKeyRoundTrip(t *testing.T) {
	k := CacheKey{TenantID: "t1", ConnectionID: "c1"}
	if k.String() != "t1:c1" {
		t.Errorf("unexpected key %q", k.String())
	}
	parsed, ok := ParseCacheKey(k.String())
	if !ok || parsed != k {
		t.Errorf("expected %v, got %v (ok=%t)", k, parsed, ok)
	}

	for _, bad := range []string{"", "t1", ":c1", "t1:"} {
		if _, ok := ParseCacheKey(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
