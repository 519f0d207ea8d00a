// Package httpclient builds the dedicated HTTP client of a connection: base
// URL resolution, default headers, and an authentication-injecting transport.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Options configures a Client.
type Options struct {
	// Transport is the underlying round tripper (default: http.DefaultTransport).
	Transport http.RoundTripper

	// Refresher performs refresh grants for oauth2 connections (optional).
	Refresher driven.TokenRefresher

	// OnRefresh persists refreshed oauth2 credentials (optional).
	OnRefresh RefreshFunc
}

// Client sends requests for a single connection.
type Client struct {
	connectionID string
	baseURL      string
	headers      map[string]string
	auth         *authTransport
	http         *http.Client
}

// New builds the client for conn.
func New(conn *domain.Connection, opts Options) *Client {
	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	headers := make(map[string]string, len(conn.Headers))
	for k, v := range conn.Headers {
		headers[k] = v
	}

	at := newAuthTransport(next, conn.Auth, opts.Refresher, opts.OnRefresh)
	return &Client{
		connectionID: conn.ID,
		baseURL:      strings.TrimRight(conn.BaseURL, "/"),
		headers:      headers,
		auth:         at,
		// Timeouts are applied per attempt through the request context.
		http: &http.Client{Transport: at},
	}
}

// NewRequest builds an unauthenticated request; credentials are added by the
// transport on every attempt.
func (c *Client) NewRequest(ctx context.Context, spec domain.RequestSpec) (*http.Request, error) {
	target, err := c.resolve(spec.Endpoint, spec.Params)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if spec.Data != nil && spec.Method != http.MethodGet && spec.Method != http.MethodHead {
		payload, err := encodeBody(spec.Data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends req through the authenticating transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// Auth returns the credentials currently used by the client.
func (c *Client) Auth() domain.AuthConfig {
	return c.auth.current()
}

// resolve joins endpoint onto the base URL. Absolute endpoints are rejected
// so credentials are never sent to another host.
func (c *Client) resolve(endpoint string, params map[string]string) (string, error) {
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() {
		return "", domain.NewValidationError("endpoint", "must be relative to the connection base URL")
	}

	target := c.baseURL
	if trimmed := strings.TrimLeft(endpoint, "/"); trimmed != "" {
		target += "/" + trimmed
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", domain.NewValidationError("endpoint", "is not a valid path")
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, domain.NewValidationError("data", "must be JSON serializable")
		}
		return payload, nil
	}
}
