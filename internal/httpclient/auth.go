package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// RefreshFunc is called with the new credentials after a successful refresh.
type RefreshFunc func(ctx context.Context, auth domain.OAuth2Auth) error

// authTransport injects credentials on every round trip. For oauth2
// credentials a 401 triggers exactly one refresh and one replay.
type authTransport struct {
	next      http.RoundTripper
	refresher driven.TokenRefresher
	onRefresh RefreshFunc

	mu   sync.RWMutex
	auth domain.AuthConfig

	refreshes singleflight.Group
}

func newAuthTransport(next http.RoundTripper, auth domain.AuthConfig, refresher driven.TokenRefresher, onRefresh RefreshFunc) *authTransport {
	if auth == nil {
		auth = domain.NoAuth{}
	}
	return &authTransport{
		next:      next,
		refresher: refresher,
		onRefresh: onRefresh,
		auth:      auth,
	}
}

func (t *authTransport) current() domain.AuthConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.auth
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Every attempt sends a fresh copy from GetBody, so the original body
	// is ours to close.
	if req.Body != nil && req.GetBody != nil {
		defer req.Body.Close()
	}
	auth := t.current()

	resp, err := t.send(req, auth)
	if err != nil {
		return nil, err
	}

	oauth, ok := auth.(domain.OAuth2Auth)
	if resp.StatusCode != http.StatusUnauthorized || !ok || !oauth.CanRefresh() || t.refresher == nil {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	refreshed, err := t.refresh(req.Context(), oauth)
	if err != nil {
		// Give up and hand back the original 401.
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return t.send(req, refreshed)
}

// send clones req, applies auth, and forwards it.
func (t *authTransport) send(req *http.Request, auth domain.AuthConfig) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	if err := Apply(out, auth); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(out)
}

// refresh coalesces concurrent refreshes for the same credentials.
func (t *authTransport) refresh(ctx context.Context, stale domain.OAuth2Auth) (domain.OAuth2Auth, error) {
	v, err, _ := t.refreshes.Do(stale.AccessToken, func() (any, error) {
		// Another request may already have refreshed.
		if cur, ok := t.current().(domain.OAuth2Auth); ok && cur.AccessToken != stale.AccessToken {
			return cur, nil
		}

		tokens, err := t.refresher.RefreshConnectionToken(ctx, stale)
		if err != nil {
			return nil, err
		}

		next := stale
		next.AccessToken = tokens.AccessToken
		if tokens.RefreshToken != "" {
			next.RefreshToken = tokens.RefreshToken
		}
		if !tokens.ExpiresAt.IsZero() {
			exp := tokens.ExpiresAt
			next.ExpiresAt = &exp
		}

		t.mu.Lock()
		t.auth = next
		t.mu.Unlock()

		// The refreshed token is usable even if persisting it fails; the
		// callback reports its own errors.
		if t.onRefresh != nil {
			persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = t.onRefresh(persistCtx, next)
		}
		return next, nil
	})
	if err != nil {
		return domain.OAuth2Auth{}, err
	}
	return v.(domain.OAuth2Auth), nil
}

// Apply sets the credentials of auth on req.
func Apply(req *http.Request, auth domain.AuthConfig) error {
	switch a := auth.(type) {
	case nil, domain.NoAuth:
		return nil
	case domain.APIKeyAuth:
		if a.In == domain.APIKeyInQuery {
			q := req.URL.Query()
			q.Set(a.ParamName(), a.Key)
			req.URL.RawQuery = q.Encode()
			return nil
		}
		req.Header.Set(a.ParamName(), a.Key)
		return nil
	case domain.BearerAuth:
		req.Header.Set("Authorization", "Bearer "+a.Token)
		return nil
	case domain.OAuth2Auth:
		req.Header.Set("Authorization", "Bearer "+a.AccessToken)
		return nil
	case domain.BasicAuth:
		req.SetBasicAuth(a.Username, a.Password)
		return nil
	default:
		return fmt.Errorf("unsupported auth config %T", auth)
	}
}
