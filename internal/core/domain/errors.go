package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found or belongs
	// to another tenant
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the input is invalid
	ErrValidation = errors.New("validation failed")

	// ErrRateLimitExceeded indicates the connection's rate limit rejected the request
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrDecryption indicates a credential envelope could not be opened
	ErrDecryption = errors.New("decryption failed")

	// ErrEncryptionKeyMissing indicates no encryption key is configured
	ErrEncryptionKeyMissing = errors.New("encryption key not configured")

	// ErrConnectionInactive indicates the connection is disabled
	ErrConnectionInactive = errors.New("connection is inactive")

	// ErrUnauthorized indicates the caller identity is missing or invalid
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid indicates an identity token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired indicates an identity token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrStateInUse indicates a pending authorization already uses the state
	ErrStateInUse = errors.New("oauth2 state already in use")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError describes which window rejected a request.
type RateLimitError struct {
	ConnectionID string
	Window       time.Duration
	Limit        int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for connection %s: %d requests per %s", e.ConnectionID, e.Limit, e.Window)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// TransportError is a request failure with no HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamStatusError is a non-2xx response from the external API.
type UpstreamStatusError struct {
	StatusCode int
	Body       []byte
	Header     map[string][]string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// DecryptionError wraps a failure to open a credential envelope.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return ErrDecryption }

// OAuth2 error codes
const (
	OAuth2CodeProviderError        = "provider_error"
	OAuth2CodeAccessDenied         = "access_denied"
	OAuth2CodeInvalidState         = "invalid_state"
	OAuth2CodeAuthorizationExpired = "authorization_expired"
	OAuth2CodeNoRefreshToken       = "no_refresh_token"
	OAuth2CodeExchangeFailed       = "exchange_failed"
	OAuth2CodeRefreshFailed        = "refresh_failed"
)

// OAuth2Error represents an OAuth2 flow failure.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuth2Error) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// Is matches OAuth2 errors by code so sentinel comparisons work with errors.Is.
func (e *OAuth2Error) Is(target error) bool {
	t, ok := target.(*OAuth2Error)
	return ok && t.Code == e.Code
}

// Common OAuth2 errors
var (
	ErrInvalidState         = &OAuth2Error{Code: OAuth2CodeInvalidState, Description: "The state parameter is invalid or already used"}
	ErrAuthorizationExpired = &OAuth2Error{Code: OAuth2CodeAuthorizationExpired, Description: "The authorization request has expired"}
	ErrNoRefreshToken       = &OAuth2Error{Code: OAuth2CodeNoRefreshToken, Description: "No refresh token is stored for this connection"}
	ErrAccessDenied         = &OAuth2Error{Code: OAuth2CodeAccessDenied}
)
