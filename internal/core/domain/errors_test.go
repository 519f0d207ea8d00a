package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrValidation", ErrValidation, "validation failed"},
		{"ErrRateLimitExceeded", ErrRateLimitExceeded, "rate limit exceeded"},
		{"ErrDecryption", ErrDecryption, "decryption failed"},
		{"ErrEncryptionKeyMissing", ErrEncryptionKeyMissing, "encryption key not configured"},
		{"ErrConnectionInactive", ErrConnectionInactive, "connection is inactive"},
		{"ErrUnauthorized", ErrUnauthorized, "unauthorized"},
		{"ErrTokenInvalid", ErrTokenInvalid, "token invalid"},
		{"ErrTokenExpired", ErrTokenExpired, "token expired"},
		{"ErrStateInUse", ErrStateInUse, "oauth2 state already in use"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrValidation,
		ErrRateLimitExceeded,
		ErrDecryption,
		ErrEncryptionKeyMissing,
		ErrConnectionInactive,
		ErrUnauthorized,
		ErrTokenInvalid,
		ErrTokenExpired,
		ErrStateInUse,
		ErrInvalidState,
		ErrAuthorizationExpired,
		ErrNoRefreshToken,
		ErrAccessDenied,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("create connection: %w", NewValidationError("name", "is required"))
	if !errors.Is(wrapped, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	var ve *ValidationError
	if !errors.As(wrapped, &ve) || ve.Field != "name" {
		t.Errorf("expected ValidationError for name, got %v", ve)
	}
	if wrapped.Error() != "create connection: name is required" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}

	rl := &RateLimitError{ConnectionID: "c1", Window: time.Second, Limit: 10}
	if !errors.Is(rl, ErrRateLimitExceeded) {
		t.Error("RateLimitError should match ErrRateLimitExceeded")
	}
	if !strings.Contains(rl.Error(), "10 requests per 1s") {
		t.Errorf("unexpected message %q", rl.Error())
	}

	if !errors.Is(&DecryptionError{Reason: "tag mismatch"}, ErrDecryption) {
		t.Error("DecryptionError should match ErrDecryption")
	}

	cause := errors.New("dial tcp: connection refused")
	if !errors.Is(&TransportError{Err: cause}, cause) {
		t.Error("TransportError should unwrap to its cause")
	}
}

func TestOAuth2ErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("callback: %w", &OAuth2Error{Code: OAuth2CodeInvalidState, Description: "other text"})
	if !errors.Is(err, ErrInvalidState) {
		t.Error("expected match on invalid_state code")
	}
	if errors.Is(err, ErrAuthorizationExpired) {
		t.Error("different codes should not match")
	}
	if ErrAccessDenied.Error() != "access_denied" {
		t.Errorf("expected bare code without description, got %q", ErrAccessDenied.Error())
	}
}
