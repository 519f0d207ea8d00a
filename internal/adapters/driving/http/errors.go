package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"connection not found"`
}

// OAuth2ErrorResponse mirrors the OAuth2 error object
// @Description OAuth2 flow error
type OAuth2ErrorResponse struct {
	Error            string `json:"error" example:"invalid_state"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a service error onto a status code. Messages never
// include credential material: only validation reasons and fixed strings.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var oauthErr *domain.OAuth2Error
	var validationErr *domain.ValidationError
	var rateErr *domain.RateLimitError

	switch {
	case errors.As(err, &oauthErr):
		status := http.StatusBadRequest
		switch oauthErr.Code {
		case domain.OAuth2CodeExchangeFailed, domain.OAuth2CodeRefreshFailed, domain.OAuth2CodeProviderError:
			status = http.StatusBadGateway
		}
		writeJSON(w, status, OAuth2ErrorResponse{Error: oauthErr.Code, ErrorDescription: oauthErr.Description})
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &rateErr):
		retry := int(math.Ceil(rateErr.Window.Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrConnectionInactive):
		writeError(w, http.StatusConflict, "connection is inactive")
	case errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, domain.ErrEncryptionKeyMissing):
		logger.Error("credential encryption key is not configured")
		writeError(w, http.StatusServiceUnavailable, "credential encryption is not configured")
	case errors.Is(err, domain.ErrDecryption):
		logger.Error("stored credentials could not be decrypted", "error", err)
		writeError(w, http.StatusInternalServerError, "stored credentials could not be decrypted")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
