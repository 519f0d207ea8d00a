package http

import (
	"context"
	"net/http"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string              `json:"version" example:"1.0.0"`
	Runtime *domain.RuntimeInfo `json:"runtime,omitempty"`
}

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the liveness status of the gateway
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks the database and, when configured, Redis
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", "postgres", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.redisPing != nil {
		if err := s.redisPing.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", "redis", "error", err)
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Includes the storage backends selected at startup
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{Version: s.version}
	if s.runtime != nil {
		info := s.runtime.Info()
		resp.Runtime = &info
	}
	writeJSON(w, http.StatusOK, resp)
}
