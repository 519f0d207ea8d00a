package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driving"
)

// maxRequestBody caps inbound JSON bodies.
const maxRequestBody = 1 << 20

// MakeRequestBody is the inbound shape of a proxied call
// @Description Request to send through a connection
type MakeRequestBody struct {
	Method    string            `json:"method" example:"GET"`
	Endpoint  string            `json:"endpoint" example:"/v1/customers"`
	Data      json.RawMessage   `json:"data,omitempty" swaggertype:"object"`
	Params    map[string]string `json:"params,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty" example:"30000"`
}

func (b MakeRequestBody) toSpec() domain.RequestSpec {
	spec := domain.RequestSpec{
		Method:   b.Method,
		Endpoint: b.Endpoint,
		Params:   b.Params,
		Headers:  b.Headers,
		Timeout:  time.Duration(b.TimeoutMs) * time.Millisecond,
	}
	if len(b.Data) > 0 {
		spec.Data = b.Data
	}
	return spec
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleListConnections godoc
// @Summary      List connections
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.ConnectionSummary
// @Failure      401  {object}  ErrorResponse
// @Router       /connections [get]
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	conns, err := s.connectionService.List(r.Context(), p.TenantID)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if conns == nil {
		conns = []*domain.ConnectionSummary{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// handleCreateConnection godoc
// @Summary      Create connection
// @Description  Registers an external API; credentials are encrypted before storage
// @Tags         Connections
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.CreateConnectionRequest  true  "Connection definition"
// @Success      201      {object}  domain.ConnectionSummary
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Router       /connections [post]
func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateConnectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := GetPrincipal(r.Context())
	conn, err := s.connectionService.Create(r.Context(), p.TenantID, req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// handleGetConnection godoc
// @Summary      Get connection
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Connection ID"
// @Success      200  {object}  domain.ConnectionSummary
// @Failure      404  {object}  ErrorResponse
// @Router       /connections/{id} [get]
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	conn, err := s.connectionService.Get(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// handleUpdateConnection godoc
// @Summary      Update connection
// @Tags         Connections
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                           true  "Connection ID"
// @Param        request  body      driving.UpdateConnectionRequest  true  "Fields to change"
// @Success      200      {object}  domain.ConnectionSummary
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /connections/{id} [put]
func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var req driving.UpdateConnectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := GetPrincipal(r.Context())
	conn, err := s.connectionService.Update(r.Context(), p.TenantID, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// handleDeleteConnection godoc
// @Summary      Delete connection
// @Tags         Connections
// @Security     BearerAuth
// @Param        id   path  string  true  "Connection ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /connections/{id} [delete]
func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if err := s.connectionService.Delete(r.Context(), p.TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMakeRequest godoc
// @Summary      Call the external API
// @Description  Sends a request through the connection with rate limiting, retries and credential injection.
// @Description  Upstream failures are reported in the body with success=false.
// @Tags         Connections
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string           true  "Connection ID"
// @Param        request  body      MakeRequestBody  true  "Request"
// @Success      200      {object}  domain.Response
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse  "Connection inactive"
// @Failure      429      {object}  ErrorResponse
// @Router       /connections/{id}/request [post]
func (s *Server) handleMakeRequest(w http.ResponseWriter, r *http.Request) {
	var body MakeRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	p := GetPrincipal(r.Context())
	resp, err := s.connectionService.MakeRequest(r.Context(), p.TenantID, r.PathValue("id"), body.toSpec())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTestConnection godoc
// @Summary      Test connection
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Connection ID"
// @Success      200  {object}  driving.TestConnectionResult
// @Failure      404  {object}  ErrorResponse
// @Router       /connections/{id}/test [post]
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	result, err := s.connectionService.TestConnection(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRateLimitStats godoc
// @Summary      Rate limit usage
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Connection ID"
// @Success      200  {object}  ratelimit.Stats
// @Failure      404  {object}  ErrorResponse
// @Router       /connections/{id}/stats [get]
func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	stats, err := s.connectionService.RateLimitStats(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListRequestLogs godoc
// @Summary      Request logs
// @Description  Most recent attempts for a connection, newest first
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "Connection ID"
// @Param        limit  query     int     false  "Max entries (default 50, max 500)"
// @Success      200    {array}   domain.RequestLog
// @Failure      404    {object}  ErrorResponse
// @Router       /connections/{id}/logs [get]
func (s *Server) handleListRequestLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	p := GetPrincipal(r.Context())
	logs, err := s.connectionService.ListRequestLogs(r.Context(), p.TenantID, r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if logs == nil {
		logs = []*domain.RequestLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
