package http

import (
	"net/http"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driving"
)

// ProviderResponse is a secret-free view of a registered provider
// @Description OAuth2 provider
type ProviderResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name" example:"google"`
	AuthURL     string   `json:"authUrl"`
	TokenURL    string   `json:"tokenUrl"`
	ClientID    string   `json:"clientId"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirectUri"`
	IsActive    bool     `json:"isActive"`
}

func toProviderResponse(p *domain.OAuth2Provider) ProviderResponse {
	return ProviderResponse{
		ID:          p.ID,
		Name:        p.Name,
		AuthURL:     p.AuthURL,
		TokenURL:    p.TokenURL,
		ClientID:    p.ClientID,
		Scopes:      p.Scopes,
		RedirectURI: p.RedirectURI,
		IsActive:    p.IsActive,
	}
}

// AccessTokenResponse carries a usable access token
// @Description Valid access token for an OAuth2 connection
type AccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType" example:"Bearer"`
}

// handleListProviders godoc
// @Summary      List OAuth2 providers
// @Tags         OAuth2
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   ProviderResponse
// @Router       /oauth2/providers [get]
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	providers, err := s.oauthService.ListProviders(r.Context(), p.TenantID)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	out := make([]ProviderResponse, 0, len(providers))
	for _, provider := range providers {
		out = append(out, toProviderResponse(provider))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRegisterProvider godoc
// @Summary      Register OAuth2 provider
// @Description  The client secret is encrypted before storage and never returned
// @Tags         OAuth2
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.RegisterProviderRequest  true  "Provider"
// @Success      201      {object}  ProviderResponse
// @Failure      400      {object}  ErrorResponse
// @Router       /oauth2/providers [post]
func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req driving.RegisterProviderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := GetPrincipal(r.Context())
	provider, err := s.oauthService.RegisterProvider(r.Context(), p.TenantID, req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProviderResponse(provider))
}

// handleAuthorize godoc
// @Summary      Start OAuth2 authorization
// @Tags         OAuth2
// @Produce      json
// @Security     BearerAuth
// @Accept       json
// @Param        id       path      string                    true   "Provider ID"
// @Param        request  body      driving.AuthorizeRequest  false  "Optional caller-chosen state"
// @Success      200  {object}  driving.AuthorizeResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /oauth2/providers/{id}/authorize [post]
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	var req driving.AuthorizeRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.oauthService.GenerateAuthURL(r.Context(), p.TenantID, r.PathValue("id"), p.UserID, req.State)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCallback godoc
// @Summary      OAuth2 callback
// @Description  Provider redirect target. The state identifies tenant, user and provider.
// @Tags         OAuth2
// @Produce      json
// @Param        code               query     string  false  "Authorization code"
// @Param        state              query     string  true   "State"
// @Param        error              query     string  false  "Provider error"
// @Param        error_description  query     string  false  "Provider error description"
// @Success      200  {object}  domain.OAuth2ConnectionSummary
// @Failure      400  {object}  OAuth2ErrorResponse
// @Failure      502  {object}  OAuth2ErrorResponse
// @Router       /oauth2/callback [get]
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := driving.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if req.State == "" {
		writeServiceError(w, s.logger, domain.ErrInvalidState)
		return
	}

	conn, err := s.oauthService.HandleCallback(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// handleListOAuth2Connections godoc
// @Summary      List my OAuth2 connections
// @Tags         OAuth2
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  domain.OAuth2ConnectionSummary
// @Router       /oauth2/connections [get]
func (s *Server) handleListOAuth2Connections(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	conns, err := s.oauthService.GetUserConnections(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if conns == nil {
		conns = []*domain.OAuth2ConnectionSummary{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// handleRefreshOAuth2Connection godoc
// @Summary      Refresh OAuth2 tokens
// @Tags         OAuth2
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "OAuth2 connection ID"
// @Success      200  {object}  driving.RefreshResult
// @Failure      400  {object}  OAuth2ErrorResponse  "No refresh token"
// @Failure      502  {object}  OAuth2ErrorResponse  "Provider refused"
// @Router       /oauth2/connections/{id}/refresh [post]
func (s *Server) handleRefreshOAuth2Connection(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	res, err := s.oauthService.RefreshToken(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

// handleGetAccessToken godoc
// @Summary      Get a valid access token
// @Description  Refreshes first when the stored token has expired
// @Tags         OAuth2
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "OAuth2 connection ID"
// @Success      200  {object}  AccessTokenResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /oauth2/connections/{id}/token [get]
func (s *Server) handleGetAccessToken(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	token, err := s.oauthService.GetValidAccessToken(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, AccessTokenResponse{AccessToken: token, TokenType: "Bearer"})
}

// handleRevokeOAuth2Connection godoc
// @Summary      Revoke OAuth2 connection
// @Description  Revokes at the provider when supported, then deletes locally
// @Tags         OAuth2
// @Security     BearerAuth
// @Param        id   path  string  true  "OAuth2 connection ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /oauth2/connections/{id} [delete]
func (s *Server) handleRevokeOAuth2Connection(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if err := s.oauthService.RevokeConnection(r.Context(), p.TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
