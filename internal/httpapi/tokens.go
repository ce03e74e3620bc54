package httpapi

import (
	"net/http"
	"strings"

	"clinicd/internal/auth"
	"clinicd/pkg/types"
)

// handleToken godoc
//
//	@Summary	Issue tokens
//	@Description	Exchanges username and password for an access and a refresh token.
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.TokenRequest	true	"Credentials"
//	@Success	200		{object}	types.TokenResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	401		{object}	types.ErrorResponse
//	@Router		/api/v1/auth/token [post]
func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req types.TokenRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeJSONError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}
	u, err := s.opts.Issuer.Authenticate(req.Username, req.Password)
	if err != nil {
		loggerFrom(r).Info().Str("username", req.Username).Msg("login rejected")
		s.writeAuthError(w, r, err)
		return
	}
	s.writePair(w, r, u, func() (auth.Pair, error) { return s.opts.Issuer.Issue(u) })
}

// handleRefresh godoc
//
//	@Summary	Refresh tokens
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.RefreshRequest	true	"Refresh token"
//	@Success	200		{object}	types.TokenResponse
//	@Failure	401		{object}	types.ErrorResponse
//	@Router		/api/v1/auth/refresh [post]
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req types.RefreshRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeJSONError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	s.writePair(w, r, auth.User{}, func() (auth.Pair, error) { return s.opts.Issuer.Refresh(req.RefreshToken) })
}

func (s *server) writePair(w http.ResponseWriter, r *http.Request, u auth.User, issue func() (auth.Pair, error)) {
	pair, err := issue()
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if u.Username != "" {
		loggerFrom(r).Info().Str("username", u.Username).Str("tier", string(u.Tier)).Msg("tokens issued")
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, http.StatusOK, types.TokenResponse{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}

func (s *server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	} else {
		loggerFrom(r).Error().Err(err).Msg("token issue failed")
	}
	writeJSONError(w, r, status, msg)
}
