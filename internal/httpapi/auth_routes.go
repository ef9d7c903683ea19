package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
)

type loginReq struct {
	PIN        string `json:"pin"`
	TerminalID string `json:"terminalId"`
}

// Login handles POST /api/auth/login: PIN verification with per-IP rate
// limiting.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.PIN) < 4 || len(req.PIN) > 10 {
		writeError(w, http.StatusBadRequest, "pin must be 4-10 characters")
		return
	}

	result, err := s.Auth.Login(r.Context(), req.PIN, req.TerminalID, clientIP(r))
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	case errors.Is(err, auth.ErrInvalidPIN):
		writeError(w, http.StatusUnauthorized, "invalid pin")
		return
	case err != nil:
		log.Error().Err(err).Msg("login failed")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// clientIP strips the ephemeral port from RemoteAddr so rate-limit buckets
// key on the host alone; a reconnecting client must not get a fresh bucket.
// RealIP middleware may have already replaced RemoteAddr with a bare IP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Logout handles POST /api/auth/logout: invalidates the current session.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("x-session-id")
	if err := s.Auth.Logout(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Msg("logout failed")
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type adminTokenReq struct {
	Secret string `json:"secret"`
}

// AdminToken handles POST /api/auth/admin-token: exchanges the hub secret
// for a short-lived bearer token used by the sync-control routes.
func (s *Server) AdminToken(w http.ResponseWriter, r *http.Request) {
	var req adminTokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	secret := s.Cfg.Snapshot().HubSecret
	if secret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	tok, err := auth.MintAdminToken(secret, 12*time.Hour)
	if err != nil {
		log.Error().Err(err).Msg("failed to mint admin token")
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}
