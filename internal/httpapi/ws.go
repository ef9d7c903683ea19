package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// The upgrade happens on the store LAN; terminals connect by IP, so origin
// checks would only reject legitimate clients.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS handles GET /ws?sessionId=...&terminalId=... Session auth comes
// from the query string because browsers cannot set headers on a websocket
// upgrade.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.Header.Get("x-session-id")
	}
	if sessionID == "" {
		writeError(w, http.StatusUnauthorized, "session required")
		return
	}

	var active int
	if err := s.Store.DB().QueryRowContext(r.Context(), `
		SELECT COUNT(*) FROM sessions WHERE session_id = ? AND is_active = 1
	`, sessionID).Scan(&active); err != nil || active == 0 {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}

	terminalID := r.URL.Query().Get("terminalId")
	role := "pos"
	if terminalID != "" {
		s.Store.DB().QueryRowContext(r.Context(), `
			SELECT COALESCE(role, 'pos') FROM terminals WHERE id = ?
		`, terminalID).Scan(&role)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := s.Hub.Register(conn, terminalID, role)
	log.Info().Str("clientId", clientID).Str("terminalId", terminalID).Str("role", role).Msg("websocket client connected")
}
