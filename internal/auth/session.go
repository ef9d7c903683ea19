package auth

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/store"
)

type ctxKey string

const (
	ctxUserID     ctxKey = "userId"
	ctxTerminalID ctxKey = "terminalId"
)

// SessionRequired validates the x-session-id header against an active
// session row and puts the user and terminal ids on the request context.
// Public routes are mounted outside this middleware.
func SessionRequired(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("x-session-id")
			if sessionID == "" {
				http.Error(w, `{"error":"session required"}`, http.StatusUnauthorized)
				return
			}

			var userID string
			var terminalID sql.NullString
			err := s.DB().QueryRowContext(r.Context(), `
				SELECT user_id, terminal_id FROM sessions
				WHERE session_id = ? AND is_active = 1
			`, sessionID).Scan(&userID, &terminalID)
			if err == sql.ErrNoRows {
				http.Error(w, `{"error":"invalid session"}`, http.StatusUnauthorized)
				return
			}
			if err != nil {
				log.Error().Err(err).Msg("session lookup failed")
				http.Error(w, `{"error":"server error"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			if terminalID.Valid {
				ctx = context.WithValue(ctx, ctxTerminalID, terminalID.String)
			} else if hdr := r.Header.Get("x-terminal-id"); hdr != "" {
				ctx = context.WithValue(ctx, ctxTerminalID, hdr)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated user id from context, empty if absent.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// TerminalID returns the session's terminal id from context, empty if the
// session is not bound to a terminal.
func TerminalID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTerminalID).(string); ok {
		return v
	}
	return ""
}
