package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/cloud"
	"github.com/relaypos/edgehub/internal/config"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/realtime"
	"github.com/relaypos/edgehub/internal/store"
)

// Pusher is the slice of the push engine the routes control.
type Pusher interface {
	ProcessOutbox(ctx context.Context) int
}

// Puller is the slice of the pull engine the routes control.
type Puller interface {
	RunCycle(ctx context.Context) int
	ResetCursors(ctx context.Context) error
}

// Server holds dependencies for HTTP handlers. The engines are values owned
// here and passed in by main; there are no package globals.
type Server struct {
	Store *store.Store
	Cfg   *config.Config
	Cloud *cloud.Client
	Queue *outbox.Queue
	Auth  *auth.Authenticator
	Hub   *realtime.Hub
	Push  Pusher
	Pull  Puller
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a {error} JSON body.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
