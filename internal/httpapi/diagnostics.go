package httpapi

import (
	"net/http"
	"time"
)

// Health handles GET /health. Unauthenticated; used by terminals probing for
// the hub on the LAN.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"paired": s.Cfg.IsPaired(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// diagTables are the row counts worth showing a support tech.
var diagTables = []string{
	"products", "categories", "users", "customers", "deals",
	"sales", "kitchen_orders", "refunds", "terminals",
}

// Diagnostics handles GET /api/diagnostics: a support snapshot of local
// state, queue health, and database size.
func (s *Server) Diagnostics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts := map[string]int{}
	for _, table := range diagTables {
		var n int
		if err := s.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err == nil {
			counts[table] = n
		}
	}

	stats, err := s.Queue.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "outbox stats failed")
		return
	}

	oldest, _ := s.Queue.OldestPendingAge(ctx)
	size, _ := s.Store.SizeBytes(ctx)

	writeJSON(w, http.StatusOK, map[string]any{
		"paired":            s.Cfg.IsPaired(),
		"cloudConfigured":   s.Cloud.IsConfigured(),
		"connectedClients":  s.Hub.Count(),
		"tableCounts":       counts,
		"outbox":            stats,
		"oldestPendingSecs": int(oldest.Seconds()),
		"databaseSizeBytes": size,
	})
}
