package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// SyncStatus handles GET /api/sync/status: per-entity pull cursors plus the
// outbox depth, so a terminal can surface "last synced" in its UI.
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := s.Store.DB().QueryContext(ctx, `
		SELECT entity_type, COALESCE(last_synced_at, ''), record_count, status, COALESCE(error, '')
		FROM sync_state ORDER BY entity_type
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	entities := []map[string]any{}
	for rows.Next() {
		var entityType, lastSyncedAt, status, errMsg string
		var count int
		if err := rows.Scan(&entityType, &lastSyncedAt, &count, &status, &errMsg); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		e := map[string]any{
			"entityType": entityType, "lastSyncedAt": lastSyncedAt,
			"recordCount": count, "status": status,
		}
		if errMsg != "" {
			e["error"] = errMsg
		}
		entities = append(entities, e)
	}

	stats, err := s.Queue.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "outbox stats failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"paired":   s.Cfg.IsPaired(),
		"entities": entities,
		"outbox":   stats,
	})
}

// TriggerPull handles POST /api/sync/pull: runs one pull cycle inline.
func (s *Server) TriggerPull(w http.ResponseWriter, r *http.Request) {
	if !s.Cloud.IsConfigured() {
		writeError(w, http.StatusConflict, "hub is not paired with the cloud")
		return
	}
	n := s.Pull.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "recordsPulled": n})
}

// TriggerPush handles POST /api/sync/push: drains one outbox batch inline.
func (s *Server) TriggerPush(w http.ResponseWriter, r *http.Request) {
	if !s.Cloud.IsConfigured() {
		writeError(w, http.StatusConflict, "hub is not paired with the cloud")
		return
	}
	n := s.Push.ProcessOutbox(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "itemsProcessed": n})
}

type retryReq struct {
	EntityType string `json:"entityType"`
}

// RetryDeadLetters handles POST /api/sync/retry-dead-letters: requeues dead
// letters (optionally for one entity type) with a fresh attempt budget.
func (s *Server) RetryDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req retryReq
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	n, err := s.Queue.RetryDeadLetters(r.Context(), req.EntityType)
	if err != nil {
		log.Error().Err(err).Msg("dead letter retry failed")
		writeError(w, http.StatusInternalServerError, "dead letter retry failed")
		return
	}

	log.Info().Int64("requeued", n).Str("entityType", req.EntityType).Msg("dead letters requeued")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "requeued": n})
}

// ResetSync handles POST /api/sync/reset: clears every pull cursor so the
// next cycle re-pulls the full catalog. Outbox rows are untouched.
func (s *Server) ResetSync(w http.ResponseWriter, r *http.Request) {
	if err := s.Pull.ResetCursors(r.Context()); err != nil {
		log.Error().Err(err).Msg("sync reset failed")
		writeError(w, http.StatusInternalServerError, "sync reset failed")
		return
	}

	log.Info().Msg("pull cursors reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
