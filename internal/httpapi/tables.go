package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/realtime"
	"github.com/relaypos/edgehub/internal/store"
)

// ListTables handles GET /api/tables with floor grouping data.
func (s *Server) ListTables(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.DB().QueryContext(r.Context(), `
		SELECT t.id, COALESCE(t.floor_id, ''), COALESCE(t.name, ''), t.seats, t.status,
		       COALESCE(f.name, '')
		FROM dining_tables t
		LEFT JOIN floors f ON f.id = t.floor_id
		ORDER BY f.sort_order, t.name
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, floorID, name, status, floorName string
		var seats int
		if err := rows.Scan(&id, &floorID, &name, &seats, &status, &floorName); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "floorId": floorID, "name": name, "seats": seats,
			"status": status, "floorName": floorName,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type tableSessionReq struct {
	Guests int `json:"guests"`
}

// OpenTableSession handles POST /api/tables/{id}/session: seats a party.
func (s *Server) OpenTableSession(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "id")
	ctx := r.Context()

	var req tableSessionReq
	json.NewDecoder(r.Body).Decode(&req)

	var status string
	err := s.Store.DB().QueryRowContext(ctx, `SELECT status FROM dining_tables WHERE id = ?`, tableID).Scan(&status)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "table not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if status == "OCCUPIED" {
		writeError(w, http.StatusBadRequest, "table is already occupied")
		return
	}

	sessionID := store.NewID()
	payload, _ := json.Marshal(map[string]any{
		"id":      sessionID,
		"tableId": tableID,
		"guests":  req.Guests,
		"userId":  auth.UserID(ctx),
	})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO table_sessions (id, table_id, user_id, guests, status)
			VALUES (?, ?, NULLIF(?, ''), ?, 'OPEN')
		`, sessionID, tableID, auth.UserID(ctx), req.Guests); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE dining_tables SET status = 'OCCUPIED' WHERE id = ?
		`, tableID); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "table_session", sessionID, "create", string(payload), outbox.PriorityDefault)
	})
	if err != nil {
		log.Error().Err(err).Msg("table session open failed")
		writeError(w, http.StatusInternalServerError, "table session open failed")
		return
	}

	s.Hub.Broadcast("table:updated", map[string]any{"id": tableID, "status": "OCCUPIED"}, realtime.Filter{})
	writeJSON(w, http.StatusCreated, map[string]any{"id": sessionID, "tableId": tableID})
}

// CloseTableSession handles POST /api/tables/{id}/close: frees the table.
func (s *Server) CloseTableSession(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "id")
	ctx := r.Context()

	var sessionID string
	err := s.Store.DB().QueryRowContext(ctx, `
		SELECT id FROM table_sessions WHERE table_id = ? AND status = 'OPEN'
	`, tableID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusBadRequest, "table has no open session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	payload, _ := json.Marshal(map[string]any{"id": sessionID, "tableId": tableID, "action": "close"})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE table_sessions SET status = 'CLOSED', closed_at = datetime('now'), sync_status = 'PENDING'
			WHERE id = ?
		`, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE dining_tables SET status = 'AVAILABLE' WHERE id = ?
		`, tableID); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "table_session", sessionID, "update", string(payload), outbox.PriorityDefault)
	})
	if err != nil {
		log.Error().Err(err).Msg("table session close failed")
		writeError(w, http.StatusInternalServerError, "table session close failed")
		return
	}

	s.Hub.Broadcast("table:updated", map[string]any{"id": tableID, "status": "AVAILABLE"}, realtime.Filter{})
	writeJSON(w, http.StatusOK, map[string]any{"id": sessionID, "success": true})
}
