package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/store"
)

// ClockIn handles POST /api/shifts/clock-in. One open shift per user.
func (s *Server) ClockIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	var open int
	if err := s.Store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shift_logs WHERE user_id = ? AND clock_out_at IS NULL
	`, userID).Scan(&open); err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if open > 0 {
		writeError(w, http.StatusBadRequest, "user already has an open shift")
		return
	}

	shiftID := store.NewID()
	payload, _ := json.Marshal(map[string]any{
		"id":         shiftID,
		"userId":     userID,
		"terminalId": auth.TerminalID(ctx),
	})

	err := s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shift_logs (id, user_id, terminal_id)
			VALUES (?, ?, NULLIF(?, ''))
		`, shiftID, userID, auth.TerminalID(ctx)); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "shift_log", shiftID, "create", string(payload), outbox.PriorityShift)
	})
	if err != nil {
		log.Error().Err(err).Msg("clock-in failed")
		writeError(w, http.StatusInternalServerError, "clock-in failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": shiftID})
}

// ClockOut handles POST /api/shifts/{id}/clock-out. Open breaks end with the
// shift.
func (s *Server) ClockOut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var clockOut sql.NullString
	err := s.Store.DB().QueryRowContext(ctx, `SELECT clock_out_at FROM shift_logs WHERE id = ?`, id).Scan(&clockOut)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "shift not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if clockOut.Valid {
		writeError(w, http.StatusBadRequest, "shift is already closed")
		return
	}

	payload, _ := json.Marshal(map[string]any{"id": id, "action": "clock_out"})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE shift_logs SET clock_out_at = datetime('now'), sync_status = 'PENDING' WHERE id = ?
		`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE shift_breaks SET ended_at = datetime('now') WHERE shift_id = ? AND ended_at IS NULL
		`, id); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "shift_log", id, "update", string(payload), outbox.PriorityShift)
	})
	if err != nil {
		log.Error().Err(err).Msg("clock-out failed")
		writeError(w, http.StatusInternalServerError, "clock-out failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "success": true})
}

// StartBreak handles POST /api/shifts/{id}/breaks.
func (s *Server) StartBreak(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var clockOut sql.NullString
	err := s.Store.DB().QueryRowContext(ctx, `SELECT clock_out_at FROM shift_logs WHERE id = ?`, id).Scan(&clockOut)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "shift not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if clockOut.Valid {
		writeError(w, http.StatusBadRequest, "shift is closed")
		return
	}

	var openBreaks int
	s.Store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shift_breaks WHERE shift_id = ? AND ended_at IS NULL
	`, id).Scan(&openBreaks)
	if openBreaks > 0 {
		writeError(w, http.StatusBadRequest, "break already in progress")
		return
	}

	breakID := store.NewID()
	payload, _ := json.Marshal(map[string]any{"id": breakID, "shiftId": id})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shift_breaks (id, shift_id) VALUES (?, ?)
		`, breakID, id); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "shift_break", breakID, "create", string(payload), outbox.PriorityShift)
	})
	if err != nil {
		log.Error().Err(err).Msg("break start failed")
		writeError(w, http.StatusInternalServerError, "break start failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": breakID})
}

// EndBreak handles POST /api/shifts/{id}/breaks/end: closes the shift's open
// break.
func (s *Server) EndBreak(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var breakID string
	err := s.Store.DB().QueryRowContext(ctx, `
		SELECT id FROM shift_breaks WHERE shift_id = ? AND ended_at IS NULL
	`, id).Scan(&breakID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusBadRequest, "no break in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	payload, _ := json.Marshal(map[string]any{"id": breakID, "shiftId": id, "action": "end"})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE shift_breaks SET ended_at = datetime('now'), sync_status = 'PENDING' WHERE id = ?
		`, breakID); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "shift_break", breakID, "update", string(payload), outbox.PriorityShift)
	})
	if err != nil {
		log.Error().Err(err).Msg("break end failed")
		writeError(w, http.StatusInternalServerError, "break end failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": breakID, "success": true})
}
