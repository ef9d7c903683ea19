package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/realtime"
	"github.com/relaypos/edgehub/internal/store"
)

var errDrawerAlreadyOpen = errors.New("terminal already has an open drawer")

type openDrawerReq struct {
	OpeningAmount float64 `json:"openingAmount"`
}

// OpenDrawer handles POST /api/cash-drawers/open. A terminal can have only
// one OPEN drawer at a time.
func (s *Server) OpenDrawer(w http.ResponseWriter, r *http.Request) {
	var req openDrawerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OpeningAmount < 0 {
		writeError(w, http.StatusBadRequest, "opening amount must not be negative")
		return
	}

	ctx := r.Context()
	terminalID := auth.TerminalID(ctx)

	drawerID := store.NewID()
	payload, _ := json.Marshal(map[string]any{
		"id":            drawerID,
		"terminalId":    terminalID,
		"userId":        auth.UserID(ctx),
		"openingAmount": req.OpeningAmount,
	})

	// Checked inside the transaction so two racing opens on one terminal
	// cannot both observe zero open drawers.
	err := s.Store.Tx(ctx, func(tx *sql.Tx) error {
		var open int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM cash_drawers WHERE terminal_id = ? AND status = 'OPEN'
		`, terminalID).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return errDrawerAlreadyOpen
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cash_drawers (id, terminal_id, user_id, opening_amount, status)
			VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, 'OPEN')
		`, drawerID, terminalID, auth.UserID(ctx), req.OpeningAmount); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "cash_drawer", drawerID, "create", string(payload), outbox.PriorityShift)
	})
	if errors.Is(err, errDrawerAlreadyOpen) {
		writeError(w, http.StatusBadRequest, "terminal already has an open drawer")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("drawer open failed")
		writeError(w, http.StatusInternalServerError, "drawer open failed")
		return
	}

	s.Hub.Broadcast("drawer:opened", map[string]any{"id": drawerID, "terminalId": terminalID}, realtime.Filter{})
	writeJSON(w, http.StatusCreated, map[string]any{"id": drawerID, "status": "OPEN"})
}

type closeDrawerReq struct {
	ClosingAmount float64 `json:"closingAmount"`
}

// CloseDrawer handles POST /api/cash-drawers/{id}/close. Closing a non-open
// drawer is a conflict.
func (s *Server) CloseDrawer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req closeDrawerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var status string
	var opening float64
	err := s.Store.DB().QueryRowContext(ctx, `
		SELECT status, opening_amount FROM cash_drawers WHERE id = ?
	`, id).Scan(&status, &opening)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "drawer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if status != "OPEN" {
		writeError(w, http.StatusBadRequest, "drawer is not open")
		return
	}

	// Expected = opening + cash sales + paid-ins - paid-outs and safe drops
	// recorded against this drawer.
	var txSum float64
	s.Store.DB().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN tx_type IN ('PAID_OUT', 'DROP') THEN -amount ELSE amount END), 0)
		FROM cash_drawer_transactions WHERE drawer_id = ?
	`, id).Scan(&txSum)
	expected := opening + txSum

	payload, _ := json.Marshal(map[string]any{
		"id":             id,
		"closingAmount":  req.ClosingAmount,
		"expectedAmount": expected,
		"userId":         auth.UserID(ctx),
	})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE cash_drawers
			SET status = 'CLOSED', closing_amount = ?, expected_amount = ?,
			    closed_at = datetime('now'), sync_status = 'PENDING'
			WHERE id = ?
		`, req.ClosingAmount, expected, id); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "cash_drawer", id, "update", string(payload), outbox.PriorityShift)
	})
	if err != nil {
		log.Error().Err(err).Str("drawerId", id).Msg("drawer close failed")
		writeError(w, http.StatusInternalServerError, "drawer close failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id": id, "status": "CLOSED",
		"closingAmount": req.ClosingAmount, "expectedAmount": expected,
		"variance": req.ClosingAmount - expected,
	})
}

type drawerTxReq struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// AddDrawerTransaction handles POST /api/cash-drawers/{id}/transactions:
// records a paid-in/paid-out/cash-sale movement against an open drawer.
func (s *Server) AddDrawerTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req drawerTxReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	valid := map[string]bool{"CASH_SALE": true, "PAID_IN": true, "PAID_OUT": true, "DROP": true}
	if !valid[req.Type] {
		writeError(w, http.StatusBadRequest, "unknown transaction type")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	var status string
	err := s.Store.DB().QueryRowContext(ctx, `SELECT status FROM cash_drawers WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "drawer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if status != "OPEN" {
		writeError(w, http.StatusBadRequest, "drawer is not open")
		return
	}

	txID := store.NewID()
	payload, _ := json.Marshal(map[string]any{
		"id":       txID,
		"drawerId": id,
		"type":     req.Type,
		"amount":   req.Amount,
		"reason":   req.Reason,
	})

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cash_drawer_transactions (id, drawer_id, tx_type, amount, reason)
			VALUES (?, ?, ?, ?, NULLIF(?, ''))
		`, txID, id, req.Type, req.Amount, req.Reason); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "cash_drawer_transaction", txID, "create", string(payload), outbox.PriorityShift)
	})
	if err != nil {
		log.Error().Err(err).Msg("drawer transaction failed")
		writeError(w, http.StatusInternalServerError, "drawer transaction failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": txID})
}
