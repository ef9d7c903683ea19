package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/store"
)

var errRefundExceedsTotal = errors.New("refund exceeds sale total")

type refundReq struct {
	SaleID string  `json:"saleId"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// CreateRefund handles POST /api/refunds. Refunds push at sale priority; the
// cumulative refunded amount can never exceed the sale total.
func (s *Server) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SaleID == "" {
		writeError(w, http.StatusBadRequest, "saleId required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	ctx := r.Context()

	var total float64
	var status string
	err := s.Store.DB().QueryRowContext(ctx, `SELECT total, status FROM sales WHERE id = ?`, req.SaleID).Scan(&total, &status)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "sale not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	refundID := store.NewID()
	payload, _ := json.Marshal(map[string]any{
		"id":     refundID,
		"saleId": req.SaleID,
		"amount": req.Amount,
		"reason": req.Reason,
		"userId": auth.UserID(ctx),
	})

	// The cumulative cap is re-checked inside the transaction: two refunds
	// racing on the same sale must not both read the pre-write sum.
	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		var refunded float64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE sale_id = ?
		`, req.SaleID).Scan(&refunded); err != nil {
			return err
		}
		if refunded+req.Amount > total {
			return errRefundExceedsTotal
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refunds (id, sale_id, user_id, amount, reason)
			VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''))
		`, refundID, req.SaleID, auth.UserID(ctx), req.Amount, req.Reason); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "refund", refundID, "create", string(payload), outbox.PrioritySale)
	})
	if errors.Is(err, errRefundExceedsTotal) {
		writeError(w, http.StatusBadRequest, "refund exceeds sale total")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("refund failed")
		writeError(w, http.StatusInternalServerError, "refund failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": refundID})
}
