package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/store"
)

type saleItemReq struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Modifiers any     `json:"modifiers"`
	Notes     string  `json:"notes"`
}

type paymentReq struct {
	Method    string  `json:"method"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference"`
}

type saleReq struct {
	CustomerID string        `json:"customerId"`
	OrderType  string        `json:"orderType"`
	Subtotal   float64       `json:"subtotal"`
	Discount   float64       `json:"discount"`
	Tax        float64       `json:"tax"`
	Total      float64       `json:"total"`
	Items      []saleItemReq `json:"items"`
	Payments   []paymentReq  `json:"payments"`
}

// CreateSale handles POST /api/sales. The sale, its items, its payments and
// the outbox row commit in one transaction; no business fact exists without
// its push record.
func (s *Server) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req saleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "sale requires at least one item")
		return
	}
	if req.Total <= 0 {
		writeError(w, http.StatusBadRequest, "total must be positive")
		return
	}
	if req.OrderType == "" {
		req.OrderType = "WALK_IN"
	}

	ctx := r.Context()
	saleID := store.NewID()

	receipt, err := s.Store.NextReceiptNumber(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to mint receipt number")
		writeError(w, http.StatusInternalServerError, "receipt sequence error")
		return
	}

	// The outbox payload forwards the inbound body verbatim plus the ids the
	// hub assigned; the cloud endpoint is the schema authority.
	payload := map[string]any{
		"id":            saleID,
		"receiptNumber": receipt,
		"customerId":    req.CustomerID,
		"orderType":     req.OrderType,
		"subtotal":      req.Subtotal,
		"discount":      req.Discount,
		"tax":           req.Tax,
		"total":         req.Total,
		"items":         req.Items,
		"payments":      req.Payments,
		"terminalId":    auth.TerminalID(ctx),
		"userId":        auth.UserID(ctx),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "payload error")
		return
	}

	err = s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (id, receipt_number, terminal_id, user_id, customer_id, order_type,
			                   subtotal, discount, tax, total, status)
			VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, 'COMPLETED')
		`, saleID, receipt, auth.TerminalID(ctx), auth.UserID(ctx), req.CustomerID, req.OrderType,
			req.Subtotal, req.Discount, req.Tax, req.Total); err != nil {
			return err
		}

		for _, item := range req.Items {
			mods, _ := json.Marshal(item.Modifiers)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (id, sale_id, product_id, name, quantity, unit_price, modifiers, notes)
				VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, NULLIF(?, ''))
			`, store.NewID(), saleID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, string(mods), item.Notes); err != nil {
				return err
			}
		}

		for _, p := range req.Payments {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO payments (id, sale_id, method, amount, reference)
				VALUES (?, ?, ?, ?, NULLIF(?, ''))
			`, store.NewID(), saleID, p.Method, p.Amount, p.Reference); err != nil {
				return err
			}
		}

		return outbox.Enqueue(tx, "sale", saleID, "create", string(payloadJSON), outbox.PrioritySale)
	})
	if err != nil {
		log.Error().Err(err).Msg("sale create failed")
		writeError(w, http.StatusInternalServerError, "sale create failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            saleID,
		"receiptNumber": receipt,
		"status":        "COMPLETED",
	})
}

// ListSales handles GET /api/sales (most recent first).
func (s *Server) ListSales(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.DB().QueryContext(r.Context(), `
		SELECT id, receipt_number, order_type, total, status, sync_status, created_at
		FROM sales ORDER BY created_at DESC LIMIT 200
	`)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sales")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, receipt, orderType, status, syncStatus, createdAt string
		var total float64
		if err := rows.Scan(&id, &receipt, &orderType, &total, &status, &syncStatus, &createdAt); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "receiptNumber": receipt, "orderType": orderType,
			"total": total, "status": status, "syncStatus": syncStatus, "createdAt": createdAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSale handles GET /api/sales/{id} including items and payments.
func (s *Server) GetSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var sale struct {
		Receipt    string
		OrderType  string
		Subtotal   float64
		Discount   float64
		Tax        float64
		Total      float64
		Status     string
		SyncStatus string
		CreatedAt  string
	}
	err := s.Store.DB().QueryRowContext(ctx, `
		SELECT receipt_number, order_type, subtotal, discount, tax, total, status, sync_status, created_at
		FROM sales WHERE id = ?
	`, id).Scan(&sale.Receipt, &sale.OrderType, &sale.Subtotal, &sale.Discount, &sale.Tax,
		&sale.Total, &sale.Status, &sale.SyncStatus, &sale.CreatedAt)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "sale not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	items := []map[string]any{}
	rows, err := s.Store.DB().QueryContext(ctx, `
		SELECT id, COALESCE(product_id, ''), COALESCE(name, ''), quantity, unit_price
		FROM sale_items WHERE sale_id = ?
	`, id)
	if err == nil {
		for rows.Next() {
			var itemID, productID, name string
			var qty, price float64
			if rows.Scan(&itemID, &productID, &name, &qty, &price) == nil {
				items = append(items, map[string]any{
					"id": itemID, "productId": productID, "name": name,
					"quantity": qty, "unitPrice": price,
				})
			}
		}
		rows.Close()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id": id, "receiptNumber": sale.Receipt, "orderType": sale.OrderType,
		"subtotal": sale.Subtotal, "discount": sale.Discount, "tax": sale.Tax,
		"total": sale.Total, "status": sale.Status, "syncStatus": sale.SyncStatus,
		"createdAt": sale.CreatedAt, "items": items,
	})
}

var errSaleAlreadyVoided = errors.New("sale is already voided")

type voidReq struct {
	Reason string `json:"reason"`
}

// VoidSale handles POST /api/sales/{id}/void. Voiding an already-voided sale
// is a conflict, reported as 400 with a descriptive message.
func (s *Server) VoidSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req voidReq
	json.NewDecoder(r.Body).Decode(&req)

	var exists int
	if err := s.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE id = ?`, id).Scan(&exists); err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if exists == 0 {
		writeError(w, http.StatusNotFound, "sale not found")
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"id":     id,
		"reason": req.Reason,
		"userId": auth.UserID(ctx),
	})

	// Guarded update: the status condition lives in the same statement as the
	// write so two racing voids cannot both pass a pre-read check.
	err := s.Store.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sales SET status = 'VOIDED', voided_at = datetime('now'), void_reason = NULLIF(?, ''),
			                 sync_status = 'PENDING'
			WHERE id = ? AND status != 'VOIDED'
		`, req.Reason, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errSaleAlreadyVoided
		}
		return outbox.Enqueue(tx, "sale", id, "void", string(payload), outbox.PrioritySale)
	})
	if errors.Is(err, errSaleAlreadyVoided) {
		writeError(w, http.StatusBadRequest, "sale is already voided")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("saleId", id).Msg("void failed")
		writeError(w, http.StatusInternalServerError, "void failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "VOIDED"})
}
