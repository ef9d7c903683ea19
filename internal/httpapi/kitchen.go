package httpapi

import (
	"context"
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

// bumpNext encodes the kitchen order lifecycle. A bump past COMPLETED is a
// no-op reported as success=false.
var bumpNext = map[string]string{
	"PENDING":   "PREPARING",
	"PREPARING": "READY",
	"READY":     "COMPLETED",
}

type kitchenItemReq struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Modifiers any     `json:"modifiers"`
	Notes     string  `json:"notes"`
}

type kitchenOrderReq struct {
	SaleID    string           `json:"saleId"`
	TableID   string           `json:"tableId"`
	OrderType string           `json:"orderType"`
	Notes     string           `json:"notes"`
	Items     []kitchenItemReq `json:"items"`
}

// CreateKitchenOrder handles POST /api/kitchen-orders. Broadcasts
// order:created to kitchen displays after commit.
func (s *Server) CreateKitchenOrder(w http.ResponseWriter, r *http.Request) {
	var req kitchenOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "kitchen order requires at least one item")
		return
	}
	if req.OrderType == "" {
		req.OrderType = "WALK_IN"
	}

	ctx := r.Context()
	orderID := store.NewID()

	payload := map[string]any{
		"id":        orderID,
		"saleId":    req.SaleID,
		"tableId":   req.TableID,
		"orderType": req.OrderType,
		"notes":     req.Notes,
		"items":     req.Items,
		"userId":    auth.UserID(ctx),
	}
	payloadJSON, _ := json.Marshal(payload)

	err := s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kitchen_orders (id, sale_id, table_id, order_type, status, notes)
			VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, 'PENDING', NULLIF(?, ''))
		`, orderID, req.SaleID, req.TableID, req.OrderType, req.Notes); err != nil {
			return err
		}

		for _, item := range req.Items {
			mods, _ := json.Marshal(item.Modifiers)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO kitchen_order_items (id, kitchen_order_id, product_id, name, quantity, modifiers, notes)
				VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''))
			`, store.NewID(), orderID, item.ProductID, item.Name, item.Quantity, string(mods), item.Notes); err != nil {
				return err
			}
		}

		return outbox.Enqueue(tx, "kitchen_order", orderID, "create", string(payloadJSON), outbox.PriorityDefault)
	})
	if err != nil {
		log.Error().Err(err).Msg("kitchen order create failed")
		writeError(w, http.StatusInternalServerError, "kitchen order create failed")
		return
	}

	// After commit only: a rolled-back order must never reach a display.
	s.Hub.Broadcast("order:created", payload, realtime.Filter{Role: "kds"})

	writeJSON(w, http.StatusCreated, map[string]any{"id": orderID, "status": "PENDING"})
}

// ListKitchenOrders handles GET /api/kitchen-orders?status=...
func (s *Server) ListKitchenOrders(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, COALESCE(sale_id, ''), COALESCE(table_id, ''), order_type, status,
		       COALESCE(fired_at, ''), COALESCE(completed_at, ''), created_at
		FROM kitchen_orders`
	args := []any{}
	if st := r.URL.Query().Get("status"); st != "" {
		query += ` WHERE status = ?`
		args = append(args, st)
	}
	query += ` ORDER BY created_at ASC LIMIT 200`

	rows, err := s.Store.DB().QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, saleID, tableID, orderType, status, firedAt, completedAt, createdAt string
		if err := rows.Scan(&id, &saleID, &tableID, &orderType, &status, &firedAt, &completedAt, &createdAt); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "saleId": saleID, "tableId": tableID, "orderType": orderType,
			"status": status, "firedAt": firedAt, "completedAt": completedAt, "createdAt": createdAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// BumpKitchenOrder handles POST /api/kitchen-orders/{id}/bump: advances the
// order one step through its lifecycle.
func (s *Server) BumpKitchenOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var status string
	err := s.Store.DB().QueryRowContext(ctx, `SELECT status FROM kitchen_orders WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "kitchen order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	next, ok := bumpNext[status]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "status": status})
		return
	}

	if err := s.transitionOrder(ctx, id, next); err != nil {
		log.Error().Err(err).Str("orderId", id).Msg("bump failed")
		writeError(w, http.StatusInternalServerError, "bump failed")
		return
	}

	s.Hub.Broadcast("order:status", map[string]any{"id": id, "status": next}, realtime.Filter{})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "status": next})
}

type statusReq struct {
	Status string `json:"status"`
}

// SetKitchenOrderStatus handles POST /api/kitchen-orders/{id}/status: sets an
// explicit lifecycle status (e.g. a recall back to PREPARING).
func (s *Server) SetKitchenOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status required")
		return
	}
	valid := map[string]bool{"PENDING": true, "PREPARING": true, "READY": true, "COMPLETED": true, "CANCELLED": true}
	if !valid[req.Status] {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	var current string
	err := s.Store.DB().QueryRowContext(ctx, `SELECT status FROM kitchen_orders WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "kitchen order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	if err := s.transitionOrder(ctx, id, req.Status); err != nil {
		log.Error().Err(err).Str("orderId", id).Msg("status change failed")
		writeError(w, http.StatusInternalServerError, "status change failed")
		return
	}

	s.Hub.Broadcast("order:status", map[string]any{"id": id, "status": req.Status}, realtime.Filter{})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "status": req.Status})
}

// transitionOrder writes the status change and its outbox row atomically.
// fired_at is stamped entering PREPARING, completed_at entering COMPLETED.
func (s *Server) transitionOrder(ctx context.Context, id, next string) error {
	payload, _ := json.Marshal(map[string]any{"id": id, "status": next})

	return s.Store.Tx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE kitchen_orders SET status = ?, sync_status = 'PENDING'`
		switch next {
		case "PREPARING":
			query += `, fired_at = datetime('now')`
		case "COMPLETED":
			query += `, completed_at = datetime('now')`
		}
		query += ` WHERE id = ?`

		if _, err := tx.ExecContext(ctx, query, next, id); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "kitchen_order", id, "update", string(payload), outbox.PriorityDefault)
	})
}
