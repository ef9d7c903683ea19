package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/store"
)

// Reference reads serve the locally mirrored catalog. They never reach the
// cloud; the pull engine keeps these tables fresh.

// ListProducts handles GET /api/products?categoryId=...
func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, COALESCE(category_id, ''), name, COALESCE(sku, ''),
		       price, tax_rate, is_pizza, is_active, COALESCE(tags, '')
		FROM products WHERE is_active = 1`
	args := []any{}
	if cat := r.URL.Query().Get("categoryId"); cat != "" {
		query += ` AND category_id = ?`
		args = append(args, cat)
	}
	query += ` ORDER BY name`

	rows, err := s.Store.DB().QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, categoryID, name, sku, tags string
		var price, taxRate float64
		var isPizza, active int
		if err := rows.Scan(&id, &categoryID, &name, &sku, &price, &taxRate, &isPizza, &active, &tags); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "categoryId": categoryID, "name": name, "sku": sku,
			"price": price, "taxRate": taxRate, "isPizza": isPizza == 1,
			"isActive": active == 1, "tags": tags,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListCategories handles GET /api/categories.
func (s *Server) ListCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.DB().QueryContext(r.Context(), `
		SELECT id, name, COALESCE(sort_order, 0), is_active
		FROM categories WHERE is_active = 1 ORDER BY sort_order, name
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, name string
		var sortOrder, active int
		if err := rows.Scan(&id, &name, &sortOrder, &active); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "name": name, "sortOrder": sortOrder, "isActive": active == 1,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListDeals handles GET /api/deals: active deals with their line items.
func (s *Server) ListDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := s.Store.DB().QueryContext(ctx, `
		SELECT id, name, COALESCE(deal_type, ''), price, is_active
		FROM deals WHERE is_active = 1 ORDER BY name
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, name, dealType string
		var price float64
		var active int
		if err := rows.Scan(&id, &name, &dealType, &price, &active); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "name": name, "dealType": dealType, "price": price,
			"isActive": active == 1, "items": s.dealItems(ctx, id),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) dealItems(ctx context.Context, dealID string) []map[string]any {
	items := []map[string]any{}
	rows, err := s.Store.DB().QueryContext(ctx, `
		SELECT id, COALESCE(product_id, ''), COALESCE(category_id, ''), quantity
		FROM deal_items WHERE deal_id = ?
	`, dealID)
	if err != nil {
		log.Error().Err(err).Str("dealId", dealID).Msg("deal items query failed")
		return items
	}
	defer rows.Close()
	for rows.Next() {
		var id, productID, categoryID string
		var qty float64
		if err := rows.Scan(&id, &productID, &categoryID, &qty); err != nil {
			continue
		}
		items = append(items, map[string]any{
			"id": id, "productId": productID, "categoryId": categoryID, "quantity": qty,
		})
	}
	return items
}

// ListCustomers handles GET /api/customers?q=... with a simple name/phone
// prefix search.
func (s *Server) ListCustomers(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, '')
		FROM customers`
	args := []any{}
	if q := r.URL.Query().Get("q"); q != "" {
		query += ` WHERE name LIKE ? OR phone LIKE ?`
		args = append(args, q+"%", q+"%")
	}
	query += ` ORDER BY name LIMIT 100`

	rows, err := s.Store.DB().QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, name, phone, email, address string
		if err := rows.Scan(&id, &name, &phone, &email, &address); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "name": name, "phone": phone, "email": email, "address": address,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTerminals handles GET /api/terminals.
func (s *Server) ListTerminals(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.DB().QueryContext(r.Context(), `
		SELECT id, name, COALESCE(role, 'pos'), status, COALESCE(last_seen_at, '')
		FROM terminals ORDER BY name
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, name, role, status, lastSeen string
		if err := rows.Scan(&id, &name, &role, &status, &lastSeen); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		out = append(out, map[string]any{
			"id": id, "name": name, "role": role, "status": status, "lastSeenAt": lastSeen,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type registerTerminalReq struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// RegisterTerminal handles POST /api/terminals/register. Re-registering an
// existing terminal updates its name/role and marks it online.
func (s *Server) RegisterTerminal(w http.ResponseWriter, r *http.Request) {
	var req registerTerminalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.Role == "" {
		req.Role = "pos"
	}
	if req.ID == "" {
		req.ID = store.NewID()
	}

	err := s.Store.Tx(r.Context(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO terminals (id, name, role, status, last_seen_at)
			VALUES (?, ?, ?, 'ONLINE', datetime('now'))
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, role = excluded.role,
				status = 'ONLINE', last_seen_at = excluded.last_seen_at
		`, req.ID, req.Name, req.Role)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("terminal register failed")
		writeError(w, http.StatusInternalServerError, "terminal register failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "name": req.Name, "role": req.Role})
}
