package pull

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaypos/edgehub/internal/cloud"
	"github.com/relaypos/edgehub/internal/config"
	"github.com/relaypos/edgehub/internal/store"
)

// fakeCloud serves /api/hub/sync/* from a per-endpoint response map and
// records the sinceVersion parameter and arrival order of every call.
type fakeCloud struct {
	responses map[string]any
	statuses  map[string]int
	since     map[string][]string
	order     []string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		responses: map[string]any{},
		statuses:  map[string]int{},
		since:     map[string][]string{},
	}
}

func (f *fakeCloud) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/api/hub/sync/")
		f.since[endpoint] = append(f.since[endpoint], r.URL.Query().Get("sinceVersion"))
		f.order = append(f.order, endpoint)

		if code, ok := f.statuses[endpoint]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := f.responses[endpoint]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}

func newTestPuller(t *testing.T, fc *fakeCloud) (*Engine, *store.Store) {
	t.Helper()

	ts := httptest.NewServer(fc.handler())
	t.Cleanup(ts.Close)

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.SetCredentials(ts.URL, "test-key", "tenant-1", "loc-1"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	return New(s, cloud.New(cfg), time.Minute), s
}

func count(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func syncState(t *testing.T, s *store.Store, entity string) (status string, lastSyncedAt string, records int) {
	t.Helper()
	var since *string
	err := s.DB().QueryRow(`
		SELECT status, last_synced_at, record_count FROM sync_state WHERE entity_type = ?
	`, entity).Scan(&status, &since, &records)
	if err != nil {
		t.Fatalf("sync state %s: %v", entity, err)
	}
	if since != nil {
		lastSyncedAt = *since
	}
	return status, lastSyncedAt, records
}

func TestRunCycleColdStart(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza", "sortOrder": 1, "isActive": true},
		map[string]any{"id": "c2", "name": "Drinks", "sortOrder": 2, "isActive": true},
	}}
	fc.responses["products"] = map[string]any{"items": []any{
		map[string]any{
			"id": "p1", "categoryId": "c1", "name": "Margherita",
			"price": 9.5, "taxRate": 0.08, "isPizza": true, "isActive": true,
			"orderTypePrices": []any{
				map[string]any{"id": "otp1", "orderType": "DELIVERY", "price": 11.0},
			},
			"pizzaProductConfig": map[string]any{
				"defaultSizeId": "s1", "defaultCrustId": "cr1", "maxToppings": 5,
			},
		},
	}}

	e, s := newTestPuller(t, fc)
	n := e.RunCycle(context.Background())
	if n != 3 {
		t.Fatalf("pulled %d rows, want 3", n)
	}

	if count(t, s, "categories") != 2 {
		t.Fatalf("categories = %d", count(t, s, "categories"))
	}
	if count(t, s, "products") != 1 {
		t.Fatalf("products = %d", count(t, s, "products"))
	}

	// Companions landed with the product.
	var otPrice float64
	if err := s.DB().QueryRow(`
		SELECT price FROM product_order_type_prices WHERE product_id = 'p1' AND order_type = 'DELIVERY'
	`).Scan(&otPrice); err != nil {
		t.Fatalf("order type price missing: %v", err)
	}
	if otPrice != 11.0 {
		t.Fatalf("order type price = %v", otPrice)
	}
	var maxToppings int
	if err := s.DB().QueryRow(`
		SELECT max_toppings FROM pizza_product_configs WHERE product_id = 'p1'
	`).Scan(&maxToppings); err != nil {
		t.Fatalf("pizza config missing: %v", err)
	}
	if maxToppings != 5 {
		t.Fatalf("max toppings = %d", maxToppings)
	}

	// A cold start sends no cursor.
	if got := fc.since["categories"][0]; got != "" {
		t.Fatalf("cold start sent sinceVersion %q", got)
	}

	status, since, records := syncState(t, s, "categories")
	if status != StateSuccess || since == "" || records != 2 {
		t.Fatalf("sync state = %s/%s/%d", status, since, records)
	}
}

func TestRunCycleSendsCursorOnSecondPass(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza", "sortOrder": 1, "isActive": true},
	}}

	e, _ := newTestPuller(t, fc)
	ctx := context.Background()

	before := time.Now().UTC()
	e.RunCycle(ctx)
	e.RunCycle(ctx)

	calls := fc.since["categories"]
	if len(calls) != 2 {
		t.Fatalf("categories fetched %d times", len(calls))
	}
	if calls[0] != "" {
		t.Fatalf("first call sent cursor %q", calls[0])
	}
	cursor, err := time.Parse(time.RFC3339, calls[1])
	if err != nil {
		t.Fatalf("second call cursor %q not RFC3339: %v", calls[1], err)
	}
	// The cursor is the previous cycle's fetch time, captured before the GET.
	if cursor.Before(before.Truncate(time.Second)) || cursor.After(time.Now()) {
		t.Fatalf("cursor %v outside cycle window", cursor)
	}
}

func TestRunCycleDependencyOrder(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza", "sortOrder": 1, "isActive": true},
	}}
	fc.responses["products"] = map[string]any{"items": []any{
		map[string]any{
			"id": "p1", "categoryId": "c1", "name": "Margherita",
			"price": 9.5, "taxRate": 0.08, "isPizza": false, "isActive": true,
		},
	}}
	fc.responses["product-variants"] = map[string]any{"items": []any{
		map[string]any{"id": "v1", "productId": "p1", "name": "Large", "price": 12.5, "sortOrder": 1, "isActive": true},
	}}

	e, s := newTestPuller(t, fc)
	e.RunCycle(context.Background())

	idx := func(endpoint string) int {
		t.Helper()
		for i, ep := range fc.order {
			if ep == endpoint {
				return i
			}
		}
		t.Fatalf("endpoint %s never fetched (order: %v)", endpoint, fc.order)
		return -1
	}

	// A referencing entity is never fetched before its referenced entity.
	if !(idx("categories") < idx("products") && idx("products") < idx("product-variants")) {
		t.Fatalf("fetch order violates dependencies: %v", fc.order)
	}

	var categoryID string
	s.DB().QueryRow(`SELECT category_id FROM products WHERE id = 'p1'`).Scan(&categoryID)
	if categoryID != "c1" {
		t.Fatalf("product references missing category: %q", categoryID)
	}
}

func TestRunCycleMarksSyncingDuringFetch(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	// The cloud handler runs while the engine waits on the GET, so the status
	// it observes is the mid-fetch one.
	var during string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/categories") {
			s.DB().QueryRow(`SELECT status FROM sync_state WHERE entity_type = 'categories'`).Scan(&during)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(ts.Close)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.SetCredentials(ts.URL, "test-key", "tenant-1", "loc-1"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	e := New(s, cloud.New(cfg), time.Minute)
	e.RunCycle(context.Background())

	if during != StateSyncing {
		t.Fatalf("mid-fetch status = %q, want %s", during, StateSyncing)
	}
	status, _, _ := syncState(t, s, "categories")
	if status != StateSuccess {
		t.Fatalf("final status = %s, want %s", status, StateSuccess)
	}
}

func TestRunCycleIdempotent(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza", "sortOrder": 1, "isActive": true},
	}}

	e, s := newTestPuller(t, fc)
	ctx := context.Background()
	e.RunCycle(ctx)
	e.RunCycle(ctx)

	if count(t, s, "categories") != 1 {
		t.Fatalf("re-pull duplicated rows: %d", count(t, s, "categories"))
	}
}

func TestRunCycleUpsertUpdatesExisting(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza", "sortOrder": 1, "isActive": true},
	}}

	e, s := newTestPuller(t, fc)
	ctx := context.Background()
	e.RunCycle(ctx)

	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza & Pasta", "sortOrder": 3, "isActive": true},
	}}
	e.RunCycle(ctx)

	var name string
	var sortOrder int
	s.DB().QueryRow(`SELECT name, sort_order FROM categories WHERE id = 'c1'`).Scan(&name, &sortOrder)
	if name != "Pizza & Pasta" || sortOrder != 3 {
		t.Fatalf("update not applied: %s/%d", name, sortOrder)
	}
}

func TestRunCycleReplaceMode(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["pizza/base-prices"] = map[string]any{"items": []any{
		map[string]any{"id": "bp1", "pizzaSizeId": "s1", "pizzaCrustId": "cr1", "price": 8.0},
		map[string]any{"id": "bp2", "pizzaSizeId": "s2", "pizzaCrustId": "cr1", "price": 10.0},
	}}

	e, s := newTestPuller(t, fc)
	ctx := context.Background()
	e.RunCycle(ctx)

	if count(t, s, "pizza_base_prices") != 2 {
		t.Fatalf("first pull = %d rows", count(t, s, "pizza_base_prices"))
	}

	// The cloud dropped a row; replace mode must not leave it behind.
	fc.responses["pizza/base-prices"] = map[string]any{"items": []any{
		map[string]any{"id": "bp3", "pizzaSizeId": "s1", "pizzaCrustId": "cr2", "price": 9.0},
	}}
	e.RunCycle(ctx)

	if count(t, s, "pizza_base_prices") != 1 {
		t.Fatalf("replace left %d rows", count(t, s, "pizza_base_prices"))
	}
	var sizeID string
	s.DB().QueryRow(`SELECT size_id FROM pizza_base_prices WHERE id = 'bp3'`).Scan(&sizeID)
	if sizeID != "s1" {
		t.Fatalf("override rename failed: size_id = %q", sizeID)
	}

	// Price tables never send a cursor.
	for _, c := range fc.since["pizza/base-prices"] {
		if c != "" {
			t.Fatalf("replace-mode entity sent cursor %q", c)
		}
	}
}

func TestRunCycleEntityFaultIsolation(t *testing.T) {
	fc := newFakeCloud()
	fc.statuses["categories"] = http.StatusInternalServerError
	fc.responses["taxes"] = map[string]any{"items": []any{
		map[string]any{"id": "t1", "name": "VAT", "rate": 0.2, "isDefault": true},
	}}

	e, s := newTestPuller(t, fc)
	n := e.RunCycle(context.Background())
	if n != 1 {
		t.Fatalf("pulled %d rows, want 1", n)
	}

	if count(t, s, "taxes") != 1 {
		t.Fatalf("healthy entity not pulled")
	}

	var status string
	var errMsg string
	s.DB().QueryRow(`SELECT status, COALESCE(error, '') FROM sync_state WHERE entity_type = 'categories'`).Scan(&status, &errMsg)
	if status != StateError || errMsg == "" {
		t.Fatalf("broken entity state = %s/%q", status, errMsg)
	}
}

func TestRunCycleRowFaultIsolation(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"name": "No ID", "sortOrder": 1, "isActive": true},
		map[string]any{"id": "c2", "name": "Good", "sortOrder": 2, "isActive": true},
	}}

	e, s := newTestPuller(t, fc)
	n := e.RunCycle(context.Background())
	if n != 1 {
		t.Fatalf("pulled %d rows, want 1", n)
	}
	if count(t, s, "categories") != 1 {
		t.Fatalf("categories = %d", count(t, s, "categories"))
	}
}

func TestRunCycleDeletesWithChildren(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["customers"] = map[string]any{"items": []any{
		map[string]any{"id": "cust1", "name": "Ada"},
		map[string]any{"id": "cust2", "name": "Grace"},
	}}

	e, s := newTestPuller(t, fc)
	ctx := context.Background()
	e.RunCycle(ctx)

	if count(t, s, "customers") != 2 {
		t.Fatalf("customers = %d", count(t, s, "customers"))
	}
	if _, err := s.DB().Exec(`
		INSERT INTO store_credits (id, customer_id, amount, entry_type) VALUES ('sc1', 'cust1', 5, 'EARN')
	`); err != nil {
		t.Fatalf("seed store credit: %v", err)
	}

	fc.responses["customers"] = map[string]any{
		"items":      []any{},
		"deletedIds": []any{"cust1"},
	}
	e.RunCycle(ctx)

	if count(t, s, "customers") != 1 {
		t.Fatalf("customers after delete = %d", count(t, s, "customers"))
	}
	if count(t, s, "store_credits") != 0 {
		t.Fatalf("child rows survived parent delete")
	}
}

func TestRunCycleMissingEndpointTolerated(t *testing.T) {
	fc := newFakeCloud()
	// Nothing registered: every endpoint 404s.
	e, s := newTestPuller(t, fc)

	if n := e.RunCycle(context.Background()); n != 0 {
		t.Fatalf("pulled %d rows from 404s", n)
	}

	status, _, _ := syncState(t, s, "categories")
	if status != StateSuccess {
		t.Fatalf("404 should record SUCCESS, got %s", status)
	}
}

func TestRunCycleUnpairedIsNoop(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	e := New(s, cloud.New(cfg), time.Minute)
	if n := e.RunCycle(context.Background()); n != 0 {
		t.Fatalf("unpaired hub pulled %d rows", n)
	}
}

func TestResetCursors(t *testing.T) {
	fc := newFakeCloud()
	fc.responses["categories"] = map[string]any{"items": []any{
		map[string]any{"id": "c1", "name": "Pizza", "sortOrder": 1, "isActive": true},
	}}

	e, s := newTestPuller(t, fc)
	ctx := context.Background()
	e.RunCycle(ctx)

	if err := e.ResetCursors(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	var since *string
	s.DB().QueryRow(`SELECT last_synced_at FROM sync_state WHERE entity_type = 'categories'`).Scan(&since)
	if since != nil {
		t.Fatalf("cursor survived reset: %v", *since)
	}

	// Next cycle full-fetches again.
	e.RunCycle(ctx)
	calls := fc.since["categories"]
	if calls[len(calls)-1] != "" {
		t.Fatalf("post-reset call sent cursor %q", calls[len(calls)-1])
	}
}
