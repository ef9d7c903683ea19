package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaypos/edgehub/internal/cloud"
	"github.com/relaypos/edgehub/internal/config"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/store"
)

func newTestEngine(t *testing.T, cloudURL string) (*Engine, *outbox.Queue, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cloudURL != "" {
		if err := cfg.SetCredentials(cloudURL, "test-key", "tenant-1", "loc-1"); err != nil {
			t.Fatalf("set credentials: %v", err)
		}
	}

	q := outbox.New(s)
	return New(s, q, cloud.New(cfg), time.Second, 20), q, s
}

func seedSale(t *testing.T, s *store.Store, saleID string) {
	t.Helper()
	err := s.Tx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO sales (id, receipt_number, total) VALUES (?, '20260101-0001', 10)
		`, saleID); err != nil {
			return err
		}
		return outbox.Enqueue(tx, "sale", saleID, "create", `{"id":"`+saleID+`","total":10}`, outbox.PrioritySale)
	})
	if err != nil {
		t.Fatalf("seed sale: %v", err)
	}
}

func outboxStatus(t *testing.T, s *store.Store, entityID string) string {
	t.Helper()
	var status string
	if err := s.DB().QueryRow(`SELECT status FROM outbox_queue WHERE entity_id = ?`, entityID).Scan(&status); err != nil {
		t.Fatalf("outbox status: %v", err)
	}
	return status
}

func TestProcessOutboxSuccess(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/hub/push/sales" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	e, _, s := newTestEngine(t, ts.URL)
	seedSale(t, s, "sale-1")

	if n := e.ProcessOutbox(context.Background()); n != 1 {
		t.Fatalf("synced %d, want 1", n)
	}

	if st := outboxStatus(t, s, "sale-1"); st != outbox.StatusSynced {
		t.Fatalf("outbox status = %s, want SYNCED", st)
	}

	if got["entityType"] != "sale" || got["entityId"] != "sale-1" || got["action"] != "create" {
		t.Fatalf("envelope = %v", got)
	}
	if got["correlationId"] != "sale-1" {
		t.Fatalf("correlationId = %v", got["correlationId"])
	}

	// Terminal outcome mirrors onto the business row.
	var syncStatus string
	s.DB().QueryRow(`SELECT sync_status FROM sales WHERE id = 'sale-1'`).Scan(&syncStatus)
	if syncStatus != "SYNCED" {
		t.Fatalf("sales.sync_status = %s", syncStatus)
	}
}

func TestProcessOutboxDuplicateIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"duplicate"}`))
	}))
	defer ts.Close()

	e, _, s := newTestEngine(t, ts.URL)
	seedSale(t, s, "sale-1")

	if n := e.ProcessOutbox(context.Background()); n != 1 {
		t.Fatalf("synced %d, want 1", n)
	}
	if st := outboxStatus(t, s, "sale-1"); st != outbox.StatusSynced {
		t.Fatalf("409 should finalize as SYNCED, got %s", st)
	}
}

func TestProcessOutboxClientErrorDeadLetters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"missing field"}`))
	}))
	defer ts.Close()

	e, _, s := newTestEngine(t, ts.URL)
	seedSale(t, s, "sale-1")

	if n := e.ProcessOutbox(context.Background()); n != 0 {
		t.Fatalf("synced %d, want 0", n)
	}
	if st := outboxStatus(t, s, "sale-1"); st != outbox.StatusDeadLetter {
		t.Fatalf("400 should dead-letter, got %s", st)
	}

	var syncStatus string
	s.DB().QueryRow(`SELECT sync_status FROM sales WHERE id = 'sale-1'`).Scan(&syncStatus)
	if syncStatus != "DEAD_LETTER" {
		t.Fatalf("sales.sync_status = %s", syncStatus)
	}
}

func TestProcessOutboxServerErrorRetriesThenDeadLetters(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	e, _, s := newTestEngine(t, ts.URL)
	seedSale(t, s, "sale-1")

	ctx := context.Background()
	for i := 0; i < outbox.DefaultMaxAttempts-1; i++ {
		e.ProcessOutbox(ctx)
		if st := outboxStatus(t, s, "sale-1"); st != outbox.StatusPending {
			t.Fatalf("after attempt %d status = %s, want PENDING", i+1, st)
		}
	}

	// Final attempt exhausts the budget.
	e.ProcessOutbox(ctx)
	if st := outboxStatus(t, s, "sale-1"); st != outbox.StatusDeadLetter {
		t.Fatalf("after max attempts status = %s, want DEAD_LETTER", st)
	}
	if int(calls.Load()) != outbox.DefaultMaxAttempts {
		t.Fatalf("cloud called %d times, want %d", calls.Load(), outbox.DefaultMaxAttempts)
	}

	// Nothing left to push.
	if n := e.ProcessOutbox(ctx); n != 0 {
		t.Fatalf("dead-lettered item pushed again")
	}
}

func TestProcessOutboxBatchIsolation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["entityId"] == "sale-bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	e, _, s := newTestEngine(t, ts.URL)
	seedSale(t, s, "sale-bad")
	seedSale(t, s, "sale-good")

	if n := e.ProcessOutbox(context.Background()); n != 1 {
		t.Fatalf("synced %d, want 1", n)
	}
	if st := outboxStatus(t, s, "sale-good"); st != outbox.StatusSynced {
		t.Fatalf("good item status = %s", st)
	}
	if st := outboxStatus(t, s, "sale-bad"); st != outbox.StatusDeadLetter {
		t.Fatalf("bad item status = %s", st)
	}
}

func TestProcessOutboxUnknownEntityDeadLetters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("cloud should not be called for an unknown entity type")
	}))
	defer ts.Close()

	e, _, s := newTestEngine(t, ts.URL)
	err := s.Tx(context.Background(), func(tx *sql.Tx) error {
		return outbox.Enqueue(tx, "mystery", "m1", "create", `{}`, 0)
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	e.ProcessOutbox(context.Background())
	if st := outboxStatus(t, s, "m1"); st != outbox.StatusDeadLetter {
		t.Fatalf("status = %s, want DEAD_LETTER", st)
	}
}

func TestProcessOutboxUnpairedIsNoop(t *testing.T) {
	e, _, s := newTestEngine(t, "")
	seedSale(t, s, "sale-1")

	if n := e.ProcessOutbox(context.Background()); n != 0 {
		t.Fatalf("unpaired hub pushed %d items", n)
	}
	if st := outboxStatus(t, s, "sale-1"); st != outbox.StatusPending {
		t.Fatalf("status = %s, want PENDING (untouched)", st)
	}
}
