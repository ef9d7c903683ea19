package push

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/cloud"
	"github.com/relaypos/edgehub/internal/outbox"
	"github.com/relaypos/edgehub/internal/store"
)

// endpoints maps an outbox entity type to its cloud push path segment.
// Unknown types dead-letter immediately.
var endpoints = map[string]string{
	"sale":                    "sales",
	"refund":                  "refunds",
	"kitchen_order":           "kitchen-orders",
	"cash_drawer":             "cash-drawers",
	"cash_drawer_transaction": "cash-drawer-transactions",
	"shift_log":               "shifts",
	"shift_break":             "shift-breaks",
	"table_session":           "table-sessions",
	"guest_check":             "guest-checks",
	"store_credit":            "store-credits",
}

// syncStatusTables maps entity types to the business table whose sync_status
// column mirrors the outbox terminal state.
var syncStatusTables = map[string]string{
	"sale":                    "sales",
	"refund":                  "refunds",
	"kitchen_order":           "kitchen_orders",
	"cash_drawer":             "cash_drawers",
	"cash_drawer_transaction": "cash_drawer_transactions",
	"shift_log":               "shift_logs",
	"shift_break":             "shift_breaks",
	"table_session":           "table_sessions",
	"guest_check":             "guest_checks",
	"store_credit":            "store_credits",
}

// Engine drains the outbox to the cloud on a fixed interval. One engine runs
// per hub; ProcessOutbox is single-flight so a slow drain drops the next tick
// instead of stacking.
type Engine struct {
	store     *store.Store
	queue     *outbox.Queue
	cloud     *cloud.Client
	interval  time.Duration
	batchSize int
	busy      atomic.Bool
}

func New(s *store.Store, q *outbox.Queue, c *cloud.Client, interval time.Duration, batchSize int) *Engine {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Engine{store: s, queue: q, cloud: c, interval: interval, batchSize: batchSize}
}

// Run ticks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Dur("interval", e.interval).Int("batch", e.batchSize).Msg("push engine starting")
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("push engine stopping")
			return
		case <-ticker.C:
			e.ProcessOutbox(ctx)
		}
	}
}

// ProcessOutbox claims one batch and pushes each item independently. A
// failure on one item never aborts the rest of the batch. Returns the number
// of items that reached SYNCED.
func (e *Engine) ProcessOutbox(ctx context.Context) int {
	if !e.busy.CompareAndSwap(false, true) {
		return 0
	}
	defer e.busy.Store(false)

	if !e.cloud.IsConfigured() {
		return 0
	}

	items, err := e.queue.ClaimBatch(ctx, e.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("outbox claim failed")
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	synced := 0
	for _, it := range items {
		if e.pushItem(ctx, it) {
			synced++
		}
	}

	log.Info().Int("claimed", len(items)).Int("synced", synced).Msg("outbox batch processed")
	return synced
}

func (e *Engine) pushItem(ctx context.Context, it outbox.Item) bool {
	logger := log.With().Int64("outboxId", it.ID).Str("entity", it.EntityType).Str("entityId", it.EntityID).Logger()

	endpoint, ok := endpoints[it.EntityType]
	if !ok {
		logger.Error().Msg("unknown entity type, dead-lettering")
		e.finalize(ctx, it, outbox.StatusDeadLetter, "unknown entity type")
		return false
	}

	var payload any
	if err := json.Unmarshal([]byte(it.Payload), &payload); err != nil {
		logger.Error().Err(err).Msg("invalid payload, dead-lettering")
		e.finalize(ctx, it, outbox.StatusDeadLetter, "invalid payload")
		return false
	}

	resp := e.cloud.Post(ctx, "/api/hub/push/"+endpoint, map[string]any{
		"entityType":    it.EntityType,
		"entityId":      it.EntityID,
		"action":        it.Action,
		"payload":       payload,
		"correlationId": it.CorrelationID,
	})

	switch {
	case resp.OK:
		e.finalize(ctx, it, outbox.StatusSynced, "")
		return true

	case resp.Status == 409:
		// Cloud already applied this entityId+action; idempotent duplicate.
		logger.Debug().Msg("cloud reported duplicate")
		e.finalize(ctx, it, outbox.StatusSynced, "duplicate")
		return true

	case resp.Status >= 400 && resp.Status < 500:
		logger.Warn().Int("status", resp.Status).Str("error", resp.Err).Msg("non-retriable push failure")
		e.finalize(ctx, it, outbox.StatusDeadLetter, resp.Err)
		return false

	default:
		// 5xx or network failure: retriable until the attempt budget runs out.
		if it.Attempts >= it.MaxAttempts {
			logger.Warn().Int("attempts", it.Attempts).Msg("max attempts reached, dead-lettering")
			e.finalize(ctx, it, outbox.StatusDeadLetter, "max attempts: "+resp.Err)
			return false
		}
		logger.Warn().Int("status", resp.Status).Int("attempt", it.Attempts).Str("error", resp.Err).Msg("retriable push failure")
		if err := e.queue.MarkPendingAgain(ctx, it.ID, resp.Err); err != nil {
			logger.Error().Err(err).Msg("failed to requeue item")
		}
		return false
	}
}

// finalize records the terminal outcome and mirrors it onto the business
// row's sync_status column for observability.
func (e *Engine) finalize(ctx context.Context, it outbox.Item, status, note string) {
	var err error
	if status == outbox.StatusSynced {
		err = e.queue.MarkSynced(ctx, it.ID, note)
	} else {
		err = e.queue.MarkDeadLetter(ctx, it.ID, note)
	}
	if err != nil {
		log.Error().Err(err).Int64("outboxId", it.ID).Msg("failed to finalize outbox item")
		return
	}

	if table, ok := syncStatusTables[it.EntityType]; ok {
		if _, err := e.store.DB().ExecContext(ctx,
			"UPDATE "+table+" SET sync_status = ? WHERE id = ?", status, it.EntityID); err != nil {
			log.Warn().Err(err).Str("table", table).Str("id", it.EntityID).Msg("failed to mirror sync status")
		}
	}
}
