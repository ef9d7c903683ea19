package pull

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/cloud"
	"github.com/relaypos/edgehub/internal/store"
)

// Sync state statuses.
const (
	StateIdle    = "IDLE"
	StateSyncing = "SYNCING"
	StateSuccess = "SUCCESS"
	StateError   = "ERROR"
)

// Engine replicates reference entities from the cloud in dependency order.
// Cycles are single-flight; a tick that lands while a cycle is still running
// is dropped.
type Engine struct {
	store    *store.Store
	cloud    *cloud.Client
	plan     []Entity
	interval time.Duration
	busy     atomic.Bool
}

func New(s *store.Store, c *cloud.Client, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Engine{store: s, cloud: c, plan: Plan(), interval: interval}
}

// Run ticks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Dur("interval", e.interval).Int("entities", len(e.plan)).Msg("pull engine starting")
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pull engine stopping")
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle walks the plan once. Failures are isolated per entity: a broken
// endpoint records ERROR on its sync_state row and the cycle moves on.
// Returns the total rows pulled.
func (e *Engine) RunCycle(ctx context.Context) int {
	if !e.busy.CompareAndSwap(false, true) {
		return 0
	}
	defer e.busy.Store(false)

	if !e.cloud.IsConfigured() {
		return 0
	}

	total := 0
	for _, ent := range e.plan {
		n, err := e.pullEntity(ctx, ent)
		if err != nil {
			log.Warn().Err(err).Str("entity", ent.Name).Msg("entity pull failed")
			e.recordError(ctx, ent.Name, err)
			continue
		}
		total += n
	}

	log.Info().Int("rows", total).Msg("pull cycle complete")
	return total
}

// ResetCursors clears lastSyncedAt for every entity so the next cycle does a
// full fetch. Administrative action behind the sync-control routes.
func (e *Engine) ResetCursors(ctx context.Context) error {
	_, err := e.store.DB().ExecContext(ctx, `
		UPDATE sync_state SET last_synced_at = NULL, cursor = NULL, status = ?, updated_at = datetime('now')
	`, StateIdle)
	return err
}

func (e *Engine) pullEntity(ctx context.Context, ent Entity) (int, error) {
	since, err := e.lastSyncedAt(ctx, ent.Name)
	if err != nil {
		return 0, err
	}
	e.recordSyncing(ctx, ent.Name)

	// Capture the fetch time before the request so an update that lands
	// mid-fetch is re-pulled next cycle rather than missed.
	fetchedAt := time.Now().UTC().Format(time.RFC3339)

	query := url.Values{}
	if since != "" && !ent.NoCursor {
		query.Set("sinceVersion", since)
	}

	resp := e.cloud.Get(ctx, "/api/hub/sync/"+ent.Endpoint, query)
	if resp.Status == 404 {
		// Endpoint not deployed yet; not an error.
		log.Debug().Str("entity", ent.Name).Msg("sync endpoint unavailable, skipping")
		return 0, e.recordSuccess(ctx, ent.Name, since, 0)
	}
	if !resp.OK {
		return 0, fmt.Errorf("cloud returned %d: %s", resp.Status, resp.Err)
	}

	items := ExtractItems(resp.Data)

	var count int
	err = e.store.Tx(ctx, func(tx *sql.Tx) error {
		if ent.Mode == ModeReplace {
			if _, err := tx.Exec("DELETE FROM " + ent.Table); err != nil {
				return err
			}
		}

		for _, item := range items {
			if err := upsertRow(tx, ent, item); err != nil {
				// Per-row failures are logged and skipped; the batch continues.
				log.Warn().Err(err).Str("entity", ent.Name).Interface("id", item["id"]).Msg("row upsert failed, skipping")
				continue
			}
			if ent.Companion != nil {
				if err := ent.Companion(tx, item); err != nil {
					log.Warn().Err(err).Str("entity", ent.Name).Interface("id", item["id"]).Msg("companion upsert failed")
				}
			}
			count++
		}

		if ent.HandleDeletes {
			if err := deleteRows(tx, ent, ExtractDeletedIDs(resp.Data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := e.recordSuccess(ctx, ent.Name, fetchedAt, count); err != nil {
		return count, err
	}

	if count > 0 {
		log.Info().Str("entity", ent.Name).Int("rows", count).Msg("entity pulled")
	}
	return count, nil
}

// upsertRow builds INSERT ... ON CONFLICT(id) DO UPDATE from the entity's
// column list, taking values from the transformed item. For replace-mode
// tables the conflict clause never fires but keeps re-runs harmless.
func upsertRow(tx *sql.Tx, ent Entity, item map[string]any) error {
	row := Transform(item, ent.Overrides)
	if row["id"] == nil || row["id"] == "" {
		return fmt.Errorf("item missing id")
	}

	cols := ent.Columns
	placeholders := strings.Repeat("?, ", len(cols)-1) + "?"

	var sets []string
	for _, c := range cols[1:] {
		sets = append(sets, c+" = excluded."+c)
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = row[c]
	}

	query := "INSERT INTO " + ent.Table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")" +
		" ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")

	_, err := tx.Exec(query, args...)
	return err
}

func deleteRows(tx *sql.Tx, ent Entity, ids []string) error {
	for _, id := range ids {
		for _, child := range childTables[ent.Name] {
			if _, err := tx.Exec("DELETE FROM "+child.table+" WHERE "+child.fk+" = ?", id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec("DELETE FROM "+ent.Table+" WHERE id = ?", id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) lastSyncedAt(ctx context.Context, name string) (string, error) {
	var since sql.NullString
	err := e.store.DB().QueryRowContext(ctx, `
		SELECT last_synced_at FROM sync_state WHERE entity_type = ?
	`, name).Scan(&since)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return since.String, nil
}

func (e *Engine) recordSuccess(ctx context.Context, name, syncedAt string, count int) error {
	_, err := e.store.DB().ExecContext(ctx, `
		INSERT INTO sync_state (entity_type, last_synced_at, record_count, status, error, updated_at)
		VALUES (?, ?, ?, ?, NULL, datetime('now'))
		ON CONFLICT(entity_type) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			record_count   = excluded.record_count,
			status         = excluded.status,
			error          = NULL,
			updated_at     = excluded.updated_at
	`, name, nullable(syncedAt), count, StateSuccess)
	return err
}

// recordSyncing stamps the in-flight status so /api/sync/status shows which
// entity a long cycle is currently on. Cursor and counts are left untouched.
func (e *Engine) recordSyncing(ctx context.Context, name string) {
	_, err := e.store.DB().ExecContext(ctx, `
		INSERT INTO sync_state (entity_type, status, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(entity_type) DO UPDATE SET
			status     = excluded.status,
			updated_at = excluded.updated_at
	`, name, StateSyncing)
	if err != nil {
		log.Warn().Err(err).Str("entity", name).Msg("failed to record syncing state")
	}
}

func (e *Engine) recordError(ctx context.Context, name string, cause error) {
	_, err := e.store.DB().ExecContext(ctx, `
		INSERT INTO sync_state (entity_type, status, error, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(entity_type) DO UPDATE SET
			status     = excluded.status,
			error      = excluded.error,
			updated_at = excluded.updated_at
	`, name, StateError, cause.Error())
	if err != nil {
		log.Error().Err(err).Str("entity", name).Msg("failed to record sync error")
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
