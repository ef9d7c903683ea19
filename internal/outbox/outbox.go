package outbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/relaypos/edgehub/internal/store"
)

// Outbox row statuses. Transitions are monotonic except PROCESSING -> PENDING
// on a retriable failure; SYNCED and DEAD_LETTER are terminal short of an
// administrative retry.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSynced     = "SYNCED"
	StatusDeadLetter = "DEAD_LETTER"
)

// Priorities by entity kind: sales and refunds drain first.
const (
	PrioritySale    = 10
	PriorityShift   = 5
	PriorityDefault = 0
)

const DefaultMaxAttempts = 5

var ErrNotFound = errors.New("outbox: item not found")

// Item is one pending cloud write.
type Item struct {
	ID            int64
	EntityType    string
	EntityID      string
	Action        string
	Payload       string
	CorrelationID string
	Priority      int
	Status        string
	Attempts      int
	MaxAttempts   int
	Error         string
	CreatedAt     string
	ProcessedAt   string
}

// Queue provides outbox semantics over the store.
type Queue struct {
	store *store.Store
}

func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue inserts one row inside the caller's transaction. Every mutating
// request runs this in the same transaction as its business write so no
// business fact exists without a push record and vice versa.
func Enqueue(tx *sql.Tx, entityType, entityID, action, payload string, priority int) error {
	_, err := tx.Exec(`
		INSERT INTO outbox_queue (entity_type, entity_id, action, payload, correlation_id, priority, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entityType, entityID, action, payload, entityID, priority, DefaultMaxAttempts)
	return err
}

// EnqueueWithMaxAttempts is Enqueue with an explicit retry budget.
func EnqueueWithMaxAttempts(tx *sql.Tx, entityType, entityID, action, payload string, priority, maxAttempts int) error {
	_, err := tx.Exec(`
		INSERT INTO outbox_queue (entity_type, entity_id, action, payload, correlation_id, priority, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entityType, entityID, action, payload, entityID, priority, maxAttempts)
	return err
}

// ClaimBatch selects up to limit PENDING items with attempts left, ordered by
// priority then age, and transitions them to PROCESSING with attempts+1. The
// select and update run in one transaction so concurrent workers cannot
// double-pick a row.
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]Item, error) {
	var items []Item

	err := q.store.Tx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, entity_type, entity_id, action, payload, COALESCE(correlation_id, ''),
			       priority, attempts, max_attempts
			FROM outbox_queue
			WHERE status = ? AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC
			LIMIT ?
		`, StatusPending, limit)
		if err != nil {
			return err
		}

		for rows.Next() {
			var it Item
			if err := rows.Scan(&it.ID, &it.EntityType, &it.EntityID, &it.Action, &it.Payload,
				&it.CorrelationID, &it.Priority, &it.Attempts, &it.MaxAttempts); err != nil {
				rows.Close()
				return err
			}
			items = append(items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range items {
			if _, err := tx.ExecContext(ctx, `
				UPDATE outbox_queue SET status = ?, attempts = attempts + 1 WHERE id = ?
			`, StatusProcessing, items[i].ID); err != nil {
				return err
			}
			items[i].Status = StatusProcessing
			items[i].Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkSynced finalizes an item after the cloud accepted it.
func (q *Queue) MarkSynced(ctx context.Context, id int64, note string) error {
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE outbox_queue
		SET status = ?, error = NULLIF(?, ''), processed_at = datetime('now')
		WHERE id = ?
	`, StatusSynced, note, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

// MarkDeadLetter parks an item after a non-retriable failure.
func (q *Queue) MarkDeadLetter(ctx context.Context, id int64, cause string) error {
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE outbox_queue
		SET status = ?, error = ?, processed_at = datetime('now')
		WHERE id = ?
	`, StatusDeadLetter, cause, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

// MarkPendingAgain returns an item to the queue after a retriable failure.
func (q *Queue) MarkPendingAgain(ctx context.Context, id int64, cause string) error {
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE outbox_queue SET status = ?, error = ? WHERE id = ?
	`, StatusPending, cause, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

// Stats returns row counts grouped by status.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.store.DB().QueryContext(ctx, `
		SELECT status, COUNT(*) FROM outbox_queue GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// PendingCount returns the number of rows still owed to the cloud.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox_queue WHERE status IN (?, ?)
	`, StatusPending, StatusProcessing).Scan(&n)
	return n, err
}

// OldestPendingAge returns how long the oldest PENDING row has been waiting,
// zero when the queue is drained.
func (q *Queue) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	var created sql.NullString
	err := q.store.DB().QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM outbox_queue WHERE status = ?
	`, StatusPending).Scan(&created)
	if err != nil {
		return 0, err
	}
	if !created.Valid {
		return 0, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", created.String)
	if err != nil {
		return 0, err
	}
	return time.Since(t.UTC()), nil
}

// RetryDeadLetters resets DEAD_LETTER rows (optionally for one entity type)
// back to PENDING with a fresh attempt budget. Returns the number reset.
func (q *Queue) RetryDeadLetters(ctx context.Context, entityType string) (int64, error) {
	query := `UPDATE outbox_queue SET status = ?, attempts = 0, error = NULL WHERE status = ?`
	args := []any{StatusPending, StatusDeadLetter}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}

	res, err := q.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
