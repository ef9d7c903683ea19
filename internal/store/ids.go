package store

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

var idMu sync.Mutex

// NewID mints a short opaque identifier: base36 millisecond timestamp plus
// base36 random suffix. Unique within the local process; the cloud treats it
// as opaque.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strconv.FormatInt(rand.Int63n(36*36*36*36*36*36), 36)
	for len(suffix) < 6 {
		suffix = "0" + suffix
	}
	return ts + suffix
}

// NextReceiptNumber atomically increments the per-day order sequence and
// returns the formatted receipt number YYYYMMDD-NNNN.
func (s *Store) NextReceiptNumber(ctx context.Context, now time.Time) (string, error) {
	dateKey := now.Format("20060102")

	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO order_sequences (date_key, current_value)
		VALUES (?, 1)
		ON CONFLICT(date_key) DO UPDATE SET current_value = current_value + 1
		RETURNING current_value
	`, dateKey).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("next receipt number: %w", err)
	}

	return fmt.Sprintf("%s-%04d", dateKey, value), nil
}
