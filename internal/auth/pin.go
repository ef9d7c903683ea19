package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaypos/edgehub/internal/store"
)

var (
	ErrRateLimited = errors.New("too many attempts")
	ErrInvalidPIN  = errors.New("invalid pin")
)

const mruSize = 5

// UserProfile is returned to the terminal on a successful PIN match.
type UserProfile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	MaxDiscount float64  `json:"maxDiscount"`
}

// LoginResult bundles the minted session with the matched user.
type LoginResult struct {
	SessionID string      `json:"sessionId"`
	User      UserProfile `json:"user"`
}

// Authenticator verifies terminal PINs against the mirrored user table.
//
// bcrypt at cost 12 takes ~100 ms per comparison, so iterating a hundred
// users is over a second in the worst case. The MRU list keeps the handful
// of staff who log in all shift at the front; it is an optimization only and
// is cleared whenever a PIN changes.
type Authenticator struct {
	store   *store.Store
	limiter *RateLimiter

	mruMu sync.Mutex
	mru   []string // most recent user ids, newest first
}

func NewAuthenticator(s *store.Store) *Authenticator {
	return &Authenticator{
		store:   s,
		limiter: NewRateLimiter(10, 5*time.Minute),
	}
}

type candidate struct {
	id          string
	name        string
	role        string
	pinHash     string
	permissions string
	maxDiscount float64
}

// Login verifies the PIN for an attempt from clientIP. On success it mints a
// session bound to (terminalID, userID) and marks the terminal ONLINE.
func (a *Authenticator) Login(ctx context.Context, pin, terminalID, clientIP string) (LoginResult, error) {
	if !a.limiter.Allow(clientIP) {
		log.Warn().Str("ip", clientIP).Msg("pin attempts rate limited")
		return LoginResult{}, ErrRateLimited
	}

	users, err := a.loadCandidates(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	match, ok := a.matchPIN(users, pin)
	if !ok {
		return LoginResult{}, ErrInvalidPIN
	}

	a.touchMRU(match.id)

	sessionID := uuid.New().String()
	err = a.store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, terminal_id, user_id, is_active)
			VALUES (?, NULLIF(?, ''), ?, 1)
		`, sessionID, terminalID, match.id); err != nil {
			return err
		}
		if terminalID != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE terminals SET status = 'ONLINE', last_seen_at = datetime('now') WHERE id = ?
			`, terminalID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}

	var perms []string
	if err := json.Unmarshal([]byte(match.permissions), &perms); err != nil {
		perms = []string{}
	}

	log.Info().Str("userId", match.id).Str("terminalId", terminalID).Msg("pin login")

	return LoginResult{
		SessionID: sessionID,
		User: UserProfile{
			ID:          match.id,
			Name:        match.name,
			Role:        match.role,
			Permissions: perms,
			MaxDiscount: match.maxDiscount,
		},
	}, nil
}

// Logout invalidates a session.
func (a *Authenticator) Logout(ctx context.Context, sessionID string) error {
	_, err := a.store.DB().ExecContext(ctx, `
		UPDATE sessions SET is_active = 0, ended_at = datetime('now') WHERE session_id = ?
	`, sessionID)
	return err
}

// ClearMRU drops the recent-user list. Called after any PIN update so a
// stale hash cannot shadow the new one.
func (a *Authenticator) ClearMRU() {
	a.mruMu.Lock()
	a.mru = nil
	a.mruMu.Unlock()
}

func (a *Authenticator) loadCandidates(ctx context.Context) ([]candidate, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(role, ''), pin_hash, permissions, max_discount
		FROM users
		WHERE is_active = 1 AND pin_hash IS NOT NULL AND pin_hash != ''
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.name, &c.role, &c.pinHash, &c.permissions, &c.maxDiscount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// matchPIN tries MRU users first, then the rest in load order.
func (a *Authenticator) matchPIN(users []candidate, pin string) (candidate, bool) {
	byID := make(map[string]int, len(users))
	for i, u := range users {
		byID[u.id] = i
	}

	tried := make(map[string]bool, mruSize)

	a.mruMu.Lock()
	recent := append([]string(nil), a.mru...)
	a.mruMu.Unlock()

	for _, id := range recent {
		i, ok := byID[id]
		if !ok {
			continue
		}
		tried[id] = true
		if bcrypt.CompareHashAndPassword([]byte(users[i].pinHash), []byte(pin)) == nil {
			return users[i], true
		}
	}

	for _, u := range users {
		if tried[u.id] {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.pinHash), []byte(pin)) == nil {
			return u, true
		}
	}

	return candidate{}, false
}

func (a *Authenticator) touchMRU(id string) {
	a.mruMu.Lock()
	defer a.mruMu.Unlock()

	next := make([]string, 0, mruSize)
	next = append(next, id)
	for _, v := range a.mru {
		if v != id && len(next) < mruSize {
			next = append(next, v)
		}
	}
	a.mru = next
}
