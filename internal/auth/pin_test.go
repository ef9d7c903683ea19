package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/relaypos/edgehub/internal/store"
)

func newTestAuth(t *testing.T) (*Authenticator, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewAuthenticator(s), s
}

func seedUser(t *testing.T, s *store.Store, id, name, role, pin string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	isActive := 0
	if active {
		isActive = 1
	}
	_, err = s.DB().Exec(`
		INSERT INTO users (id, name, role, pin_hash, permissions, max_discount, is_active)
		VALUES (?, ?, ?, ?, '["void_sale"]', 15, ?)
	`, id, name, role, string(hash), isActive)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", true)
	_, err := s.DB().Exec(`INSERT INTO terminals (id, name, role) VALUES ('term-1', 'Front', 'pos')`)
	if err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	res, err := a.Login(context.Background(), "1234", "term-1", "10.0.0.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.SessionID == "" {
		t.Fatalf("no session id")
	}
	if res.User.ID != "u1" || res.User.Role != "manager" {
		t.Fatalf("user = %+v", res.User)
	}
	if len(res.User.Permissions) != 1 || res.User.Permissions[0] != "void_sale" {
		t.Fatalf("permissions = %v", res.User.Permissions)
	}
	if res.User.MaxDiscount != 15 {
		t.Fatalf("max discount = %v", res.User.MaxDiscount)
	}

	// The session row exists and is active.
	var active int
	var terminal string
	s.DB().QueryRow(`SELECT is_active, terminal_id FROM sessions WHERE session_id = ?`, res.SessionID).Scan(&active, &terminal)
	if active != 1 || terminal != "term-1" {
		t.Fatalf("session row = %d/%s", active, terminal)
	}

	// Logging in marks the terminal online.
	var status string
	s.DB().QueryRow(`SELECT status FROM terminals WHERE id = 'term-1'`).Scan(&status)
	if status != "ONLINE" {
		t.Fatalf("terminal status = %s", status)
	}
}

func TestLoginWrongPIN(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", true)

	_, err := a.Login(context.Background(), "9999", "", "10.0.0.5")
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("got %v, want ErrInvalidPIN", err)
	}
}

func TestLoginInactiveUserRejected(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", false)

	_, err := a.Login(context.Background(), "1234", "", "10.0.0.5")
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("inactive user logged in: %v", err)
	}
}

func TestLoginPicksCorrectUserAmongMany(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", true)
	seedUser(t, s, "u2", "Grace", "cashier", "5678", true)
	seedUser(t, s, "u3", "Alan", "cashier", "2468", true)

	res, err := a.Login(context.Background(), "5678", "", "10.0.0.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != "u2" {
		t.Fatalf("matched %s, want u2", res.User.ID)
	}
}

func TestLoginRateLimited(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", true)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := a.Login(ctx, "0000", "", "10.0.0.9")
		if !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// The 11th attempt from the same IP is blocked even with the right PIN.
	_, err := a.Login(ctx, "1234", "", "10.0.0.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}

	// A different IP is unaffected.
	if _, err := a.Login(ctx, "1234", "", "10.0.0.10"); err != nil {
		t.Fatalf("other ip blocked: %v", err)
	}
}

func TestLogout(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", true)

	res, err := a.Login(context.Background(), "1234", "", "10.0.0.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := a.Logout(context.Background(), res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	var active int
	s.DB().QueryRow(`SELECT is_active FROM sessions WHERE session_id = ?`, res.SessionID).Scan(&active)
	if active != 0 {
		t.Fatalf("session still active after logout")
	}
}

func TestMRUPrefersRecentUser(t *testing.T) {
	a, s := newTestAuth(t)
	seedUser(t, s, "u1", "Ada", "manager", "1234", true)

	ctx := context.Background()
	if _, err := a.Login(ctx, "1234", "", "10.0.0.5"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	// Second login goes through the MRU fast path and must still match.
	res, err := a.Login(ctx, "1234", "", "10.0.0.5")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if res.User.ID != "u1" {
		t.Fatalf("matched %s", res.User.ID)
	}

	a.ClearMRU()
	if _, err := a.Login(ctx, "1234", "", "10.0.0.5"); err != nil {
		t.Fatalf("login after MRU clear: %v", err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip-a") {
			t.Fatalf("attempt %d blocked inside limit", i+1)
		}
	}
	if rl.Allow("ip-a") {
		t.Fatalf("4th attempt allowed")
	}
	if !rl.Allow("ip-b") {
		t.Fatalf("separate ip blocked")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("ip-a") {
		t.Fatalf("attempt blocked after window expiry")
	}
}

func TestMintAndVerifyAdminToken(t *testing.T) {
	tok, err := MintAdminToken("hub-secret", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if tok == "" {
		t.Fatalf("empty token")
	}
}
