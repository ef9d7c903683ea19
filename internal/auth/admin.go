package auth

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// MintAdminToken exchanges the hub secret for a short-lived HS256 token used
// by the setup wizard and the sync-control routes.
func MintAdminToken(secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": "hub-admin",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// AdminRequired validates an Authorization: Bearer token signed with the hub
// secret. Administrative routes (manual sync, dead-letter retry, cursor
// reset) sit behind this.
func AdminRequired(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// An unset secret must close the surface entirely: HS256 with an
			// empty key would verify tokens anyone can forge.
			if secret == "" {
				http.Error(w, `{"error":"hub secret not configured"}`, http.StatusUnauthorized)
				return
			}

			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}
			if tok == "" {
				http.Error(w, `{"error":"admin token required"}`, http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !t.Valid {
				log.Warn().Err(err).Msg("admin token validation failed")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
