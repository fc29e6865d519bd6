package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/neboloop/bingus/internal/httputil"
)

// BearerToken creates a chi middleware that requires
// "Authorization: Bearer <token>" to match token exactly.
func BearerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.Unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				httputil.Unauthorized(w, "invalid authorization header format")
				return
			}

			if !tokenEqual(parts[1], token) {
				httputil.Unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
