package middleware

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/neboloop/bingus/internal/httputil"
)

// RateLimit allows r requests per second with the given burst, across
// all callers. There is one client per daemon, so a single bucket is
// enough.
func RateLimit(r float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			res := limiter.Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int((delay+time.Second-1)/time.Second)))
				httputil.ErrorWithCode(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
