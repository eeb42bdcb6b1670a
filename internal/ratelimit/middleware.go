package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/jacobjmc/lightpad/internal/obs"
)

// Middleware enforces the per-user token buckets.
//
// Requests without a user pass through untouched; auth runs in front of this
// and rejects them. A rejected request gets 429 with Retry-After in whole
// seconds.
func Middleware(limiter *UserLimiter, getUserID func(r *http.Request) string, getIsPaid func(r *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := getUserID(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			isPaid := getIsPaid(r)
			ok, wait := limiter.Reserve(userID, isPaid)
			if !ok {
				retryAfter := int(math.Ceil(wait.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				obs.From(r.Context()).Warn("user_rate_limited", "pkg", "ratelimit", "retry_after_s", retryAfter, "paid", isPaid)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too Many Requests"}`))
				return
			}

			remaining := int(limiter.Tokens(userID, isPaid))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
