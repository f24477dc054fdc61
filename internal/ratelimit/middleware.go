package ratelimit

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"
)

// SubjectFunc extracts the caller identity to count against. Requests
// without one are passed through.
type SubjectFunc func(r *http.Request) string

// Middleware rejects requests over limit per window with 429 and a
// Retry-After header. Limiter failures are logged and the request is
// allowed through.
func Middleware(limiter Limiter, scope string, limit int, window time.Duration, subject SubjectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			id := subject(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			count, retryAfter, err := limiter.Consume(r.Context(), scope, id, limit, window)
			if err != nil {
				log.Printf("ratelimit: %s for %s: %v", scope, id, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "too many requests",
					"code":  "RATE_LIMITED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
