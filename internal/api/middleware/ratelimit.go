package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/productlens/internal/api/response"
	"github.com/kiranshivaraju/productlens/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// Counter is the slice of the cache the limiter needs.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit is a fixed one-minute window limiter keyed by client IP and
// backed by Redis counters.
type RateLimit struct {
	counter        Counter
	requestsPerMin int
}

func NewRateLimit(c Counter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(ip), rateWindow)
		if err != nil {
			// Fail open: a Redis outage must not block job submission.
			slog.Warn("rate limit check failed", "error", err, "client_ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
