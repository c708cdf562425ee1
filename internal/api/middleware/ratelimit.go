package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/honeykey/internal/api/response"
	"github.com/kiranshivaraju/honeykey/internal/cache"
)

const (
	defaultAnalyzePerMinute = 10
	rateWindow              = time.Minute
)

// RateLimit caps analyze calls per client IP in fixed one-minute windows.
type RateLimit struct {
	cache  cache.Cache
	budget int
}

// NewRateLimit creates a RateLimit allowing perMinute calls per client IP.
// A non-positive perMinute uses the default of 10.
func NewRateLimit(c cache.Cache, perMinute int) *RateLimit {
	if perMinute <= 0 {
		perMinute = defaultAnalyzePerMinute
	}
	return &RateLimit{cache: c, budget: perMinute}
}

// Limit answers 429 once a client exceeds its budget for the current window.
// Cache errors, including a disabled cache, let the request through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if ip == "" || rl.cache == nil {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(ip), rateWindow)
		if err != nil {
			if !errors.Is(err, cache.ErrDisabled) {
				slog.Warn("rate limit check failed, allowing request",
					"error", err,
					"client_ip", ip,
					"correlation_id", GetCorrelationID(r),
				)
			}
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.budget-int(count), 0)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.budget))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.budget) {
			h.Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many analyze requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
