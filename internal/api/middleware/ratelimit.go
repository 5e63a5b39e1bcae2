package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/jobingest/internal/api/response"
	"github.com/kiranshivaraju/jobingest/internal/cache"
)

const (
	defaultRequestsPerWindow = 6
	rateLimitWindow          = time.Minute
)

// RateLimit is a fixed-window limiter keyed by client IP and backed by the
// Redis cache. It fails open when the cache is unreachable.
type RateLimit struct {
	cache     cache.Cache
	perWindow int
}

// NewRateLimit creates a limiter allowing perWindow requests per minute per client.
func NewRateLimit(c cache.Cache, perWindow int) *RateLimit {
	if perWindow <= 0 {
		perWindow = defaultRequestsPerWindow
	}
	return &RateLimit{cache: c, perWindow: perWindow}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.cache == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := cache.TriggerRateLimitKey(ClientIP(r))
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateLimitWindow)
		if err != nil {
			slog.Warn("rate limit check failed, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.perWindow - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perWindow))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateLimitWindow).Unix(), 10))

		if count > int64(rl.perWindow) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many import requests, try again later", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
