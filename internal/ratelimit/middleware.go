package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces Config in front of the wrapped handler. When the limiter
// itself fails the request is let through and OnError is told.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Config.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		h.writeHeaders(w.Header(), remaining, resetAt)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		wait := retryAfterSeconds(resetAt)
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		obs.IncCounter(obs.RateLimitedTotal, obs.RoutePatternFromContext(r.Context()))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many pricing requests, slow down",
			map[string]int{"retryAfterSeconds": wait})
	})
}

func (h Handler) writeHeaders(headers http.Header, remaining int, resetAt time.Time) {
	headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// retryAfterSeconds rounds up so clients never retry before the reset.
func retryAfterSeconds(resetAt time.Time) int {
	secs := math.Ceil(time.Until(resetAt).Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}
