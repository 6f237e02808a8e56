package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Strategy names accepted by New.
const (
	StrategySliding = "sliding"
	StrategyFixed   = "fixed"
)

// Limiter decides whether one more event for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// New returns the Redis-backed limiter for strategy.
func New(strategy string, client *redis.Client, prefix string) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategySliding:
		if client == nil {
			return SlidingWindow{Prefix: prefix}, nil
		}
		return SlidingWindow{Client: client, Prefix: prefix}, nil
	case StrategyFixed:
		return NewFixedWindow(client, prefix)
	default:
		return nil, fmt.Errorf("ratelimit: unknown strategy %q", strategy)
	}
}

// ClientKey keys requests by client IP under scope.
func ClientKey(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		return scope + ":" + common.ClientIP(r)
	}
}
