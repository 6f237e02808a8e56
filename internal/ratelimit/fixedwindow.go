package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow counts events per fixed period using the ulule limiter Redis store.
type FixedWindow struct {
	store limiter.Store
}

// NewFixedWindow builds a fixed window limiter over client.
func NewFixedWindow(client *redis.Client, prefix string) (*FixedWindow, error) {
	if prefix == "" {
		prefix = limiter.DefaultPrefix
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	if err != nil {
		return nil, err
	}
	return &FixedWindow{store: store}, nil
}

// Allow increments the counter for key in the current period.
func (f *FixedWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if f == nil || f.store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(f.store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
