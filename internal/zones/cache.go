package zones

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultCacheKey is the Redis key holding the cached snapshot.
const DefaultCacheKey = "pricing:zones:snapshot"

// Cache keeps a JSON snapshot of an upstream Source in Redis.
type Cache struct {
	Client   *redis.Client
	Upstream Source
	TTL      time.Duration
	Key      string
	Logger   zerolog.Logger
}

// Load returns the cached snapshot, loading and storing it on a miss. Redis
// errors fall back to the upstream source.
func (c *Cache) Load(ctx context.Context) (Snapshot, error) {
	if c.Client != nil {
		data, err := c.Client.Get(ctx, c.key()).Bytes()
		switch {
		case err == nil:
			var snap Snapshot
			if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil {
				return snap, nil
			}
			c.Logger.Warn().Str("key", c.key()).Msg("zone_cache_corrupt")
		case !errors.Is(err, redis.Nil):
			c.Logger.Warn().Err(err).Msg("zone_cache_read_failed")
		}
	}
	return c.Refresh(ctx)
}

// Refresh loads from the upstream source and overwrites the cached snapshot.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	if c.Upstream == nil {
		return Snapshot{}, errors.New("zones: cache upstream not configured")
	}
	snap, err := c.Upstream.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if c.Client == nil || c.TTL <= 0 {
		return snap, nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return snap, err
	}
	if err := c.Client.Set(ctx, c.key(), data, c.TTL).Err(); err != nil {
		c.Logger.Warn().Err(err).Msg("zone_cache_write_failed")
	}
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Del(ctx, c.key()).Err()
}

func (c *Cache) key() string {
	if c.Key == "" {
		return DefaultCacheKey
	}
	return c.Key
}
