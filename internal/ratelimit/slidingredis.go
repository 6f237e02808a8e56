package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims events older than the window, then records the new
// event only when the limit has not been reached. It returns
// {allowed, count, oldestScore}; scores are unix microseconds.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, ARGV[5])

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] == nil then
	return {allowed, count, tostring(now)}
end
return {allowed, count, oldest[2]}
`)

// SlidingWindow limits events over a rolling window kept in a Redis sorted
// set. Rejected events are not recorded, so a client that keeps retrying is
// admitted again as soon as its oldest accepted event leaves the window.
type SlidingWindow struct {
	Client redis.Scripter
	Prefix string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Allow registers an event for key when it fits and reports the remaining
// budget together with the time the oldest counted event expires.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	ttl := window.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMicro(), window.Microseconds(), max, uuid.NewString(), ttl).Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	reset := now.Add(window)
	if raw, ok := res[2].(string); ok {
		if micros, err := strconv.ParseFloat(raw, 64); err == nil {
			reset = time.UnixMicro(int64(micros)).In(now.Location()).Add(window)
		}
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return allowed == 1, remaining, reset, nil
}
