package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when MaxWait elapses before the lock is free.
var ErrNotAcquired = errors.New("lock: not acquired")

// Both scripts act only while the key still holds the caller's token, so a
// lease that expired and was taken by someone else is left alone.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker provides a Redis-backed mutual exclusion per key.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a held key. Zero waits until
	// the context is done.
	MaxWait time.Duration
	Prefix  string
	// Renew keeps extending the lease while the callback runs.
	Renew bool
}

// Key namespaces a resource identifier under the locker prefix.
func (l Locker) Key(parts ...string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "lock"
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// WithLock runs fn while holding key and releases the lock when fn returns.
// fn receives the caller context, not the wait deadline.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	token, err := l.acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer l.release(context.WithoutCancel(ctx), key, token)

	if l.Renew {
		stop := l.renew(ctx, key, token, ttl)
		defer stop()
	}
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.MaxWait, ErrNotAcquired)
		defer cancel()
	}

	token := uuid.NewString()
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if ok {
			return token, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", waitErr(ctx)
			}
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", waitErr(ctx)
		case <-ticker.C:
		}
	}
}

// waitErr maps the MaxWait deadline to ErrNotAcquired.
func waitErr(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrNotAcquired) {
		return ErrNotAcquired
	}
	return ctx.Err()
}

// renew extends the lease every third of ttl until the returned func is called.
func (l Locker) renew(ctx context.Context, key, token string, ttl time.Duration) func() {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := extendScript.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int()
				if err != nil || held == 0 {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	_ = releaseScript.Run(ctx, l.R, []string{key}, token).Err()
}
