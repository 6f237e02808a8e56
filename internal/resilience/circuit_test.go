package resilience_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerTransitions(t *testing.T) {
	clock := newClock()
	breaker := resilience.NewBreaker(resilience.BreakerSettings{
		Target:      "transitions",
		MinRequests: 2,
		OpenFor:     time.Second,
		Now:         clock.Now,
	})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State(ctx))

	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx), "breaker should move to half-open after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe may be in flight")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State(ctx))
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := newClock()
	breaker := resilience.NewBreaker(resilience.BreakerSettings{Target: "probe", OpenFor: time.Second, Now: clock.Now})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State(ctx))
}

func TestBreakerNeedsConsecutiveProbes(t *testing.T) {
	clock := newClock()
	breaker := resilience.NewBreaker(resilience.BreakerSettings{Target: "probes", OpenFor: time.Second, Probes: 2, Now: clock.Now})
	ctx := context.Background()

	breaker.Allow(ctx)
	breaker.Report(ctx, false)
	clock.Advance(time.Second)

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, true)
	require.Equal(t, resilience.HalfOpen, breaker.State(ctx))
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State(ctx))
}

func TestBreakerForgetsOldFailures(t *testing.T) {
	clock := newClock()
	breaker := resilience.NewBreaker(resilience.BreakerSettings{
		Target:       "window",
		MinRequests:  3,
		FailureRatio: 0.6,
		Window:       10 * time.Second,
		Now:          clock.Now,
	})
	ctx := context.Background()

	breaker.Allow(ctx)
	breaker.Report(ctx, false)
	breaker.Allow(ctx)
	breaker.Report(ctx, false)

	clock.Advance(11 * time.Second)
	breaker.Allow(ctx)
	breaker.Report(ctx, true)
	breaker.Allow(ctx)
	breaker.Report(ctx, true)
	breaker.Allow(ctx)
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Closed, breaker.State(ctx), "failures outside the window no longer count")
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}
