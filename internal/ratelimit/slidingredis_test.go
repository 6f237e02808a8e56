package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newSliding(t *testing.T) (SlidingWindow, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return SlidingWindow{Client: client, Prefix: "rl:", Now: func() time.Time { return now }}, mr, &now
}

func TestSlidingWindowRejectsOverLimit(t *testing.T) {
	lim, _, now := newSliding(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, remaining, reset, err := lim.Allow(ctx, "quote:203.0.113.9", 2*time.Second, 2)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, 1-i, remaining)
		require.Equal(t, now.Add(2*time.Second), reset)
	}

	allowed, remaining, _, err := lim.Allow(ctx, "quote:203.0.113.9", 2*time.Second, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	allowed, _, _, err = lim.Allow(ctx, "quote:198.51.100.1", 2*time.Second, 2)
	require.NoError(t, err)
	require.True(t, allowed, "keys are counted independently")
}

func TestSlidingWindowSlides(t *testing.T) {
	lim, _, now := newSliding(t)
	ctx := context.Background()
	window := 10 * time.Second

	first := *now
	_, _, _, err := lim.Allow(ctx, "k", window, 2)
	require.NoError(t, err)
	*now = now.Add(6 * time.Second)
	_, _, _, err = lim.Allow(ctx, "k", window, 2)
	require.NoError(t, err)

	*now = now.Add(time.Second)
	allowed, _, reset, err := lim.Allow(ctx, "k", window, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, first.Add(window), reset, "reset follows the oldest counted event")

	// the first event has left the window; the rejected one was never counted
	*now = first.Add(window + time.Millisecond)
	allowed, remaining, _, err := lim.Allow(ctx, "k", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Zero(t, remaining)
}

func TestSlidingWindowExpiresIdleKeys(t *testing.T) {
	lim, mr, _ := newSliding(t)
	ctx := context.Background()

	_, _, _, err := lim.Allow(ctx, "idle", time.Second, 1)
	require.NoError(t, err)
	require.True(t, mr.Exists("rl:idle"))

	mr.FastForward(time.Second)
	require.False(t, mr.Exists("rl:idle"))
}

func TestSlidingWindowWithoutClientAllows(t *testing.T) {
	allowed, remaining, _, err := SlidingWindow{}.Allow(context.Background(), "k", time.Second, 3)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 3, remaining)
}
