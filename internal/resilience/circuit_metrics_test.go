package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	const target = "commerce-zones"
	clock := newClock()
	breaker := resilience.NewBreaker(resilience.BreakerSettings{Target: target, OpenFor: 20 * time.Millisecond, Now: clock.Now})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	require.False(t, breaker.Allow(ctx))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerRejected.WithLabelValues(target)))

	clock.Advance(20 * time.Millisecond)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)))

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues(target)))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, "half_open", "closed")))
}
