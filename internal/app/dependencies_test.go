package app

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

func backendConfig(redisURL string) *config.Config {
	return &config.Config{
		RedisURL:            redisURL,
		ZoneSource:          config.ZoneSourceBackend,
		CommerceBaseURL:     "https://shop.example/wp-json/wc/v3",
		CommerceConsumerKey: "ck",
		CommerceTimeout:     time.Second,
		ZoneCacheTTL:        time.Minute,
		RetryMaxAttempts:    2,
		RetryBase:           time.Millisecond,
		CircuitMinRequests:  5,
		CircuitFailureRatio: 0.5,
		CircuitOpenFor:      time.Second,
	}
}

func TestNewBuildsBackendChain(t *testing.T) {
	mr := miniredis.RunT(t)
	deps, err := New(context.Background(), backendConfig("redis://"+mr.Addr()), zerolog.Nop(), Options{})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.Nil(t, deps.DB)
	require.NotNil(t, deps.Validator)
	require.Equal(t, zones.DefaultCacheKey, deps.Zones.Key)
	backend, ok := deps.Zones.Upstream.(*zones.BackendClient)
	require.True(t, ok)
	require.Equal(t, "ck", backend.ConsumerKey)

	loader := deps.ZoneLoader()
	require.Equal(t, config.ZoneSourceBackend, loader.Name)
	require.Equal(t, "https://shop.example/wp-json/wc/v3", deps.Coupons().BaseURL)
}

func TestNewThreadsMeterProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := backendConfig("redis://" + mr.Addr())

	deps, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.NoError(t, err)
	require.Nil(t, deps.MeterProvider)
	deps.Close()

	mp := noop.NewMeterProvider()
	deps, err = New(context.Background(), cfg, zerolog.Nop(), Options{MeterProvider: mp})
	require.NoError(t, err)
	require.Equal(t, mp, deps.MeterProvider)
	require.NoError(t, deps.Redis.Ping(context.Background()).Err())
	deps.Close()

	deps, err = New(context.Background(), cfg, zerolog.Nop(), Options{Metrics: true})
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	require.Equal(t, otel.GetMeterProvider(), deps.MeterProvider)
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), backendConfig("redis://"+addr), zerolog.Nop(), Options{})
	require.Error(t, err)
}

func TestNewZoneSourcePostgresNeedsPool(t *testing.T) {
	cfg := &config.Config{ZoneSource: config.ZoneSourcePostgres}
	_, err := NewZoneSource(cfg, nil, nil, zerolog.Nop())
	require.Error(t, err)

	cfg.ZoneSource = "ftp"
	_, err = NewZoneSource(cfg, nil, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestNewValidatorRequiresStructs(t *testing.T) {
	type inner struct {
		Name string `validate:"required"`
	}
	type outer struct {
		Inner inner `validate:"required"`
	}
	require.Error(t, NewValidator().Struct(outer{}))
}
