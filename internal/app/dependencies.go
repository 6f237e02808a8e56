package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/coupons"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/resilience"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

// Options tune dependency construction per binary.
type Options struct {
	// Migrate applies the zone schema when the postgres source is selected.
	Migrate bool
	Metrics bool
	// MeterProvider receives the Redis client metrics. Nil with Metrics set
	// means the global provider.
	MeterProvider metric.MeterProvider
}

// Dependencies enumerates the infrastructure shared by the api and worker binaries.
type Dependencies struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Redis         *redis.Client
	DB            *pgxpool.Pool
	Validator     *validator.Validate
	Commerce      resilience.HTTPClient
	Zones         *zones.Cache
	MeterProvider metric.MeterProvider
}

// New connects Redis (and Postgres for the postgres zone source) and builds
// the zone cache chain. Close releases everything New opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	mp := opts.MeterProvider
	if mp == nil && opts.Metrics {
		mp = otel.GetMeterProvider()
	}
	rdb, err := NewRedis(ctx, cfg.RedisURL, mp, logger)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{
		Config:        cfg,
		Logger:        logger,
		Redis:         rdb,
		Validator:     NewValidator(),
		Commerce:      NewCommerceHTTP(cfg, logger),
		MeterProvider: mp,
	}

	if cfg.ZoneSource == config.ZoneSourcePostgres {
		if opts.Migrate {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				deps.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.DB = pool
	}

	source, err := NewZoneSource(cfg, deps.Commerce, deps.DB, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Zones = &zones.Cache{
		Client:   rdb,
		Upstream: source,
		TTL:      cfg.ZoneCacheTTL,
		Key:      zones.DefaultCacheKey,
		Logger:   logger,
	}
	return deps, nil
}

// ZoneLoader returns the degrade-to-empty loader over the zone cache.
func (d *Dependencies) ZoneLoader() zones.Loader {
	return zones.Loader{Source: d.Zones, Name: d.Config.ZoneSource, Logger: d.Logger}
}

// Coupons returns the commerce backend coupon validator.
func (d *Dependencies) Coupons() *coupons.BackendClient {
	return &coupons.BackendClient{
		BaseURL:        d.Config.CommerceBaseURL,
		ConsumerKey:    d.Config.CommerceConsumerKey,
		ConsumerSecret: d.Config.CommerceConsumerSecret,
		HTTP:           d.Commerce,
		Logger:         d.Logger,
	}
}

// Close releases the connections opened by New.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// NewValidator returns the request validator used by the handlers.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// NewRedis parses url, instruments the client and pings it. Client metrics
// are only recorded when mp is set.
func NewRedis(ctx context.Context, url string, mp metric.MeterProvider, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if mp != nil {
		if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(mp)); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewCommerceHTTP builds the retrying, breaker-guarded client for commerce backend calls.
func NewCommerceHTTP(cfg *config.Config, logger zerolog.Logger) resilience.HTTPClient {
	breaker := resilience.NewBreaker(resilience.BreakerSettings{
		Target:       "commerce",
		MinRequests:  cfg.CircuitMinRequests,
		FailureRatio: cfg.CircuitFailureRatio,
		OpenFor:      cfg.CircuitOpenFor,
		Logger:       logger,
	})
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitter,
		Timeout:     cfg.CommerceTimeout,
	}
}

// NewZoneSource selects the upstream zone source for cfg.ZoneSource.
func NewZoneSource(cfg *config.Config, httpClient zones.Doer, pool *pgxpool.Pool, logger zerolog.Logger) (zones.Source, error) {
	switch cfg.ZoneSource {
	case config.ZoneSourceBackend:
		return &zones.BackendClient{
			BaseURL:        cfg.CommerceBaseURL,
			ConsumerKey:    cfg.CommerceConsumerKey,
			ConsumerSecret: cfg.CommerceConsumerSecret,
			HTTP:           httpClient,
			Logger:         logger,
		}, nil
	case config.ZoneSourcePostgres:
		if pool == nil {
			return nil, errors.New("postgres zone source requires a database pool")
		}
		return zones.Store{Q: pool}, nil
	default:
		return nil, fmt.Errorf("unsupported zone source %q", cfg.ZoneSource)
	}
}
