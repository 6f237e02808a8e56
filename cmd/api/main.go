package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/app"
	"github.com/noah-isme/toko-pricing/internal/checkout"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/health"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/ratelimit"
	"github.com/noah-isme/toko-pricing/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracing := cfg.Obs.TracingEnabled
	if tracing {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    "toko-pricing-api",
			ServiceVersion: cfg.Obs.ServiceVersion,
			Endpoint:       cfg.Obs.OTLPEndpoint,
			Exporter:       cfg.Obs.TracingExporter,
			SamplingRatio:  cfg.Obs.SamplingRatio,
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracing = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	deps, err := app.New(bootCtx, cfg, logger, app.Options{Migrate: true, Metrics: cfg.Obs.MetricsEnabled})
	if err != nil {
		return fmt.Errorf("initialise dependencies: %w", err)
	}
	defer deps.Close()
	if _, err := deps.Zones.Load(bootCtx); err != nil {
		logger.Warn().Err(err).Str("source", cfg.ZoneSource).Msg("zone_cache_warmup_failed")
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceConfig{
		Engine:   pricing.NewEngine(cfg.PricingConfig()),
		Zones:    deps.ZoneLoader(),
		Coupons:  deps.Coupons(),
		Sessions: &checkout.SessionStore{Client: deps.Redis, TTL: cfg.SessionTTL},
		Locker:   lock.Locker{R: deps.Redis, RetryBackoff: 25 * time.Millisecond, MaxWait: cfg.LockTTL, Renew: true},
		LockTTL:  cfg.LockTTL,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initialise checkout service: %w", err)
	}
	limiter, err := ratelimit.New(cfg.RateLimitStrategy, deps.Redis, "rl")
	if err != nil {
		return fmt.Errorf("initialise rate limiter: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: newRouter(routerDeps{
			cfg:     cfg,
			deps:    deps,
			logger:  logger,
			tracing: tracing,
			limiter: limiter,
			checkout: checkout.NewHandler(checkout.HandlerConfig{
				Service:  checkoutSvc,
				Validate: deps.Validator,
				Logger:   logger,
			}),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("zone_source", cfg.ZoneSource).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownServer(srv, logger, cfg.ShutdownTimeout)
	return nil
}

type routerDeps struct {
	cfg      *config.Config
	deps     *app.Dependencies
	logger   zerolog.Logger
	tracing  bool
	limiter  ratelimit.Limiter
	checkout *checkout.Handler
}

func newRouter(d routerDeps) http.Handler {
	cfg := d.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestInfoMiddleware)
	if d.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		metrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Use(obs.RequestLogger{Logger: d.logger, Quiet: []string{"/health/live", "/metrics"}}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	probes := map[string]health.Probe{"redis": health.RedisProbe(d.deps.Redis)}
	if d.deps.DB != nil {
		probes["postgres"] = health.PoolProbe(d.deps.DB)
	}
	hh := health.Handler{Probes: probes, Timeout: cfg.HealthReadyTimeout}
	r.Get("/health/live", hh.Live)
	r.Get("/health/ready", hh.Ready)

	limit := func(scope string) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Limiter: d.limiter,
			Config: ratelimit.Config{
				Key:    ratelimit.ClientKey(scope),
				Window: cfg.RateLimitWindow,
				Max:    cfg.RateLimitMax,
			},
			OnError: func(err error) {
				d.logger.Warn().Err(err).Str("scope", scope).Msg("rate_limit_unavailable")
			},
		}.Middleware
	}
	idem := common.Idem{R: d.deps.Redis, TTL: cfg.IdempotencyTTL}
	h := d.checkout

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.Headers{
			Enable:                true,
			EnableHSTS:            cfg.AppEnv == "production",
			TrustForwardedProto:   true,
			HSTSIncludeSubdomains: true,
			NoStore:               true,
		}.Middleware)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

		v.With(limit("pricing-quote")).Post("/pricing/quote", h.Quote)
		v.With(limit("shipping-resolve")).Post("/shipping/resolve", h.ResolveShipping)

		v.Route("/checkout/sessions", func(s chi.Router) {
			s.With(idem.Middleware).Post("/", h.CreateSession)
			s.Get("/{id}", h.GetSession)
			s.Patch("/{id}", h.UpdateSession)
			s.Post("/{id}/coupon", h.ApplyCoupon)
			s.Delete("/{id}/coupon", h.RemoveCoupon)
			s.Get("/{id}/quote", h.SessionQuote)
			s.Post("/{id}/verify", h.Verify)
			s.With(idem.Middleware).Post("/{id}/submit", h.Submit)
		})
	})
	return r
}

// shutdownServer fails readiness, then waits for in-flight requests.
func shutdownServer(srv *http.Server, logger zerolog.Logger, timeout time.Duration) {
	health.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
		return
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
