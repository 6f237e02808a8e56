package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/app"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(bootCtx, cfg, logger, app.Options{Migrate: true})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	taskLogger := asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Logger:          taskLogger,
		ShutdownTimeout: 10 * time.Second,
		Queues:          map[string]int{"default": 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(zones.TaskRefresh, zones.RefreshHandler{Cache: deps.Zones, Logger: logger})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: taskLogger, Location: time.UTC})
	entryID, err := scheduler.Register(cfg.ZoneRefreshCron, zones.NewRefreshTask(),
		asynq.Unique(cfg.ZoneCacheTTL),
		asynq.MaxRetry(cfg.Worker.RefreshMaxRetry),
		asynq.Timeout(cfg.CommerceTimeout*time.Duration(cfg.RetryMaxAttempts+1)),
	)
	if err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.ZoneRefreshCron).Msg("register zone refresh")
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().Str("entry", entryID).Str("cron", cfg.ZoneRefreshCron).Str("source", cfg.ZoneSource).Msg("worker starting")

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
