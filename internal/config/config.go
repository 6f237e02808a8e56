package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Zone data source identifiers.
const (
	ZoneSourceBackend  = "backend"
	ZoneSourcePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	IdempotencyTTL     time.Duration

	ZoneSource             string
	CommerceBaseURL        string
	CommerceConsumerKey    string
	CommerceConsumerSecret string
	CommerceTimeout        time.Duration
	ZoneCacheTTL           time.Duration
	ZoneRefreshCron        string
	SessionTTL             time.Duration
	LockTTL                time.Duration

	FreeShippingThreshold decimal.Decimal
	FallbackShippingCost  decimal.Decimal
	DefaultDeliveryTime   string
	CODFee                decimal.Decimal
	PaymentFees           map[string]decimal.Decimal
	SecondaryCurrency     map[string]pricing.Conversion

	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitStrategy string

	RetryMaxAttempts    int
	RetryBase           time.Duration
	RetryJitter         float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	HealthReadyTimeout time.Duration
	ShutdownTimeout    time.Duration

	Obs    ObsConfig
	Worker WorkerConfig
}

// ObsConfig selects logging, metrics and tracing output.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	// MetricsBuckets is a CSV of latency bucket bounds in milliseconds.
	MetricsBuckets  string
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	SamplingRatio   float64
	ServiceVersion  string
}

// WorkerConfig tunes cmd/worker.
type WorkerConfig struct {
	Concurrency     int
	RefreshMaxRetry int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		ZoneSource:             strings.ToLower(valueOrDefault(k.String("ZONE_SOURCE"), ZoneSourceBackend)),
		CommerceBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("COMMERCE_BASE_URL")), "/"),
		CommerceConsumerKey:    k.String("COMMERCE_CONSUMER_KEY"),
		CommerceConsumerSecret: k.String("COMMERCE_CONSUMER_SECRET"),
		CommerceTimeout:        parseDuration(k.String("COMMERCE_TIMEOUT"), "5s"),
		ZoneCacheTTL:           parseDuration(k.String("ZONE_CACHE_TTL"), "10m"),
		ZoneRefreshCron:        valueOrDefault(k.String("ZONE_REFRESH_CRON"), "@every 5m"),
		SessionTTL:             parseDuration(k.String("SESSION_TTL"), "2h"),
		LockTTL:                parseDuration(k.String("SESSION_LOCK_TTL"), "5s"),

		DefaultDeliveryTime: valueOrDefault(k.String("DEFAULT_DELIVERY_TIME"), "2-4 business days"),

		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 60),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitStrategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),

		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "100ms"),
		RetryJitter:         parseFloat(k.String("RETRY_JITTER"), 0.2),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		HealthReadyTimeout: parseDuration(k.String("HEALTH_READY_TIMEOUT"), "500ms"),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),

		Obs: ObsConfig{
			LogFormat:        strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
			LogLevel:         strings.ToLower(valueOrDefault(k.String("OBS_LOG_LEVEL"), "info")),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), true),
			TracingExporter:  strings.ToLower(valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			ServiceVersion:   valueOrDefault(k.String("OBS_SERVICE_VERSION"), "dev"),
		},
		Worker: WorkerConfig{
			Concurrency:     parseInt(k.String("WORKER_CONCURRENCY"), 2),
			RefreshMaxRetry: parseInt(k.String("WORKER_REFRESH_MAX_RETRY"), 3),
		},
	}

	var err error
	if cfg.FreeShippingThreshold, err = parseMoney(k.String("FREE_SHIPPING_THRESHOLD"), "500"); err != nil {
		return nil, fmt.Errorf("FREE_SHIPPING_THRESHOLD: %w", err)
	}
	if cfg.FallbackShippingCost, err = parseMoney(k.String("FALLBACK_SHIPPING_COST"), "20"); err != nil {
		return nil, fmt.Errorf("FALLBACK_SHIPPING_COST: %w", err)
	}
	if cfg.CODFee, err = parseMoney(k.String("COD_FEE"), "10"); err != nil {
		return nil, fmt.Errorf("COD_FEE: %w", err)
	}
	if cfg.PaymentFees, err = parseFees(k.String("PAYMENT_FEES")); err != nil {
		return nil, fmt.Errorf("PAYMENT_FEES: %w", err)
	}
	if cfg.SecondaryCurrency, err = parseConversions(k.String("SECONDARY_CURRENCY")); err != nil {
		return nil, fmt.Errorf("SECONDARY_CURRENCY: %w", err)
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.ZoneSource {
	case ZoneSourceBackend:
		if cfg.CommerceBaseURL == "" {
			return nil, errors.New("COMMERCE_BASE_URL is required for the backend zone source")
		}
	case ZoneSourcePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres zone source")
		}
	default:
		return nil, fmt.Errorf("unsupported ZONE_SOURCE %q", cfg.ZoneSource)
	}

	return cfg, nil
}

// PricingConfig converts store settings into the engine configuration.
func (c *Config) PricingConfig() pricing.Config {
	fees := pricing.DefaultFees(c.CODFee)
	for method, fee := range c.PaymentFees {
		fees[method] = fee
	}
	return pricing.Config{
		FreeShippingThreshold: c.FreeShippingThreshold,
		FallbackShippingCost:  c.FallbackShippingCost,
		DefaultDeliveryTime:   c.DefaultDeliveryTime,
		Fees:                  fees,
		Conversions:           c.SecondaryCurrency,
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseMoney(value, fallback string) (decimal.Decimal, error) {
	return decimal.NewFromString(valueOrDefault(value, fallback))
}

// parseFees reads "method=amount,method=amount".
func parseFees(value string) (map[string]decimal.Decimal, error) {
	fees := map[string]decimal.Decimal{}
	for _, pair := range splitAndTrim(value) {
		method, amount, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid entry %q", pair)
		}
		fee, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("invalid amount for %s: %w", method, err)
		}
		fees[pricing.CanonicalPaymentMethod(method)] = fee
	}
	return fees, nil
}

// parseConversions reads "method=CUR:rate,method=CUR:rate".
func parseConversions(value string) (map[string]pricing.Conversion, error) {
	out := map[string]pricing.Conversion{}
	for _, pair := range splitAndTrim(value) {
		method, target, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid entry %q", pair)
		}
		currency, rateText, ok := strings.Cut(target, ":")
		if !ok {
			return nil, fmt.Errorf("invalid conversion %q, want CUR:rate", target)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rateText))
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", method, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", method)
		}
		out[pricing.CanonicalPaymentMethod(method)] = pricing.Conversion{
			Currency: strings.ToUpper(strings.TrimSpace(currency)),
			Rate:     rate,
		}
	}
	return out, nil
}

// MustLoad behaves like Load but panics on error. Used by command-line tools.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
