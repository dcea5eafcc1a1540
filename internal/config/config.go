// Package config loads runtime settings for the API, worker and tools.
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
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	AutoMigrate        bool
	MaxBodyBytes       int64
	SecurityHeaders    bool
	EnableHSTS         bool

	VATDefaultPercent decimal.Decimal
	LowStockThreshold int

	CartTTL               time.Duration
	HeldCartTTL           time.Duration
	CatalogCacheTTL       time.Duration
	IdempotencyTTL        time.Duration
	IdempotencyPendingTTL time.Duration
	IdempotencyWait       time.Duration
	LockTTL               time.Duration
	LockRetryBackoff      time.Duration
	LockMaxWait           time.Duration
	InventoryLockTimeout  time.Duration
	CommitRateLimit       string
	CommitRateLimitMode   string

	DebtSweepSpec   string
	DebtDefaultTerm time.Duration

	PrinterKind               string
	PrinterAddr               string
	ReceiptWidth              int
	ReceiptAsync              bool
	PrinterBreakerMinRequests int
	PrinterBreakerFailureRate float64
	PrinterBreakerOpenFor     time.Duration

	WorkerConcurrency int

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
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
		AutoMigrate:        parseBool(k.String("AUTO_MIGRATE")),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 64<<10)),
		SecurityHeaders:    parseBoolDefault(k.String("SECURE_HEADERS_ENABLE"), true),
		EnableHSTS:         parseBool(k.String("SECURE_HSTS_ENABLE")),

		LowStockThreshold: parseInt(k.String("LOW_STOCK_THRESHOLD"), 5),

		CartTTL:               parseDuration(k.String("CART_TTL"), "12h"),
		HeldCartTTL:           parseDuration(k.String("HELD_CART_TTL"), "72h"),
		CatalogCacheTTL:       parseDuration(k.String("CATALOG_CACHE_TTL"), "30s"),
		IdempotencyTTL:        parseDuration(k.String("IDEMPOTENCY_TTL"), "30s"),
		IdempotencyPendingTTL: parseDuration(k.String("IDEMPOTENCY_PENDING_TTL"), "30s"),
		IdempotencyWait:       parseDuration(k.String("IDEMPOTENCY_WAIT"), "3s"),
		LockTTL:               parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff:      parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		LockMaxWait:           parseDuration(k.String("LOCK_MAX_WAIT"), "2s"),
		InventoryLockTimeout:  parseDuration(k.String("INVENTORY_LOCK_TIMEOUT"), "2s"),
		CommitRateLimit:       valueOrDefault(k.String("COMMIT_RATE_LIMIT"), "120-M"),
		CommitRateLimitMode:   strings.ToLower(valueOrDefault(k.String("COMMIT_RATE_LIMIT_MODE"), "fixed")),

		DebtSweepSpec:   valueOrDefault(k.String("DEBT_SWEEP_SPEC"), "@every 15m"),
		DebtDefaultTerm: parseDuration(k.String("DEBT_DEFAULT_TERM"), "0s"),

		PrinterKind:               strings.ToLower(valueOrDefault(k.String("PRINTER_KIND"), "none")),
		PrinterAddr:               strings.TrimSpace(k.String("PRINTER_ADDR")),
		ReceiptWidth:              parseInt(k.String("RECEIPT_WIDTH"), 40),
		ReceiptAsync:              parseBool(k.String("RECEIPT_ASYNC")),
		PrinterBreakerMinRequests: parseInt(k.String("PRINTER_BREAKER_MIN_REQ"), 3),
		PrinterBreakerFailureRate: parseFloat(k.String("PRINTER_BREAKER_FAILURE_RATE"), 0.5),
		PrinterBreakerOpenFor:     parseDuration(k.String("PRINTER_BREAKER_OPEN_FOR"), "30s"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	vat, err := decimal.NewFromString(valueOrDefault(k.String("VAT_DEFAULT_PERCENT"), "18"))
	if err != nil || vat.IsNegative() || vat.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.New("VAT_DEFAULT_PERCENT must be a number between 0 and 100")
	}
	cfg.VATDefaultPercent = vat

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.PrinterKind {
	case "none", "stdout":
	case "usb", "network":
		if cfg.PrinterAddr == "" {
			return nil, fmt.Errorf("PRINTER_ADDR is required for PRINTER_KIND=%s", cfg.PrinterKind)
		}
	default:
		return nil, fmt.Errorf("unknown PRINTER_KIND %q", cfg.PrinterKind)
	}
	if cfg.CommitRateLimitMode != "fixed" && cfg.CommitRateLimitMode != "sliding" && cfg.CommitRateLimitMode != "off" {
		return nil, fmt.Errorf("unknown COMMIT_RATE_LIMIT_MODE %q", cfg.CommitRateLimitMode)
	}

	return cfg, nil
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

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
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
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
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
