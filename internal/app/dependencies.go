// Package app wires the shared services used by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/retail-pos/internal/cart"
	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/checkout"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/config"
	"github.com/noah-isme/retail-pos/internal/db"
	"github.com/noah-isme/retail-pos/internal/debt"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/inventory"
	"github.com/noah-isme/retail-pos/internal/lock"
	"github.com/noah-isme/retail-pos/internal/obs"
	"github.com/noah-isme/retail-pos/internal/ratelimit"
	"github.com/noah-isme/retail-pos/internal/receipt"
	"github.com/noah-isme/retail-pos/internal/resilience"
	"github.com/noah-isme/retail-pos/internal/tax"
)

// Dependencies holds the services shared by the binaries. Handlers and task
// handlers are built from these fields; nothing here is global.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Validator *validator.Validate
	Locker    *lock.Locker

	Catalog  catalog.Reader
	Search   catalog.Searcher
	Engine   *cart.Engine
	Carts    *cart.Store
	Events   *events.Bus
	Sales    checkout.PostgresRepository
	Pipeline *checkout.Pipeline
	Debts    *debt.Ledger

	Printer  receipt.Printer
	Breaker  *resilience.Breaker
	Receipts *receipt.Notifier

	TaskClient *asynq.Client
	Meter      metric.Meter
}

// OpenPostgres connects a traced pgx pool and pings it.
func OpenPostgres(ctx context.Context, cfg *config.Config, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects an instrumented Redis client and pings it.
func OpenRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RunMigrations applies the embedded migrations when AUTO_MIGRATE is set.
func RunMigrations(cfg *config.Config, logger zerolog.Logger) error {
	if !cfg.AutoMigrate {
		return nil
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info().Msg("migrations applied")
	return nil
}

// TaskRedisOpt returns the asynq connection options for the configured Redis.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}

// Build wires the domain services on top of an open pool and Redis client.
func Build(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*Dependencies, error) {
	if pool == nil || rdb == nil {
		return nil, errors.New("app: database and redis are required")
	}
	d := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		DB:        pool,
		Redis:     rdb,
		Validator: common.NewValidator(),
		Locker: &lock.Locker{
			R:            rdb,
			RetryBackoff: cfg.LockRetryBackoff,
			MaxWait:      cfg.LockMaxWait,
		},
		Meter: otel.Meter("github.com/noah-isme/retail-pos"),
	}

	store := catalog.Postgres{DB: pool}
	resolver := tax.NewResolver(cfg.VATDefaultPercent)
	productCache := catalog.NewCache(rdb, cfg.CatalogCacheTTL)
	d.Search = store
	d.Catalog = catalog.Cached{
		Next:   store,
		Cache:  productCache,
		Logger: obs.Component(logger, "catalog"),
	}
	d.Engine = &cart.Engine{Catalog: d.Catalog, Tax: resolver}
	d.Carts = &cart.Store{R: rdb, TTL: cfg.CartTTL, HeldTTL: cfg.HeldCartTTL}

	taskOpt, err := TaskRedisOpt(cfg)
	if err != nil {
		return nil, err
	}
	d.TaskClient = asynq.NewClient(taskOpt)

	if err := d.buildReceipts(cfg, logger); err != nil {
		return nil, err
	}
	d.Events = &events.Bus{Store: events.Postgres{DB: pool}}
	switch {
	case d.Receipts == nil:
	case cfg.ReceiptAsync:
		d.Events.Scheduler = receipt.Scheduler{Client: d.TaskClient}
	default:
		d.Events.Notifiers = append(d.Events.Notifiers, d.Receipts)
	}

	d.Debts = &debt.Ledger{
		Store:   debt.NewPostgres(pool),
		Locker:  d.Locker,
		LockTTL: cfg.LockTTL,
		Events:  d.Events,
		Logger:  obs.Component(logger, "debt"),
	}
	d.Sales = checkout.PostgresRepository{
		Pool:      pool,
		DB:        pool,
		Inventory: inventory.Postgres{DB: pool, LockTimeout: cfg.InventoryLockTimeout},
	}
	d.Pipeline = &checkout.Pipeline{
		Catalog: store,
		Stock:   productCache,
		Tax:     resolver,
		Sales:   d.Sales,
		Idem: checkout.RedisIdempotency{
			R:          rdb,
			TTL:        cfg.IdempotencyTTL,
			PendingTTL: cfg.IdempotencyPendingTTL,
		},
		Debts:           d.Debts,
		Events:          d.Events,
		Validate:        d.Validator,
		Logger:          obs.Component(logger, "checkout"),
		IdemWait:        cfg.IdempotencyWait,
		DefaultDebtTerm: cfg.DebtDefaultTerm,
	}

	if err := d.observePool(); err != nil {
		logger.Warn().Err(err).Msg("register pool instruments")
	}
	return d, nil
}

func (d *Dependencies) buildReceipts(cfg *config.Config, logger zerolog.Logger) error {
	printer, err := receipt.NewPrinter(cfg.PrinterKind, cfg.PrinterAddr)
	if err != nil {
		return err
	}
	if printer == nil {
		return nil
	}
	receiptLogger := obs.Component(logger, "receipt")
	d.Printer = printer
	d.Breaker = resilience.NewBreaker(cfg.PrinterBreakerMinRequests, cfg.PrinterBreakerFailureRate, cfg.PrinterBreakerOpenFor).
		WithTarget("printer").
		WithLogger(receiptLogger)
	d.Receipts = &receipt.Notifier{
		Printer: printer,
		Breaker: d.Breaker,
		Width:   cfg.ReceiptWidth,
		Logger:  receiptLogger,
	}
	return nil
}

// observePool reports pgx pool usage through the OpenTelemetry meter.
func (d *Dependencies) observePool() error {
	pool := d.DB
	_, err := d.Meter.Int64ObservableGauge("pos.db.pool.acquired_connections",
		metric.WithDescription("Connections currently checked out of the pgx pool."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(pool.Stat().AcquiredConns()))
			return nil
		}),
	)
	if err != nil {
		return err
	}
	_, err = d.Meter.Int64ObservableGauge("pos.db.pool.idle_connections",
		metric.WithDescription("Idle connections held by the pgx pool."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(pool.Stat().IdleConns()))
			return nil
		}),
	)
	return err
}

// CommitLimiter builds the rate-limit middleware for the commit endpoint.
// Mode "off" returns nil.
func CommitLimiter(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.CommitRateLimitMode == "off" {
		return nil, nil
	}
	window, max, err := ratelimit.ParseRate(cfg.CommitRateLimit)
	if err != nil {
		return nil, fmt.Errorf("parse COMMIT_RATE_LIMIT: %w", err)
	}
	var allower ratelimit.Allower
	switch cfg.CommitRateLimitMode {
	case "sliding":
		allower = ratelimit.Sliding{Client: rdb, Prefix: "ratelimit:commit:"}
	default:
		fixed, err := ratelimit.NewRedisFixed(rdb, "ratelimit:commit")
		if err != nil {
			return nil, fmt.Errorf("init commit limiter: %w", err)
		}
		allower = fixed
	}
	h := ratelimit.Handler{
		Limiter: allower,
		Config:  ratelimit.Config{Key: ratelimit.ByOperator, Window: window, Max: max},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("commit rate limiter unavailable")
		},
	}
	return h.Middleware, nil
}

// Close releases the task client and printer. The pool and Redis client are
// owned by the caller.
func (d *Dependencies) Close() error {
	var errs []error
	if d.TaskClient != nil {
		errs = append(errs, d.TaskClient.Close())
	}
	if d.Printer != nil {
		errs = append(errs, d.Printer.Close())
	}
	return errors.Join(errs...)
}
