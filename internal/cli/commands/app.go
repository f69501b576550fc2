package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/cli/config"
	"github.com/conduit-lang/querycache/internal/metrics"
	"github.com/conduit-lang/querycache/internal/orm/crud"
	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/schema"
	"github.com/conduit-lang/querycache/internal/orm/transaction"
)

// ErrMissingDatabaseURL is returned when neither the config file, the
// environment nor DATABASE_URL names a database
var ErrMissingDatabaseURL = errors.New("database.url is required (set QUERYCACHE_DATABASE_URL or DATABASE_URL)")

// App is the wired query and cache stack used by every command
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *sql.DB
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Cache       *cache.Facade
	Catalog     *schema.Catalog
	Invalidator *invalidation.Coordinator
	Tx          *transaction.Manager
	Ops         *crud.Operations

	closers []func() error
}

// LoadApp opens the configured database and wires the stack over it
func LoadApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, &configError{err: err}
	}

	db, err := OpenDatabase(ctx, cfg.Database)
	if err != nil {
		_ = logger.Sync()
		if errors.Is(err, ErrMissingDatabaseURL) {
			return nil, &configError{err: err}
		}
		return nil, err
	}

	app, err := NewApp(cfg, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	app.closers = append(app.closers, db.Close)
	return app, nil
}

// OpenDatabase opens a pgx-backed *sql.DB, applies the pool settings and
// verifies the connection
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, ErrMissingDatabaseURL
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewApp wires the cache, catalog, invalidation and CRUD layers over db.
// With redis.addr set, the in-process cache fronts Redis; otherwise it is the
// only tier.
func NewApp(cfg *config.Config, logger *zap.Logger, db *sql.DB) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "querycache"),
	)
	m := metrics.New(registry)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Registry: registry,
		Metrics:  m,
	}

	cacheConfig := cache.CacheConfig{
		DefaultTTL:    cfg.Cache.QueryTTL,
		Prefix:        cfg.Cache.Prefix,
		SweepInterval: time.Minute,
	}

	local := cache.NewMemoryCacheWithConfig(cacheConfig)
	app.closers = append(app.closers, local.Close)

	var backend cache.Cache = local
	if cfg.Redis.Addr != "" {
		remote, err := cache.NewRedisCacheWithConfig(cache.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: 5 * time.Second,
			CacheConfig: cacheConfig,
		})
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		app.closers = append(app.closers, remote.Close)
		backend = cache.NewTiered(local, remote, cfg.Cache.LocalTTL)
		logger.Info("cache tiers ready", zap.String("redis", cfg.Redis.Addr), zap.Duration("local_ttl", cfg.Cache.LocalTTL))
	} else {
		logger.Info("cache tiers ready", zap.String("redis", "disabled"))
	}

	app.Cache = cache.NewFacade(backend, logger, m)

	app.Catalog = schema.NewCatalog(db, app.Cache, schema.Config{
		SchemaName:    cfg.Schema.Name,
		TTL:           cfg.Schema.TTL,
		VersionColumn: cfg.Schema.VersionColumn,
	}, logger, m)

	var coordinatorOpts []invalidation.Option
	if cfg.Cache.AsyncInvalidation {
		coordinatorOpts = append(coordinatorOpts, invalidation.WithAsync())
	}
	app.Invalidator = invalidation.NewCoordinator(app.Cache, logger, m, coordinatorOpts...)

	app.Tx = transaction.NewManager(db, logger)

	app.Ops = crud.NewOperations(db, app.Catalog,
		crud.WithCache(app.Cache),
		crud.WithInvalidator(app.Invalidator),
		crud.WithTransactionManager(app.Tx),
		crud.WithConfig(crud.Config{
			CacheTTL:         cfg.Cache.QueryTTL,
			DefaultPageLimit: cfg.Query.DefaultPageLimit,
			MaxPageLimit:     cfg.Query.MaxPageLimit,
			BatchSize:        cfg.Query.BatchSize,
		}),
		crud.WithLogger(logger),
		crud.WithMetrics(m),
	)

	return app, nil
}

// TransactionOptions turns the transaction section into Run options
func (a *App) TransactionOptions() (transaction.Options, error) {
	level, err := a.Config.Transaction.IsolationLevel()
	if err != nil {
		return transaction.Options{}, err
	}
	return transaction.Options{
		Timeout:         a.Config.Transaction.Timeout,
		Isolation:       level,
		CancelOnTimeout: a.Config.Transaction.CancelOnTimeout,
	}, nil
}

// Close waits for pending invalidations and releases resources in reverse
// order of acquisition
func (a *App) Close() error {
	a.Invalidator.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
