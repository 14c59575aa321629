package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fuel-pricing/adapters/datasource"
	"fuel-pricing/adapters/fxcache"
	"fuel-pricing/adapters/postgres"
	"fuel-pricing/adapters/storage"
	"fuel-pricing/core/engine"
	"fuel-pricing/core/fx"
	"fuel-pricing/core/record"
	"fuel-pricing/core/types"
	"fuel-pricing/internal/config"
	"fuel-pricing/internal/logging"
	"fuel-pricing/internal/metrics"
)

// appOptions select what a command needs wired
type appOptions struct {
	rulesPath   string
	withEngine  bool
	metricsFile string
}

// app holds the wired backends of one command invocation
type app struct {
	cfg    *config.Config
	engine *engine.Engine
	store  record.Store

	pool        *pgxpool.Pool
	registry    *prometheus.Registry
	metricsFile string
	closers     []func()
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	a := &app{cfg: config.Get(), metricsFile: opts.metricsFile}
	if err := a.wireStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if !opts.withEngine {
		return a, nil
	}
	if err := a.wireEngine(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) database(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := postgres.NewPool(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}

func (a *app) wireStore(ctx context.Context) error {
	if storage.Backend(a.cfg.Storage.Backend) == storage.BackendPostgres {
		pool, err := a.database(ctx)
		if err != nil {
			return err
		}
		a.store = postgres.NewRecordRepository(pool)
		return nil
	}
	store, err := storage.StoreFactory(storage.Backend(a.cfg.Storage.Backend), map[string]string{"path": a.cfg.Storage.Path})
	if err != nil {
		return err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}
	a.store = store
	return nil
}

func (a *app) wireEngine(ctx context.Context, opts appOptions) error {
	logger := logging.Logger

	source, err := a.ruleSource(ctx, opts.rulesPath)
	if err != nil {
		return err
	}

	provider, err := a.fxProvider(ctx, logger)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithProvider(provider),
		engine.WithStore(a.store),
		engine.WithLogger(logger),
		engine.WithRoundingPlaces(a.cfg.Pricing.RoundingPlaces),
		engine.WithOutputUnit(a.cfg.OutputUnit()),
		engine.WithMaxCandidates(a.cfg.Pricing.MaxCandidates),
	}
	if a.pool != nil && storage.Backend(a.cfg.Storage.Backend) == storage.BackendPostgres {
		engineOpts = append(engineOpts, engine.WithTxRunner(postgres.NewTxRunner(a.pool)))
	}
	if a.cfg.Metrics.Enabled || a.metricsFile != "" {
		a.registry = prometheus.NewRegistry()
		engineOpts = append(engineOpts, engine.WithMetrics(metrics.New(a.cfg.Metrics.Namespace, a.registry)))
	}

	a.engine = engine.New(source, engineOpts...)
	logger.Debug("engine wired",
		zap.String("storage", a.cfg.Storage.Backend),
		zap.String("fx", a.cfg.FX.Provider))
	return nil
}

// ruleSource prefers a rules file and falls back to the database
func (a *app) ruleSource(ctx context.Context, path string) (types.RuleDataSource, error) {
	if path == "" {
		path = a.cfg.Pricing.RulesPath
	}
	if path != "" {
		return datasource.Load(path)
	}
	if a.cfg.Database.URL == "" {
		return nil, errors.New("no rule source: set --rules, pricing.rules_path or database.url")
	}
	pool, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.NewRuleSource(pool), nil
}

func (a *app) fxProvider(ctx context.Context, logger *zap.Logger) (fx.Provider, error) {
	rates, err := a.cfg.FX.Rates()
	if err != nil {
		return nil, err
	}
	static, err := fx.NewStaticProvider(rates, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("static rates: %w", err)
	}
	if a.cfg.FX.Provider != "redis" {
		return static, nil
	}

	rc, err := fxcache.Connect(ctx, a.cfg.FX.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rc.Close() })
	return fxcache.New(static, rc, fxcache.WithTTL(a.cfg.FX.CacheTTL), fxcache.WithLogger(logger)), nil
}

// Close flushes metrics and releases connections
func (a *app) Close() {
	if a.registry != nil && a.metricsFile != "" {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			logging.Warn("failed to write metrics textfile", zap.String("path", a.metricsFile), zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
