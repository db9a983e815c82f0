// Package app wires configuration, stores, provider adapters, suite
// engines, and the scheduler into a runnable benchmark daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/cache"
	"github.com/benchlab/stupidmeter/codegen"
	"github.com/benchlab/stupidmeter/internal/config"
	"github.com/benchlab/stupidmeter/observer"
	"github.com/benchlab/stupidmeter/provider/anthropic"
	"github.com/benchlab/stupidmeter/provider/gemini"
	"github.com/benchlab/stupidmeter/provider/openaicompat"
	"github.com/benchlab/stupidmeter/sandbox"
	"github.com/benchlab/stupidmeter/store/postgres"
	"github.com/benchlab/stupidmeter/store/sqlite"
	"github.com/benchlab/stupidmeter/toolcall"
)

// cleanupEvery is the cadence of the orphan-sandbox sweep while the
// daemon runs. Half the sandbox max age, so nothing lingers long.
const cleanupEvery = 30 * time.Minute

// App is the assembled benchmark orchestrator.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     stupidmeter.Store
	pool      *pgxpool.Pool
	providers map[stupidmeter.Vendor]stupidmeter.Provider
	sandbox   *sandbox.Manager
	cache     *cache.Cache
	scheduler *stupidmeter.Scheduler

	obsShutdown func(context.Context) error
}

// New assembles the application from config. Vendors without an API key
// get no adapter; the suites record the no-key sentinel for their models.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = stupidmeter.NopLogger()
	}
	a := &App{cfg: cfg, logger: logger}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var err error
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("app: observer init: %w", err)
		}
		a.obsShutdown = shutdown
	}

	a.providers = buildProviders(cfg.Providers, inst)

	mgr, err := sandbox.NewManager(
		sandbox.WithLogger(logger),
		sandbox.WithDefaultImage(cfg.Sandbox.Image),
	)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.sandbox = mgr

	dash, err := cache.New(cfg.Cache.Dir, cfg.Cache.BuildID, cache.WithLogger(logger))
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	a.cache = dash

	aggOpts := []codegen.AggregatorOption{codegen.WithAggregatorLogger(logger)}
	engineOpts := []toolcall.EngineOption{toolcall.WithEngineLogger(logger)}
	suiteOpts := []toolcall.SuiteOption{toolcall.WithSuiteLogger(logger)}
	if inst != nil {
		aggOpts = append(aggOpts, codegen.WithAggregatorObserver(inst))
		engineOpts = append(engineOpts, toolcall.WithEngineObserver(inst))
		suiteOpts = append(suiteOpts, toolcall.WithSuiteObserver(inst))
	}
	agg := codegen.NewAggregator(a.providers, a.store, a.sandbox, aggOpts...)
	engine := toolcall.NewEngine(a.store, a.sandbox, toolcall.NewRegistry(), engineOpts...)
	tooling := toolcall.NewSuite(a.providers, a.store, engine, suiteOpts...)

	a.scheduler = stupidmeter.NewScheduler(
		func(ctx context.Context) error { return agg.RunSuite(ctx, stupidmeter.SuiteHourly) },
		func(ctx context.Context) error { return agg.RunSuite(ctx, stupidmeter.SuiteDeep) },
		tooling.Run,
		stupidmeter.WithSchedulerTZOffset(cfg.Scheduler.TimezoneOffset),
		stupidmeter.WithSchedulerLogger(logger),
		stupidmeter.WithSchedulerCache(dash),
	)
	return a, nil
}

// openStore selects and initializes the configured store backend.
func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Database.Backend {
	case "", "sqlite":
		a.store = sqlite.New(a.cfg.Database.Path, sqlite.WithLogger(a.logger))
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("app: postgres pool: %w", err)
		}
		a.pool = pool
		a.store = postgres.New(pool, postgres.WithLogger(a.logger))
	default:
		return fmt.Errorf("app: unknown database backend %q", a.cfg.Database.Backend)
	}
	if err := a.store.Init(ctx); err != nil {
		a.closeStore()
		return fmt.Errorf("app: store init: %w", err)
	}
	return nil
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildProviders creates one retry-wrapped adapter per configured vendor.
// When observability is on, each adapter is also span/metric-wrapped.
func buildProviders(keys config.ProvidersConfig, inst *observer.Instruments) map[stupidmeter.Vendor]stupidmeter.Provider {
	out := make(map[stupidmeter.Vendor]stupidmeter.Provider)
	for _, vendor := range stupidmeter.Vendors() {
		key := keys.APIKey(vendor)
		if key == "" {
			continue
		}
		var p stupidmeter.Provider
		switch vendor {
		case stupidmeter.VendorAnthropic:
			p = anthropic.New(key)
		case stupidmeter.VendorGoogle:
			p = gemini.New(key)
		default:
			p = openaicompat.New(vendor, key)
		}
		if inst != nil {
			p = observer.WrapProvider(p, inst)
		}
		out[vendor] = stupidmeter.WithRetry(p)
	}
	return out
}

// SyncModels discovers the models each configured vendor currently
// serves and inserts the ones the store has never seen. Existing rows
// are left alone so curated flags survive discovery.
func (a *App) SyncModels(ctx context.Context) error {
	known, err := a.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("app: list models: %w", err)
	}
	seen := make(map[string]bool, len(known))
	for _, m := range known {
		seen[string(m.Vendor)+"/"+m.Name] = true
	}

	var errs []error
	for vendor, p := range a.providers {
		names, err := p.ListModels(ctx)
		if err != nil {
			a.logger.Warn("model discovery failed", "vendor", vendor, "error", err)
			errs = append(errs, err)
			continue
		}
		for _, name := range names {
			if seen[string(vendor)+"/"+name] {
				continue
			}
			// New models start hidden; an operator promotes them.
			_, err := a.store.UpsertModel(ctx, stupidmeter.Model{
				Name:                name,
				Vendor:              vendor,
				ShowInRankings:      false,
				SupportsToolCalling: true,
			})
			if err != nil {
				errs = append(errs, err)
				continue
			}
			a.logger.Info("model discovered", "vendor", vendor, "model", name)
		}
	}
	return errors.Join(errs...)
}

// Run starts the scheduler and the sandbox cleanup loop, blocking until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.cleanupLoop(ctx)
	a.logger.Info("stupidmeter running",
		"backend", a.cfg.Database.Backend,
		"vendors", len(a.providers))
	err := a.scheduler.Start(ctx)
	a.shutdown()
	return err
}

// RunOnce fires a single suite tick synchronously and shuts down.
// Used by the run-once CLI mode; the error decides the exit code.
func (a *App) RunOnce(ctx context.Context, suite stupidmeter.Suite) error {
	err := a.scheduler.RunSuite(ctx, suite)
	a.shutdown()
	return err
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// cleanupLoop sweeps expired and orphaned sandboxes while the daemon
// is up. Errors are logged; the loop never stops on them.
func (a *App) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.sandbox.CleanupExpired(ctx); err != nil {
				a.logger.Warn("sandbox cleanup failed", "error", err)
			}
		}
	}
}

// shutdown releases the store, pool, and observer pipelines.
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.sandbox.CleanupExpired(shutdownCtx)
	a.closeStore()
	if a.obsShutdown != nil {
		if err := a.obsShutdown(shutdownCtx); err != nil {
			a.logger.Warn("observer shutdown failed", "error", err)
		}
	}
}
