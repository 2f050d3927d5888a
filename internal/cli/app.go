package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/alerts"
	"github.com/miradorstack/mirador-heal/internal/audit"
	"github.com/miradorstack/mirador-heal/internal/auth"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/contenthost"
	"github.com/miradorstack/mirador-heal/internal/diagnostics"
	"github.com/miradorstack/mirador-heal/internal/engine"
	"github.com/miradorstack/mirador-heal/internal/escalation"
	"github.com/miradorstack/mirador-heal/internal/heartbeat"
	"github.com/miradorstack/mirador-heal/internal/lock"
	"github.com/miradorstack/mirador-heal/internal/patches"
	"github.com/miradorstack/mirador-heal/internal/ratelimit"
	"github.com/miradorstack/mirador-heal/internal/report"
	"github.com/miradorstack/mirador-heal/internal/runs"
	"github.com/miradorstack/mirador-heal/internal/services"
	"github.com/miradorstack/mirador-heal/internal/store"
)

// App is the fully wired engine.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *store.Store
	Cache      cache.Provider
	Host       contenthost.Host
	Heartbeats *heartbeat.Store
	Tracker    *runs.Tracker
	Janitor    *runs.Janitor
	Alerts     *alerts.Store
	Actions    *actions.Log
	Patches    *patches.Controller
	Engine     *engine.Engine
	Scheduler  *engine.Scheduler
	Reports    *report.Generator
	Authorizer *auth.Authorizer
	Service    *services.HealingService

	nc      *nats.Conn
	closers []func() error
}

// Build wires every component from cfg. Configured jobs are synced into the
// store so the store stays the single source of job state.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	c := clock.System{}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, store.Options{Timeout: cfg.Database.Timeout})
	if err != nil {
		return nil, err
	}
	app.Store = st
	app.closers = append(app.closers, st.Close)

	for _, job := range cfg.Jobs {
		if strings.TrimSpace(job.Schedule) != "" {
			if _, err := engine.ParseSchedule(job.Schedule); err != nil {
				app.Close()
				return nil, fmt.Errorf("job %s: %w", job.Name, err)
			}
		}
		if err := st.UpsertJob(ctx, job); err != nil {
			app.Close()
			return nil, fmt.Errorf("sync job %s: %w", job.Name, err)
		}
	}

	app.Cache = buildCache(cfg.Cache, logger)
	app.closers = append(app.closers, app.Cache.Close)

	host, err := buildHost(cfg.ContentHost)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Host = host

	sink := audit.Sink(audit.NewStoreSink(st))
	if cfg.Audit.NatsURL != "" {
		nc, err := audit.ConnectNATS(cfg.Audit.NatsURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect audit nats: %w", err)
		}
		app.nc = nc
		sink = audit.MultiSink{sink, audit.NewNATSSink(nc, cfg.Audit.Subject, cfg.Audit.Timeout)}
	}

	app.Heartbeats = heartbeat.NewStore(st, c)
	app.Tracker = runs.NewTracker(st, c, logger)
	app.Alerts = alerts.NewStore(st, c, logger)
	app.Actions = actions.NewLog(st, c)
	app.Janitor = runs.NewJanitor(st, app.Tracker, app.Alerts, c, cfg.Healing.StaleRunTimeout, cfg.Healing.JanitorInterval, logger)

	app.Patches, err = patches.NewController(patches.Config{
		Repo:        st,
		Host:        host,
		Sink:        sink,
		Locker:      lock.NewCacheLocker(app.Cache, cfg.Cache.LockTTL, cfg.Cache.LockWait, lock.WithLogger(logger)),
		Clock:       c,
		HostTimeout: cfg.ContentHost.Timeout,
		Logger:      logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	registry, err := buildDiagnostics(cfg, host, app.Heartbeats, c, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Engine, err = engine.New(engine.Config{
		Jobs:        st,
		Runs:        app.Tracker,
		Actions:     app.Actions,
		Patches:     app.Patches,
		Alerts:      app.Alerts,
		Diagnostics: registry,
		Policy:      escalation.NewPolicy(cfg.Healing.AutoFixThreshold, cfg.Healing.ReviewPaths),
		RunTimeout:  cfg.Healing.RunTimeout,
		Logger:      logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Scheduler = engine.NewScheduler(app.Engine, st, c, 0, logger)

	app.Reports = report.NewGenerator(report.Config{
		Sources:             st,
		Cache:               app.Cache,
		CacheTTL:            cfg.Healing.ReportCacheTTL,
		Clock:               c,
		Interval:            cfg.Heartbeat.Interval,
		GapThresholdMinutes: cfg.Heartbeat.GapThresholdMinutes,
		Logger:              logger,
	})

	operators := make([]auth.Operator, 0, len(cfg.Auth.Operators))
	for _, o := range cfg.Auth.Operators {
		operators = append(operators, auth.Operator{ID: o.ID, Token: o.Token})
	}
	app.Authorizer = auth.NewAuthorizer(operators)

	app.Service = services.NewHealingService(services.Config{
		Engine:     app.Engine,
		Runs:       app.Tracker,
		Actions:    app.Actions,
		Patches:    app.Patches,
		Alerts:     app.Alerts,
		Heartbeats: app.Heartbeats,
		Reports:    app.Reports,
		Operators:  app.Authorizer,
		Limiter:    ratelimit.New(st, cfg.RateLimit.TriggerMax, cfg.RateLimit.TriggerWindow, c),
		Clock:      c,
		StaleAfter: cfg.Heartbeat.StaleAfter,
		Logger:     logger,
	})
	return app, nil
}

// Close waits for in-flight runs and releases every resource.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Wait()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.Logger.Warn("nats drain failed", slog.Any("error", err))
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled || cfg.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("redis cache unavailable, path locks are process-local", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}

func buildHost(cfg config.ContentHostConfig) (contenthost.Host, error) {
	switch cfg.Kind {
	case "github":
		return contenthost.NewGitHubHost(contenthost.GitHubConfig{
			BaseURL:           cfg.BaseURL,
			Owner:             cfg.Owner,
			Repo:              cfg.Repo,
			Branch:            cfg.Branch,
			Token:             cfg.Token,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case "local":
		return contenthost.NewLocalHost(cfg.RootDir), nil
	case "memory":
		return contenthost.NewMemoryHost(nil), nil
	}
	return nil, fmt.Errorf("unknown content host kind %q", cfg.Kind)
}

func buildDiagnostics(cfg *config.Config, host contenthost.Host, beats *heartbeat.Store, c clock.Clock, logger *slog.Logger) (*diagnostics.Registry, error) {
	rules, err := diagnostics.NewContentRules(cfg.Healing.RulesPath, host, logger)
	if err != nil {
		return nil, fmt.Errorf("load rule pack: %w", err)
	}
	if rules == nil && cfg.Healing.RulesPath != "" {
		logger.Warn("rule pack not found, content-rules diagnostic disabled", slog.String("path", cfg.Healing.RulesPath))
	}
	return diagnostics.NewRegistry(
		rules,
		diagnostics.NewHeartbeatContinuity(beats, c, 0, cfg.Heartbeat.Interval, cfg.Heartbeat.GapThresholdMinutes),
		diagnostics.NewSystemResources(cfg.Healing.MemoryThresholdPct, cfg.Healing.DiskThresholdPct, cfg.Healing.DiskPath),
	), nil
}
