// Package app assembles a running intake from its configuration: database,
// task queue, stage components, pipeline and the progress hub.
package app

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/provider"
	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/db"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/extract"
	"github.com/teranos/intake/fieldmap"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/normalize"
	"github.com/teranos/intake/pipeline"
	"github.com/teranos/intake/pulse/async"
	"github.com/teranos/intake/pulse/budget"
	"github.com/teranos/intake/pulse/schedule"
	"github.com/teranos/intake/scoring"
	"github.com/teranos/intake/server"
	"github.com/teranos/intake/sources"
	"github.com/teranos/intake/sources/googleauth"
	"github.com/teranos/intake/store"
)

// App holds every long-lived component. Build it once per process and Close it on exit.
type App struct {
	Config       *am.Config
	DB           *sql.DB
	Store        *store.SQLStore
	Queue        *async.Queue
	Workers      *async.WorkerPool
	Hub          *server.Hub
	Orchestrator *pipeline.Orchestrator
	Service      *pipeline.Service
	Usage        *tracker.UsageTracker
	Ticker       *schedule.Ticker

	oracle  ai.Oracle
	limiter *budget.Limiter
	watcher *am.ConfigWatcher
	ownsDB  bool
	logger  *zap.SugaredLogger
}

// Build opens the configured database, runs migrations and wires the pipeline
func Build(ctx context.Context, cfg *am.Config, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger)
	if err != nil {
		return nil, err
	}
	a, err := BuildWithDB(ctx, cfg, database, logger)
	if err != nil {
		database.Close()
		return nil, err
	}
	a.ownsDB = true
	return a, nil
}

// BuildWithDB wires the pipeline onto an already migrated database. Close leaves database open.
func BuildWithDB(ctx context.Context, cfg *am.Config, database *sql.DB, logger *zap.SugaredLogger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	a := &App{
		Config: cfg,
		DB:     database,
		Store:  store.New(database),
		Queue:  async.NewQueue(database),
		Hub:    server.NewHub(logger),
		Usage:  tracker.NewUsageTracker(database),
		logger: logger.Named("app"),
	}

	oracle, err := provider.NewOracle(ctx, cfg, a.Usage, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AI oracle")
	}
	a.oracle = oracle
	keys := ai.NewRoundRobinKeys(cfg.Scoring.APIKeys)

	a.limiter = budget.NewLimiter(cfg.Scoring.RatePerWindow, cfg.ScoringWindow(), cfg.ScoringCapacity())
	throttle := &budget.Throttle{
		Gate:    budget.NewConcurrencyGate(cfg.Scoring.Concurrency),
		Limiter: a.limiter,
	}

	googleLimiter := googleauth.NewRateLimiter(cfg.Google)
	batch := cfg.Pipeline.BatchSize

	stages := pipeline.Stages{
		Sources: sources.Registry{
			model.SourceTabularFile: sources.NewTabularFetcher(batch, logger),
			model.SourceSpreadsheet: sources.NewSpreadsheetFetcher(cfg.Google, googleLimiter, batch, logger),
			model.SourceHRReport:    sources.NewHRReportFetcher(cfg.HRReport, batch, logger),
		},
		Mapper:             fieldmap.New(oracle, keys, fieldmap.ConfigFrom(cfg.FieldMapper), logger),
		Normalizer:         normalize.New(a.Store, cfg.Pipeline.ProgressEvery, logger),
		Extractor:          extract.New(extract.NewCommandOracle(cfg.Extraction, logger), cfg.Extraction.MinTextLength, logger, a.extractBackends(ctx, googleLimiter)...),
		ExtractConcurrency: cfg.Extraction.Concurrency,
		Scorer:             scoring.New(oracle, keys, throttle, cfg.Scoring.Attempts, cfg.Extraction.MinTextLength, logger),
		BatchSize:          batch,
	}

	progress := pipeline.NewTracker(a.Store, a.Hub, logger)
	a.Orchestrator = pipeline.NewOrchestrator(a.Store, a.Queue, stages, progress, cfg.StageDelay(), logger)
	a.Service = pipeline.NewService(a.Store, a.Orchestrator, a.Queue, cfg.Pipeline.MaxRetries, logger)

	poolCfg := async.DefaultWorkerPoolConfig()
	if cfg.Pulse.Workers > 0 {
		poolCfg.Workers = cfg.Pulse.Workers
	}
	poolCfg.PollInterval = cfg.PollInterval()
	a.Workers = async.NewWorkerPoolWithQueue(ctx, a.Queue, poolCfg, logger)
	a.Workers.Registry().Register(a.Orchestrator.Handler())

	a.Ticker = schedule.NewTicker(ctx, a.Queue, a.Workers, schedule.DefaultTickerConfig(), logger)
	if retention := cfg.TaskRetention(); retention > 0 {
		if err := a.Ticker.Add(schedule.CleanupJob(a.Queue, cfg.CleanupInterval(), retention, logger)); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// extractBackends returns the resume downloaders. Drive is added only when Google credentials are configured.
func (a *App) extractBackends(ctx context.Context, limiter *googleauth.RateLimiter) []extract.Backend {
	cfg := a.Config.Extraction
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	backends := []extract.Backend{}

	if a.Config.Google.CredentialsFile != "" {
		if drive, err := a.driveBackend(ctx, limiter); err != nil {
			a.logger.Warnw("Drive downloads disabled", "error", err)
		} else {
			backends = append(backends, drive)
		}
	}
	return append(backends, extract.NewHTTPBackend(timeout, cfg.MaxDownloadBytes))
}

func (a *App) driveBackend(ctx context.Context, limiter *googleauth.RateLimiter) (*extract.DriveBackend, error) {
	opts, err := googleauth.ClientOptions(ctx, a.Config.Google.CredentialsFile)
	if err != nil {
		return nil, err
	}
	svc, err := googleauth.NewDriveService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return extract.NewDriveBackend(svc, limiter, a.Config.Extraction.MaxDownloadBytes), nil
}

// Server returns the HTTP server for this app; it starts and stops the workers
func (a *App) Server() *server.Server {
	return server.New(a.Service, a.Hub, server.Options{
		AllowedOrigins: a.Config.GetServerAllowedOrigins(),
		Queue:          a.Queue,
		Workers:        a.Workers,
	}, a.logger)
}

// Watch applies reloads from w to the running app and starts it. Only the scoring
// rate is live; other settings take effect on restart.
func (a *App) Watch(w *am.ConfigWatcher) {
	w.OnReload(func(cfg *am.Config) error {
		a.limiter.SetRate(cfg.Scoring.RatePerWindow, cfg.ScoringWindow(), cfg.ScoringCapacity())
		a.logger.Infow("Scoring rate updated",
			"rate_per_window", cfg.Scoring.RatePerWindow,
			"window", cfg.ScoringWindow(),
			"capacity", cfg.ScoringCapacity())
		return nil
	})
	am.SetGlobalWatcher(w)
	w.Start()
	a.watcher = w
}

// Close stops the config watcher and releases the oracle and owned database
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		am.SetGlobalWatcher(nil)
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := provider.Close(a.oracle); err != nil {
		errs = append(errs, err)
	}
	if a.ownsDB {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
