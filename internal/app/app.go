package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"TranscriptPipeline/internal/config"
	"TranscriptPipeline/internal/infrastructure/crm"
	"TranscriptPipeline/internal/infrastructure/extractor"
	"TranscriptPipeline/internal/infrastructure/scheduler"
	"TranscriptPipeline/internal/infrastructure/tracker"
	"TranscriptPipeline/internal/infrastructure/transcript"
	"TranscriptPipeline/internal/ledger"
	"TranscriptPipeline/internal/logging"
	"TranscriptPipeline/internal/ports"
	"TranscriptPipeline/internal/usecase"
	"TranscriptPipeline/internal/watcher"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	ledger     ports.Ledger
	watcher    *watcher.Watcher
	scheduler  ports.Scheduler
	dispatcher *watcher.GoroutineDispatcher
}

// New builds a runnable application instance. A ledger that exists but
// cannot be loaded is a fatal error: the pipeline must not guess prior
// processing state.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	fileLedger, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	reader := transcript.NewReader(cfg.Watcher.Extensions)
	extract := extractor.NewChatGPTExtractor(cfg.Extractor)
	crmClient := crm.NewClient(cfg.CRM)
	updater := usecase.NewCRMUpdater(crmClient, baseLogger.With("component", "crmupdater"))

	var issues ports.IssueTracker
	if cfg.Tracker.Repo != "" && cfg.Tracker.Token != "" {
		issues = tracker.NewGitHubTracker(cfg.Tracker)
	} else {
		baseLogger.Warn("issue tracker not configured, run summaries will only be logged")
	}

	processor := usecase.NewFileProcessor(usecase.ProcessorDeps{
		Ledger:      fileLedger,
		Reader:      reader,
		Extractor:   extract,
		Updater:     updater,
		Tracker:     issues,
		Logger:      baseLogger.With("component", "processor"),
		OutputDir:   cfg.Watcher.OutputDir,
		IssueLabels: cfg.Tracker.Labels,
		MaxAttempts: cfg.Watcher.MaxAttempts,
	})

	dispatcher := watcher.NewGoroutineDispatcher(baseLogger.With("component", "dispatcher"))
	watch := watcher.New(cfg.Watcher, fileLedger, processor, dispatcher, baseLogger.With("component", "watcher"))

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		ledger:     fileLedger,
		watcher:    watch,
		scheduler:  scheduler.NewPollScheduler(cfg.Watcher.PollInterval),
		dispatcher: dispatcher,
	}, nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ports.Ledger, error) {
	if cfg.DSN != "" {
		pg, err := ledger.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return pg, nil
	}
	fl, err := ledger.OpenFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open file ledger: %w", err)
	}
	return fl, nil
}

// Run reconciles abandoned work, starts the polling loop, and blocks
// until the context is cancelled. In-flight runs are given a chance to
// finish; anything abandoned is retried via the staleness rule on next
// startup.
func (a *Application) Run(ctx context.Context) error {
	stale, err := a.ledger.ReconcileStale(ctx, a.cfg.Watcher.StaleLaunchedAfter)
	if err != nil {
		return fmt.Errorf("reconcile stale launched records: %w", err)
	}
	for _, path := range stale {
		a.logger.Warn("abandoned launched record returned to pending", "file", path)
	}

	a.logger.Info("watching transcript folder",
		"folder", a.cfg.Watcher.Folder,
		"poll_interval", a.cfg.Watcher.PollInterval,
		"extensions", a.cfg.Watcher.Extensions)

	if err := a.scheduler.Start(ctx, func(t time.Time) { a.watcher.Tick(ctx, t) }); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutdown requested, stopping poll loop")

	if err := a.scheduler.Stop(context.Background()); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	a.dispatcher.Wait()
	a.logger.Info("shutdown complete")
	return nil
}
