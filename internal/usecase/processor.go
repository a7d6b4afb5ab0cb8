package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// ProcessorDeps wires all driven adapters into the per-file workflow.
type ProcessorDeps struct {
	Ledger      ports.Ledger
	Reader      ports.TranscriptReader
	Extractor   ports.Extractor
	Updater     *CRMUpdater
	Tracker     ports.IssueTracker
	Logger      *slog.Logger
	OutputDir   string
	IssueLabels []string
	MaxAttempts int
	RetryBase   time.Duration
}

// FileProcessor turns one transcript file into a meeting extract, a
// rendered artifact, and reconciled CRM state, then finalizes the ledger.
type FileProcessor struct {
	ledger      ports.Ledger
	reader      ports.TranscriptReader
	extractor   ports.Extractor
	updater     *CRMUpdater
	tracker     ports.IssueTracker
	logger      *slog.Logger
	outputDir   string
	issueLabels []string
	maxAttempts int
	retryBase   time.Duration
}

var _ ports.Processor = (*FileProcessor)(nil)

// NewFileProcessor constructs the orchestration component.
func NewFileProcessor(deps ProcessorDeps) *FileProcessor {
	retryBase := deps.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &FileProcessor{
		ledger:      deps.Ledger,
		reader:      deps.Reader,
		extractor:   deps.Extractor,
		updater:     deps.Updater,
		tracker:     deps.Tracker,
		logger:      deps.Logger,
		outputDir:   deps.OutputDir,
		issueLabels: deps.IssueLabels,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
	}
}

// Process handles one detected file end to end. All failure paths end in
// a terminal ledger status; nothing escapes to the caller, so a bad file
// can never take the watcher loop down with it.
func (p *FileProcessor) Process(ctx context.Context, path, fingerprint string) {
	runID := uuid.NewString()[:8]
	filename := filepath.Base(path)
	logger := p.logger.With("run_id", runID, "file", filename)

	rec, err := p.ledger.Lookup(ctx, path)
	if err != nil {
		logger.Error("ledger lookup failed", "error", err)
		return
	}
	attempt := 1
	if rec != nil {
		attempt = rec.AttemptCount + 1
	}

	if err := p.ledger.Mark(ctx, path, domain.StatusLaunched, attempt, runID); err != nil {
		logger.Error("cannot mark file launched", "error", err)
		return
	}
	logger.Info("processing transcript", "attempt", attempt, "fingerprint", fingerprint)

	var content string
	err = retryTransient(ctx, p.maxAttempts, p.retryBase, func() error {
		var readErr error
		content, readErr = p.reader.Read(ctx, path)
		return readErr
	})
	if err != nil {
		p.fail(ctx, logger, path, attempt, runID, fmt.Errorf("read transcript: %w", err))
		return
	}

	var extract domain.MeetingExtract
	err = retryTransient(ctx, p.maxAttempts, p.retryBase, func() error {
		var exErr error
		extract, exErr = p.extractor.Extract(ctx, content)
		return exErr
	})
	if err != nil {
		// Extraction failures are terminal: no CRM call, no partial writes.
		p.fail(ctx, logger, path, attempt, runID, fmt.Errorf("extract transcript: %w", err))
		return
	}
	logger.Info("extraction complete", "company", extract.CompanyName, "suggested_stage", extract.SuggestedStage)

	rendered := renderMeetingNotes(extract, filename, runID)
	if err := p.writeArtifact(extract, rendered, runID); err != nil {
		// The rendered content still reaches the CRM via the meeting
		// record, so a local artifact problem does not end the run.
		logger.Warn("cannot write meeting-notes artifact", "error", err)
	}

	var outcome domain.RunOutcome
	err = retryTransient(ctx, p.maxAttempts, p.retryBase, func() error {
		var crmErr error
		outcome, crmErr = p.updater.Reconcile(ctx, extract, filename, rendered, runID)
		return crmErr
	})
	if err != nil {
		p.fail(ctx, logger, path, attempt, runID, fmt.Errorf("update crm: %w", err))
		return
	}

	if err := p.ledger.Mark(ctx, path, domain.StatusCompleted, attempt, runID); err != nil {
		logger.Error("cannot mark file completed", "error", err)
		return
	}
	logger.Info("processing complete",
		"prospect_id", outcome.Prospect.ID,
		"prospect_created", outcome.ProspectCreated,
		"stage_advanced", outcome.StageAdvanced)

	p.report(ctx, logger, outcome)
}

func (p *FileProcessor) writeArtifact(extract domain.MeetingExtract, rendered, runID string) error {
	if p.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("meeting-%s-%s.md", runID, slugify(extract.CompanyName))
	if err := os.WriteFile(filepath.Join(p.outputDir, name), []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// report publishes the run summary. Best effort: a tracker failure is
// logged and never affects ledger state.
func (p *FileProcessor) report(ctx context.Context, logger *slog.Logger, outcome domain.RunOutcome) {
	if p.tracker == nil {
		return
	}
	title := fmt.Sprintf("Meeting processed: %s (%s)", outcome.Extract.CompanyName, outcome.TranscriptFilename)
	if err := p.tracker.CreateIssue(ctx, title, buildIssueBody(outcome), p.issueLabels); err != nil {
		logger.Warn("cannot publish tracking issue", "error", err)
	}
}

func (p *FileProcessor) fail(ctx context.Context, logger *slog.Logger, path string, attempt int, runID string, cause error) {
	logger.Error("processing failed", "error", cause)
	if err := p.ledger.Mark(ctx, path, domain.StatusFailed, attempt, runID); err != nil {
		logger.Error("cannot mark file failed", "error", err)
	}
}
