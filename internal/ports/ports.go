package ports

import (
	"context"
	"time"

	"TranscriptPipeline/internal/domain"
)

// Ledger is the durable registry of per-file processing state. It is the
// only shared mutable resource in the pipeline and must survive restarts.
type Ledger interface {
	// Lookup returns the record for path, or nil when the path was
	// never sighted.
	Lookup(ctx context.Context, path string) (*domain.ProcessedFileRecord, error)

	// UpsertPending creates or resets the record for path to pending
	// with the given fingerprint. expectedVersion is the version from
	// the caller's last Lookup (0 when absent); a mismatch returns
	// domain.ErrConcurrentModification.
	UpsertPending(ctx context.Context, path, fingerprint string, expectedVersion int64) (*domain.ProcessedFileRecord, error)

	// Mark atomically records a status milestone for path. Safe to call
	// again after a crash/restart.
	Mark(ctx context.Context, path string, status domain.FileStatus, attemptCount int, runID string) error

	// ReconcileStale flips launched records older than olderThan back
	// to pending and returns their paths. Run once at startup.
	ReconcileStale(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// TranscriptReader turns a transcript file into plain text, dispatching
// on file extension.
type TranscriptReader interface {
	Read(ctx context.Context, path string) (string, error)
	Supports(path string) bool
}

// Extractor converts raw transcript text into a structured extract. Any
// implementation satisfying "text in, MeetingExtract out" is
// substitutable.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (domain.MeetingExtract, error)
}

// CRMClient is the entity-scoped CRM API collaborator. Contracts are
// owned by the CRUD subsystem and consumed as-is.
type CRMClient interface {
	SearchProspectsByEmail(ctx context.Context, email string) ([]domain.Prospect, error)
	SearchProspectsByCompany(ctx context.Context, company string) ([]domain.Prospect, error)
	CreateProspect(ctx context.Context, prospect domain.Prospect) (domain.Prospect, error)
	ListPipelineStages(ctx context.Context) ([]domain.PipelineStage, error)
	ListMeetingRecords(ctx context.Context, prospectID string) ([]domain.MeetingRecord, error)
	CreateMeetingRecord(ctx context.Context, record domain.MeetingRecord) (domain.MeetingRecord, error)
	UpdateProspectStage(ctx context.Context, prospectID, stage string) error
	ListStageTransitions(ctx context.Context, prospectID string) ([]domain.StageTransition, error)
	CreateStageTransition(ctx context.Context, transition domain.StageTransition) (domain.StageTransition, error)
}

// IssueTracker publishes a human-readable run summary. Best effort:
// failures never affect ledger state.
type IssueTracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) error
}

// Processor handles one detected file as a bounded unit of work.
type Processor interface {
	Process(ctx context.Context, path, fingerprint string)
}

// Dispatcher runs one file's processing as an isolated unit of work so
// a crash in it cannot corrupt the watcher loop or another file's run.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, job func(ctx context.Context))
}

// Scheduler controls when watcher ticks execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
