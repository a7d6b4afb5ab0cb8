package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// FileLedger keeps processed-file records in a single JSON document,
// swapped atomically via write-then-rename. Single-writer by design:
// the watcher's poll discipline prevents concurrent ticks, and the
// version check in UpsertPending catches anything that slips through.
type FileLedger struct {
	path string

	mu      sync.Mutex
	records map[string]*domain.ProcessedFileRecord
}

var _ ports.Ledger = (*FileLedger)(nil)

type fileDocument struct {
	ProcessedFiles map[string]*domain.ProcessedFileRecord `json:"processed_files"`
}

// OpenFile loads the ledger at path, creating an empty one when the file
// does not exist. A ledger that exists but cannot be parsed is a fatal
// error: the pipeline must not guess prior state.
func OpenFile(path string) (*FileLedger, error) {
	ledger := &FileLedger{
		path:    path,
		records: map[string]*domain.ProcessedFileRecord{},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("ledger %s is corrupt: %w", path, err)
	}
	if doc.ProcessedFiles != nil {
		ledger.records = doc.ProcessedFiles
	}

	return ledger, nil
}

// Lookup returns a copy of the record for path, or nil when absent.
func (l *FileLedger) Lookup(_ context.Context, path string) (*domain.ProcessedFileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[path]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

// UpsertPending creates or resets the record for path to pending.
func (l *FileLedger) UpsertPending(_ context.Context, path, fingerprint string, expectedVersion int64) (*domain.ProcessedFileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[path]
	if !ok {
		if expectedVersion != 0 {
			return nil, domain.ErrConcurrentModification
		}
		rec = &domain.ProcessedFileRecord{Path: path}
		l.records[path] = rec
	} else if rec.Version != expectedVersion {
		return nil, domain.ErrConcurrentModification
	}

	rec.Fingerprint = fingerprint
	rec.Status = domain.StatusPending
	rec.Version++

	if err := l.persistLocked(); err != nil {
		return nil, err
	}

	copied := *rec
	return &copied, nil
}

// Mark records a status milestone. Transitions are monotone: pending →
// launched → {completed, failed}; re-marking the current status is
// allowed so crash-recovery replays stay safe.
func (l *FileLedger) Mark(_ context.Context, path string, status domain.FileStatus, attemptCount int, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[path]
	if !ok {
		return fmt.Errorf("mark %s: unknown ledger path", path)
	}
	if !transitionAllowed(rec.Status, status) {
		return fmt.Errorf("mark %s: illegal transition %s -> %s", path, rec.Status, status)
	}

	rec.Status = status
	rec.AttemptCount = attemptCount
	rec.LastAttemptAt = time.Now().UTC()
	if runID != "" {
		rec.RunID = runID
	}
	rec.Version++

	return l.persistLocked()
}

// ReconcileStale returns launched records older than olderThan to
// pending so the next poll retries them. Run once at startup.
func (l *FileLedger) ReconcileStale(_ context.Context, olderThan time.Duration) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var stale []string
	for path, rec := range l.records {
		if rec.Status == domain.StatusLaunched && rec.LastAttemptAt.Before(cutoff) {
			rec.Status = domain.StatusPending
			rec.Version++
			stale = append(stale, path)
		}
	}

	if len(stale) == 0 {
		return nil, nil
	}
	sort.Strings(stale)

	if err := l.persistLocked(); err != nil {
		return nil, err
	}
	return stale, nil
}

func transitionAllowed(from, to domain.FileStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case domain.StatusPending:
		return to == domain.StatusLaunched || to == domain.StatusFailed
	case domain.StatusLaunched:
		return to == domain.StatusCompleted || to == domain.StatusFailed
	default:
		return false
	}
}

func (l *FileLedger) persistLocked() error {
	doc := fileDocument{ProcessedFiles: l.records}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ledger temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("swap ledger file: %w", err)
	}

	return nil
}
