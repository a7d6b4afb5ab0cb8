package domain

import (
	"errors"
	"fmt"
)

// ErrConcurrentModification is returned by Ledger.UpsertPending when the
// stored record changed since the caller's last read. The caller must
// re-poll rather than overwrite.
var ErrConcurrentModification = errors.New("ledger record modified concurrently")

// TransientError marks failures worth retrying with backoff: locked or
// half-written files, network blips against the CRM or tracker.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// ExtractionError means the extractor returned an invalid or incomplete
// structure. Terminal for the file; no CRM call is attempted.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// CRMConflictError means prospect resolution failed. Terminal for the
// file's run since no meeting record can be linked.
type CRMConflictError struct {
	Op  string
	Err error
}

func (e *CRMConflictError) Error() string { return fmt.Sprintf("crm %s: %v", e.Op, e.Err) }
func (e *CRMConflictError) Unwrap() error { return e.Err }

// StageAdvanceError means the stage update or its audit entry failed.
// Non-fatal: the run still completes when the meeting record was saved.
type StageAdvanceError struct {
	Stage string
	Err   error
}

func (e *StageAdvanceError) Error() string {
	return fmt.Sprintf("stage advance to %q: %v", e.Stage, e.Err)
}

func (e *StageAdvanceError) Unwrap() error { return e.Err }
