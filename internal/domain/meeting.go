package domain

import (
	"fmt"
	"strings"
	"time"
)

// FileStatus enumerates ledger milestones for one transcript file.
type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusLaunched  FileStatus = "launched"
	StatusCompleted FileStatus = "completed"
	StatusFailed    FileStatus = "failed"
)

// ProcessedFileRecord is the durable per-file processing state.
// One record per unique path; records are never deleted.
type ProcessedFileRecord struct {
	Path          string     `json:"path"`
	Fingerprint   string     `json:"fingerprint"`
	Status        FileStatus `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	RunID         string     `json:"run_id,omitempty"`
	Version       int64      `json:"version"`
}

// MeetingExtract is the structured content pulled out of one transcript.
// It lives only for the duration of a single processor run.
type MeetingExtract struct {
	CompanyName      string   `json:"company_name"`
	ContactName      string   `json:"contact_name,omitempty"`
	ContactEmail     string   `json:"contact_email,omitempty"`
	MeetingDate      string   `json:"meeting_date,omitempty"`
	Participants     []string `json:"participants,omitempty"`
	Summary          string   `json:"summary"`
	DiscussionPoints []string `json:"discussion_points,omitempty"`
	ActionItems      []string `json:"action_items,omitempty"`
	Decisions        []string `json:"decisions,omitempty"`
	NextSteps        []string `json:"next_steps,omitempty"`
	SuggestedStage   string   `json:"suggested_stage,omitempty"`
}

// Validate enforces the extraction contract: company_name and summary
// are required, everything else may be empty.
func (e MeetingExtract) Validate() error {
	if strings.TrimSpace(e.CompanyName) == "" {
		return fmt.Errorf("extract missing company_name")
	}
	if strings.TrimSpace(e.Summary) == "" {
		return fmt.Errorf("extract missing summary")
	}
	return nil
}

// Prospect is a CRM company/contact moving through a sales pipeline,
// scoped to one entity.
type Prospect struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	CompanyName  string    `json:"company_name"`
	ContactName  string    `json:"contact_name,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Stage        string    `json:"stage"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// MeetingRecord is the persisted, append-only result of processing one
// transcript, linked to its prospect.
type MeetingRecord struct {
	ID                 string    `json:"id"`
	ProspectID         string    `json:"prospect_id"`
	MeetingDate        string    `json:"meeting_date,omitempty"`
	Participants       []string  `json:"participants,omitempty"`
	Summary            string    `json:"summary"`
	ActionItems        []string  `json:"action_items,omitempty"`
	FormattedOutput    string    `json:"formatted_output,omitempty"`
	TranscriptFilename string    `json:"transcript_filename"`
	CreatedAt          time.Time `json:"created_at"`
}

// StageTransition is an immutable audit entry for a prospect's movement
// between two stages. TransitionedBy is empty for system-authored moves.
type StageTransition struct {
	ID             string    `json:"id"`
	ProspectID     string    `json:"prospect_id"`
	FromStage      string    `json:"from_stage,omitempty"`
	ToStage        string    `json:"to_stage"`
	TransitionedBy string    `json:"transitioned_by,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PipelineStage is one ordered step of an entity's pipeline catalog.
type PipelineStage struct {
	ID         string `json:"id"`
	EntityID   string `json:"entity_id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
	IsDefault  bool   `json:"is_default"`
}

// RunOutcome summarizes one processor run for external reporting.
type RunOutcome struct {
	RunID              string
	TranscriptFilename string
	Extract            MeetingExtract
	Prospect           Prospect
	ProspectCreated    bool
	MeetingRecordID    string
	MeetingDuplicate   bool
	StageAdvanced      bool
	FromStage          string
	ToStage            string
	StageSkipReason    string
	Warnings           []string
}
