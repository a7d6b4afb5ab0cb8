package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// CRMUpdater reconciles one meeting extract against the CRM: resolve or
// create the prospect, append the meeting record, and advance the
// pipeline stage under the monotonic, audit-friendly rules.
type CRMUpdater struct {
	crm    ports.CRMClient
	logger *slog.Logger
	now    func() time.Time
}

// NewCRMUpdater wires the CRM collaborator.
func NewCRMUpdater(crm ports.CRMClient, logger *slog.Logger) *CRMUpdater {
	return &CRMUpdater{
		crm:    crm,
		logger: logger,
		now:    time.Now,
	}
}

// Reconcile performs the three CRM steps for one successful extraction.
// Prospect resolution and meeting-record creation failures are fatal for
// the run; stage-advance failures are collected as warnings since the
// irreversible artifact (meeting history) is already preserved.
func (u *CRMUpdater) Reconcile(ctx context.Context, extract domain.MeetingExtract, transcriptFilename, formattedOutput, runID string) (domain.RunOutcome, error) {
	outcome := domain.RunOutcome{
		RunID:              runID,
		TranscriptFilename: transcriptFilename,
		Extract:            extract,
	}

	stages, stagesErr := u.crm.ListPipelineStages(ctx)
	if stagesErr != nil {
		// Needed later for stage math and, on creation, the default
		// stage. Resolution against existing prospects can still work.
		u.warn(&outcome, fmt.Sprintf("list pipeline stages: %v", stagesErr))
	}

	prospect, created, err := u.resolveProspect(ctx, extract, stages)
	if err != nil {
		return outcome, &domain.CRMConflictError{Op: "resolve prospect", Err: err}
	}
	outcome.Prospect = prospect
	outcome.ProspectCreated = created

	record, duplicate, err := u.ensureMeetingRecord(ctx, prospect.ID, extract, transcriptFilename, formattedOutput)
	if err != nil {
		return outcome, fmt.Errorf("create meeting record: %w", err)
	}
	outcome.MeetingRecordID = record.ID
	outcome.MeetingDuplicate = duplicate

	u.advanceStage(ctx, &outcome, prospect, extract.SuggestedStage, stages, stagesErr)

	return outcome, nil
}

// resolveProspect applies the deterministic matching algorithm: email
// match first, then trimmed case-insensitive company name with
// oldest-created winning ties, then creation at the default stage.
func (u *CRMUpdater) resolveProspect(ctx context.Context, extract domain.MeetingExtract, stages []domain.PipelineStage) (domain.Prospect, bool, error) {
	email := strings.TrimSpace(extract.ContactEmail)
	if email != "" {
		candidates, err := u.crm.SearchProspectsByEmail(ctx, email)
		if err != nil {
			return domain.Prospect{}, false, err
		}
		matches := filterByEmail(candidates, email)
		if len(matches) > 0 {
			return oldest(matches), false, nil
		}
	}

	company := strings.TrimSpace(extract.CompanyName)
	candidates, err := u.crm.SearchProspectsByCompany(ctx, company)
	if err != nil {
		return domain.Prospect{}, false, err
	}
	matches := filterByCompany(candidates, company)
	if len(matches) > 0 {
		return oldest(matches), false, nil
	}

	prospect := domain.Prospect{
		CompanyName:  company,
		ContactName:  strings.TrimSpace(extract.ContactName),
		ContactEmail: email,
		Stage:        defaultStage(stages),
		Notes: fmt.Sprintf("Auto-created from meeting transcript processed on %s",
			u.now().UTC().Format("2006-01-02")),
	}
	created, err := u.crm.CreateProspect(ctx, prospect)
	if err != nil {
		return domain.Prospect{}, false, err
	}
	return created, true, nil
}

// ensureMeetingRecord appends the meeting record unless one already
// exists for this transcript filename, which happens when a previous run
// crashed between the CRM write and the ledger mark.
func (u *CRMUpdater) ensureMeetingRecord(ctx context.Context, prospectID string, extract domain.MeetingExtract, transcriptFilename, formattedOutput string) (domain.MeetingRecord, bool, error) {
	existing, err := u.crm.ListMeetingRecords(ctx, prospectID)
	if err != nil {
		return domain.MeetingRecord{}, false, err
	}
	for _, rec := range existing {
		if rec.TranscriptFilename == transcriptFilename {
			u.logger.Info("meeting record already exists, skipping creation",
				"prospect_id", prospectID, "transcript", transcriptFilename)
			return rec, true, nil
		}
	}

	record := domain.MeetingRecord{
		ProspectID:         prospectID,
		MeetingDate:        extract.MeetingDate,
		Participants:       extract.Participants,
		Summary:            extract.Summary,
		ActionItems:        extract.ActionItems,
		FormattedOutput:    formattedOutput,
		TranscriptFilename: transcriptFilename,
	}
	created, err := u.crm.CreateMeetingRecord(ctx, record)
	if err != nil {
		return domain.MeetingRecord{}, false, err
	}
	return created, false, nil
}

// advanceStage issues the stage update and audit entry when the
// suggestion moves the prospect forward. Automation never regresses a
// stage and never records a no-op, so retries stay silent in the audit
// trail. All failures here are non-fatal.
func (u *CRMUpdater) advanceStage(ctx context.Context, outcome *domain.RunOutcome, prospect domain.Prospect, suggested string, stages []domain.PipelineStage, stagesErr error) {
	suggested = strings.TrimSpace(suggested)
	if suggested == "" {
		outcome.StageSkipReason = "no stage suggested"
		return
	}
	if stagesErr != nil {
		u.warn(outcome, fmt.Sprintf("stage advance skipped, catalog unavailable: %v", stagesErr))
		outcome.StageSkipReason = "stage catalog unavailable"
		return
	}

	suggestedOrdinal, ok := stageOrdinal(stages, suggested)
	if !ok {
		u.logger.Warn("suggested stage not in catalog, skipping advance",
			"suggested", suggested, "prospect_id", prospect.ID)
		outcome.StageSkipReason = fmt.Sprintf("unrecognized stage %q", suggested)
		return
	}

	currentOrdinal, ok := stageOrdinal(stages, prospect.Stage)
	if ok && suggestedOrdinal <= currentOrdinal {
		outcome.StageSkipReason = fmt.Sprintf("suggested stage %q does not advance past %q", suggested, prospect.Stage)
		return
	}

	if err := u.crm.UpdateProspectStage(ctx, prospect.ID, suggested); err != nil {
		u.warn(outcome, (&domain.StageAdvanceError{Stage: suggested, Err: err}).Error())
		outcome.StageSkipReason = "stage update failed"
		return
	}

	outcome.StageAdvanced = true
	outcome.FromStage = prospect.Stage
	outcome.ToStage = suggested

	if u.isDuplicateTransition(ctx, prospect.ID, prospect.Stage, suggested) {
		u.logger.Info("latest transition already records this move, skipping audit entry",
			"prospect_id", prospect.ID, "from", prospect.Stage, "to", suggested)
		return
	}

	transition := domain.StageTransition{
		ProspectID: prospect.ID,
		FromStage:  prospect.Stage,
		ToStage:    suggested,
		Notes:      fmt.Sprintf("Advanced by transcript pipeline (run %s)", outcome.RunID),
	}
	if _, err := u.crm.CreateStageTransition(ctx, transition); err != nil {
		u.warn(outcome, (&domain.StageAdvanceError{Stage: suggested, Err: err}).Error())
	}
}

// isDuplicateTransition guards the no-duplicate-consecutive-pair
// invariant. A lookup failure counts as "not duplicate": a possible
// extra audit row beats silently dropping one.
func (u *CRMUpdater) isDuplicateTransition(ctx context.Context, prospectID, from, to string) bool {
	transitions, err := u.crm.ListStageTransitions(ctx, prospectID)
	if err != nil {
		u.logger.Warn("cannot list stage transitions", "prospect_id", prospectID, "error", err)
		return false
	}
	if len(transitions) == 0 {
		return false
	}
	latest := transitions[0]
	for _, tr := range transitions[1:] {
		if tr.CreatedAt.After(latest.CreatedAt) {
			latest = tr
		}
	}
	return latest.FromStage == from && latest.ToStage == to
}

func (u *CRMUpdater) warn(outcome *domain.RunOutcome, msg string) {
	u.logger.Warn(msg)
	outcome.Warnings = append(outcome.Warnings, msg)
}

func filterByEmail(candidates []domain.Prospect, email string) []domain.Prospect {
	var matches []domain.Prospect
	for _, p := range candidates {
		if strings.EqualFold(strings.TrimSpace(p.ContactEmail), email) {
			matches = append(matches, p)
		}
	}
	return matches
}

func filterByCompany(candidates []domain.Prospect, company string) []domain.Prospect {
	var matches []domain.Prospect
	for _, p := range candidates {
		if strings.EqualFold(strings.TrimSpace(p.CompanyName), company) {
			matches = append(matches, p)
		}
	}
	return matches
}

// oldest favors the long-running relationship record over a duplicate.
func oldest(prospects []domain.Prospect) domain.Prospect {
	winner := prospects[0]
	for _, p := range prospects[1:] {
		if p.CreatedAt.Before(winner.CreatedAt) {
			winner = p
		}
	}
	return winner
}

func stageOrdinal(stages []domain.PipelineStage, name string) (int, bool) {
	for _, s := range stages {
		if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
			return s.OrderIndex, true
		}
	}
	return 0, false
}

func defaultStage(stages []domain.PipelineStage) string {
	var fallback *domain.PipelineStage
	for i, s := range stages {
		if s.IsDefault {
			return s.Name
		}
		if fallback == nil || s.OrderIndex < fallback.OrderIndex {
			fallback = &stages[i]
		}
	}
	if fallback != nil {
		return fallback.Name
	}
	return ""
}
