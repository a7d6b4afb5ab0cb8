package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/logging"
)

// fakeCRM is an in-memory stand-in for the CRM API collaborator.
type fakeCRM struct {
	stages      []domain.PipelineStage
	prospects   []domain.Prospect
	meetings    map[string][]domain.MeetingRecord
	transitions map[string][]domain.StageTransition

	createdProspects   []domain.Prospect
	createdMeetings    []domain.MeetingRecord
	createdTransitions []domain.StageTransition
	stageUpdates       []string

	failProspectSearch bool
	failMeetingCreate  bool
	failStageUpdate    bool

	calls int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		stages: []domain.PipelineStage{
			{ID: "s1", Name: "lead", OrderIndex: 1, IsDefault: true},
			{ID: "s2", Name: "contacted", OrderIndex: 2},
			{ID: "s3", Name: "qualified", OrderIndex: 3},
			{ID: "s4", Name: "closed", OrderIndex: 4},
		},
		meetings:    map[string][]domain.MeetingRecord{},
		transitions: map[string][]domain.StageTransition{},
	}
}

func (f *fakeCRM) SearchProspectsByEmail(_ context.Context, email string) ([]domain.Prospect, error) {
	f.calls++
	if f.failProspectSearch {
		return nil, fmt.Errorf("search unavailable")
	}
	var out []domain.Prospect
	for _, p := range f.prospects {
		if strings.EqualFold(p.ContactEmail, email) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCRM) SearchProspectsByCompany(_ context.Context, company string) ([]domain.Prospect, error) {
	f.calls++
	if f.failProspectSearch {
		return nil, fmt.Errorf("search unavailable")
	}
	var out []domain.Prospect
	for _, p := range f.prospects {
		if strings.EqualFold(strings.TrimSpace(p.CompanyName), strings.TrimSpace(company)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCRM) CreateProspect(_ context.Context, prospect domain.Prospect) (domain.Prospect, error) {
	f.calls++
	prospect.ID = fmt.Sprintf("p%d", len(f.prospects)+1)
	prospect.CreatedAt = time.Now().UTC()
	f.prospects = append(f.prospects, prospect)
	f.createdProspects = append(f.createdProspects, prospect)
	return prospect, nil
}

func (f *fakeCRM) ListPipelineStages(_ context.Context) ([]domain.PipelineStage, error) {
	f.calls++
	return f.stages, nil
}

func (f *fakeCRM) ListMeetingRecords(_ context.Context, prospectID string) ([]domain.MeetingRecord, error) {
	f.calls++
	return f.meetings[prospectID], nil
}

func (f *fakeCRM) CreateMeetingRecord(_ context.Context, record domain.MeetingRecord) (domain.MeetingRecord, error) {
	f.calls++
	if f.failMeetingCreate {
		return domain.MeetingRecord{}, fmt.Errorf("meeting store unavailable")
	}
	record.ID = fmt.Sprintf("m%d", len(f.createdMeetings)+1)
	record.CreatedAt = time.Now().UTC()
	f.meetings[record.ProspectID] = append(f.meetings[record.ProspectID], record)
	f.createdMeetings = append(f.createdMeetings, record)
	return record, nil
}

func (f *fakeCRM) UpdateProspectStage(_ context.Context, prospectID, stage string) error {
	f.calls++
	if f.failStageUpdate {
		return fmt.Errorf("stage update unavailable")
	}
	for i := range f.prospects {
		if f.prospects[i].ID == prospectID {
			f.prospects[i].Stage = stage
		}
	}
	f.stageUpdates = append(f.stageUpdates, prospectID+":"+stage)
	return nil
}

func (f *fakeCRM) ListStageTransitions(_ context.Context, prospectID string) ([]domain.StageTransition, error) {
	f.calls++
	return f.transitions[prospectID], nil
}

func (f *fakeCRM) CreateStageTransition(_ context.Context, transition domain.StageTransition) (domain.StageTransition, error) {
	f.calls++
	transition.ID = fmt.Sprintf("t%d", len(f.createdTransitions)+1)
	transition.CreatedAt = time.Now().UTC()
	f.transitions[transition.ProspectID] = append(f.transitions[transition.ProspectID], transition)
	f.createdTransitions = append(f.createdTransitions, transition)
	return transition, nil
}

func newTestUpdater(crm *fakeCRM) *CRMUpdater {
	return NewCRMUpdater(crm, logging.New("error"))
}

func TestReconcileMatchesByEmailFirst(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", ContactEmail: "other@acme.com", Stage: "lead", CreatedAt: time.Now().Add(-48 * time.Hour)},
		{ID: "p2", CompanyName: "Different Name", ContactEmail: "JANE@ACME.COM", Stage: "lead", CreatedAt: time.Now().Add(-24 * time.Hour)},
	}

	extract := domain.MeetingExtract{
		CompanyName:  "Acme Corp",
		ContactEmail: "jane@acme.com",
		Summary:      "intro call",
	}

	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "a.md", "notes", "run1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Prospect.ID != "p2" {
		t.Fatalf("expected email match p2, got %s", outcome.Prospect.ID)
	}
	if outcome.ProspectCreated {
		t.Fatal("matched prospect must not be flagged created")
	}
}

func TestReconcileOldestCompanyMatchWins(t *testing.T) {
	t.Parallel()

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p-new", CompanyName: "acme corp", Stage: "lead", CreatedAt: newer},
		{ID: "p-old", CompanyName: "Acme Corp ", Stage: "lead", CreatedAt: older},
	}

	extract := domain.MeetingExtract{CompanyName: "ACME CORP", Summary: "s"}

	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "a.md", "notes", "run1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Prospect.ID != "p-old" {
		t.Fatalf("expected oldest prospect to win, got %s", outcome.Prospect.ID)
	}
}

func TestReconcileCreatesProspectAtDefaultStage(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	extract := domain.MeetingExtract{
		CompanyName:  "Globex",
		ContactName:  "Hank Scorpio",
		ContactEmail: "hank@globex.com",
		Summary:      "kickoff",
	}

	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "g.md", "notes", "run1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !outcome.ProspectCreated {
		t.Fatal("expected prospect creation")
	}
	if len(crm.createdProspects) != 1 {
		t.Fatalf("expected 1 created prospect, got %d", len(crm.createdProspects))
	}
	created := crm.createdProspects[0]
	if created.Stage != "lead" {
		t.Fatalf("expected default stage lead, got %s", created.Stage)
	}
	if !strings.HasPrefix(created.Notes, "Auto-created from meeting transcript processed on ") {
		t.Fatalf("missing provenance note: %q", created.Notes)
	}
}

func TestReconcileAdvancesStageWithAudit(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "lead", CreatedAt: time.Now().Add(-time.Hour)},
	}

	extract := domain.MeetingExtract{
		CompanyName:    "Acme Corp",
		ContactEmail:   "jane@acme.com", // no prospect carries it: falls to company match
		Summary:        "qualification call",
		SuggestedStage: "qualified",
	}

	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "acme_corp_2026-02-28.md", "notes", "run1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Prospect.ID != "p1" {
		t.Fatalf("expected company match, got %s", outcome.Prospect.ID)
	}
	if len(crm.createdMeetings) != 1 {
		t.Fatalf("expected 1 meeting record, got %d", len(crm.createdMeetings))
	}
	if !outcome.StageAdvanced || outcome.FromStage != "lead" || outcome.ToStage != "qualified" {
		t.Fatalf("unexpected stage outcome: %+v", outcome)
	}
	if len(crm.createdTransitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(crm.createdTransitions))
	}
	tr := crm.createdTransitions[0]
	if tr.FromStage != "lead" || tr.ToStage != "qualified" || tr.TransitionedBy != "" {
		t.Fatalf("unexpected transition: %+v", tr)
	}
}

func TestReconcileNeverRegressesStage(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "qualified", CreatedAt: time.Now().Add(-time.Hour)},
	}

	for _, suggested := range []string{"lead", "qualified"} {
		extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s", SuggestedStage: suggested}
		outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, suggested+".md", "notes", "run1")
		if err != nil {
			t.Fatalf("Reconcile(%s): %v", suggested, err)
		}
		if outcome.StageAdvanced {
			t.Fatalf("suggested %q must not advance past qualified", suggested)
		}
	}
	if len(crm.stageUpdates) != 0 {
		t.Fatalf("expected no stage updates, got %v", crm.stageUpdates)
	}
	if len(crm.createdTransitions) != 0 {
		t.Fatalf("no-op advances must not record transitions, got %d", len(crm.createdTransitions))
	}
}

func TestReconcileUnknownStageIsSkippedNotFatal(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "lead", CreatedAt: time.Now().Add(-time.Hour)},
	}

	extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s", SuggestedStage: "moonshot"}
	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "a.md", "notes", "run1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.StageAdvanced {
		t.Fatal("unknown stage must not advance")
	}
	if outcome.StageSkipReason == "" {
		t.Fatal("expected a skip reason")
	}
	if len(crm.createdMeetings) != 1 {
		t.Fatalf("meeting record must still be created, got %d", len(crm.createdMeetings))
	}
}

func TestReconcileStageFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.failStageUpdate = true
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "lead", CreatedAt: time.Now().Add(-time.Hour)},
	}

	extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s", SuggestedStage: "qualified"}
	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "a.md", "notes", "run1")
	if err != nil {
		t.Fatalf("stage failure must not fail the run: %v", err)
	}
	if outcome.StageAdvanced {
		t.Fatal("failed update must not report an advance")
	}
	if len(crm.createdMeetings) != 1 {
		t.Fatalf("meeting history must be preserved, got %d records", len(crm.createdMeetings))
	}
	if len(outcome.Warnings) == 0 {
		t.Fatal("expected a warning for the failed stage update")
	}
}

func TestReconcileSkipsDuplicateMeetingRecord(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "qualified", CreatedAt: time.Now().Add(-time.Hour)},
	}
	crm.meetings["p1"] = []domain.MeetingRecord{
		{ID: "m-existing", ProspectID: "p1", TranscriptFilename: "acme.md"},
	}

	extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s"}
	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "acme.md", "notes", "run2")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !outcome.MeetingDuplicate {
		t.Fatal("expected the duplicate to be detected")
	}
	if outcome.MeetingRecordID != "m-existing" {
		t.Fatalf("expected existing record id, got %s", outcome.MeetingRecordID)
	}
	if len(crm.createdMeetings) != 0 {
		t.Fatalf("retry must not double-create meeting records, got %d", len(crm.createdMeetings))
	}
}

func TestReconcileSkipsDuplicateConsecutiveTransition(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "lead", CreatedAt: time.Now().Add(-time.Hour)},
	}
	// A previous run already recorded lead -> qualified but the prospect
	// stage write was rolled back; the audit entry must not repeat.
	crm.transitions["p1"] = []domain.StageTransition{
		{ID: "t0", ProspectID: "p1", FromStage: "lead", ToStage: "qualified", CreatedAt: time.Now().Add(-time.Minute)},
	}

	extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s", SuggestedStage: "qualified"}
	outcome, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "a.md", "notes", "run2")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !outcome.StageAdvanced {
		t.Fatal("stage update itself should still happen")
	}
	if len(crm.createdTransitions) != 0 {
		t.Fatalf("identical consecutive transition must not be recorded again, got %d", len(crm.createdTransitions))
	}
}

func TestReconcileProspectResolutionFailureIsFatal(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.failProspectSearch = true

	extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s"}
	_, err := newTestUpdater(crm).Reconcile(context.Background(), extract, "a.md", "notes", "run1")
	if err == nil {
		t.Fatal("expected prospect resolution failure to be fatal")
	}
	var conflict *domain.CRMConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected CRMConflictError, got %T: %v", err, err)
	}
	if len(crm.createdMeetings) != 0 {
		t.Fatal("no meeting record may be created without a resolved prospect")
	}
}

func TestMonotonicTransitionSequence(t *testing.T) {
	t.Parallel()

	crm := newFakeCRM()
	crm.prospects = []domain.Prospect{
		{ID: "p1", CompanyName: "Acme Corp", Stage: "lead", CreatedAt: time.Now().Add(-time.Hour)},
	}

	updater := newTestUpdater(crm)
	suggestions := []string{"contacted", "lead", "qualified", "contacted", "closed"}
	for i, suggested := range suggestions {
		extract := domain.MeetingExtract{CompanyName: "Acme Corp", Summary: "s", SuggestedStage: suggested}
		if _, err := updater.Reconcile(context.Background(), extract, fmt.Sprintf("m%d.md", i), "notes", fmt.Sprintf("run%d", i)); err != nil {
			t.Fatalf("Reconcile(%s): %v", suggested, err)
		}
	}

	last := 0
	for _, tr := range crm.createdTransitions {
		ord, ok := stageOrdinal(crm.stages, tr.ToStage)
		if !ok {
			t.Fatalf("transition to unknown stage %s", tr.ToStage)
		}
		if ord < last {
			t.Fatalf("system-authored ordinals must be non-decreasing, got %v", crm.createdTransitions)
		}
		last = ord
	}
	if len(crm.createdTransitions) != 3 {
		t.Fatalf("expected exactly 3 transitions (lead→contacted→qualified→closed), got %d", len(crm.createdTransitions))
	}
}
