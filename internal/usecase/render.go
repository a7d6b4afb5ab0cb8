package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"TranscriptPipeline/internal/domain"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// renderMeetingNotes produces the markdown artifact embedding the
// extracted fields. Presentation only; the contract is that company,
// date, participants, summary, action items, decisions, and next steps
// are all faithfully included.
func renderMeetingNotes(extract domain.MeetingExtract, transcriptFilename, runID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Meeting Notes: %s\n\n", extract.CompanyName)
	fmt.Fprintf(&b, "- Transcript: %s\n", transcriptFilename)
	fmt.Fprintf(&b, "- Run: %s\n", runID)
	if extract.MeetingDate != "" {
		fmt.Fprintf(&b, "- Date: %s\n", extract.MeetingDate)
	}
	if extract.ContactName != "" {
		fmt.Fprintf(&b, "- Contact: %s", extract.ContactName)
		if extract.ContactEmail != "" {
			fmt.Fprintf(&b, " <%s>", extract.ContactEmail)
		}
		b.WriteString("\n")
	} else if extract.ContactEmail != "" {
		fmt.Fprintf(&b, "- Contact: %s\n", extract.ContactEmail)
	}
	if len(extract.Participants) > 0 {
		fmt.Fprintf(&b, "- Participants: %s\n", strings.Join(extract.Participants, ", "))
	}

	fmt.Fprintf(&b, "\n## Summary\n\n%s\n", extract.Summary)

	writeSection(&b, "Discussion Points", extract.DiscussionPoints)
	writeSection(&b, "Action Items", extract.ActionItems)
	writeSection(&b, "Decisions", extract.Decisions)
	writeSection(&b, "Next Steps", extract.NextSteps)

	if extract.SuggestedStage != "" {
		fmt.Fprintf(&b, "\n## Suggested Pipeline Stage\n\n%s\n", extract.SuggestedStage)
	}

	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// buildIssueBody summarizes one run for the external tracker.
func buildIssueBody(outcome domain.RunOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Processed transcript `%s` (run `%s`).\n\n", outcome.TranscriptFilename, outcome.RunID)

	if outcome.ProspectCreated {
		fmt.Fprintf(&b, "**Prospect**: created `%s` (%s)\n", outcome.Prospect.CompanyName, outcome.Prospect.ID)
	} else {
		fmt.Fprintf(&b, "**Prospect**: matched `%s` (%s)\n", outcome.Prospect.CompanyName, outcome.Prospect.ID)
	}

	if outcome.MeetingDuplicate {
		fmt.Fprintf(&b, "**Meeting record**: already existed (%s)\n", outcome.MeetingRecordID)
	} else {
		fmt.Fprintf(&b, "**Meeting record**: %s\n", outcome.MeetingRecordID)
	}

	if outcome.StageAdvanced {
		fmt.Fprintf(&b, "**Stage**: %s → %s\n", outcome.FromStage, outcome.ToStage)
	} else {
		fmt.Fprintf(&b, "**Stage**: unchanged (%s)\n", outcome.StageSkipReason)
	}

	fmt.Fprintf(&b, "\n## Summary\n\n%s\n", outcome.Extract.Summary)

	if len(outcome.Extract.ActionItems) > 0 {
		b.WriteString("\n## Action Items\n\n")
		for _, item := range outcome.Extract.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if len(outcome.Extract.NextSteps) > 0 {
		b.WriteString("\n## Next Steps\n\n")
		for _, item := range outcome.Extract.NextSteps {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	if len(outcome.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, warning := range outcome.Warnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
	}

	return b.String()
}

// slugify converts a company name into a filename-friendly slug.
func slugify(text string) string {
	slug := strings.ToLower(text)
	slug = nonSlugChars.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}
