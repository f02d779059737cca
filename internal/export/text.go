// Package export renders review results into deliverable files: plain-text
// correction reports and xlsx progress workbooks.
package export

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/proofloop/galley/internal/models"
)

// Mode selects the report layout.
type Mode int

const (
	// ModeCorrectionsWithOriginal lists every accepted correction next to its
	// original text, with changed segments highlighted.
	ModeCorrectionsWithOriginal Mode = iota
)

// ParseMode maps the API's mode parameter to a Mode. The empty string selects
// the default mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "correctionsWithOriginal":
		return ModeCorrectionsWithOriginal, nil
	}
	return 0, fmt.Errorf("invalid export mode: %q", s)
}

// ChapterReport renders a chapter's accepted corrections as plain text. The
// report opens with a warning when paragraphs still need review, then lists
// each accepted correction with its original, preserving leading blank lines
// from the source document.
func ChapterReport(chapter *models.Chapter, mode Mode) (string, error) {
	if mode != ModeCorrectionsWithOriginal {
		return "", fmt.Errorf("invalid export mode")
	}

	unhandled := 0
	accepted := 0
	for _, p := range chapter.Paragraphs {
		if p.CorrectionStatus.NeedsReview() {
			unhandled++
		}
		if p.CorrectionStatus == models.StatusAccepted {
			accepted++
		}
	}

	var b strings.Builder
	if unhandled > 0 {
		fmt.Fprintf(&b, "This chapter has %d paragraphs that need manual checking!\n\n", unhandled)
	}
	fmt.Fprintf(&b, "Listing %d paragraph(s) that have corrections.\n", accepted)

	for _, p := range chapter.Paragraphs {
		if p.CorrectionStatus != models.StatusAccepted {
			continue
		}
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\n", p.LeadingSpace))
		fmt.Fprintf(&b, "Paragraph %d:\n", p.Index)

		correction := p.EffectiveCorrection()
		fmt.Fprintf(&b, "Original: %s\n", p.OriginalText)
		fmt.Fprintf(&b, "Correction: %s\n", correction)
		b.WriteString("\nCorrection highlighted:\n")
		b.WriteString(HighlightDiff(p.OriginalText, correction))
		b.WriteString("\n---\n")
	}
	return b.String(), nil
}

// HighlightDiff wraps the segments of updated that differ from original in
// '*' markers. A deletion leaves an empty '**' marker at the deletion site so
// removed text stays visible in the report.
func HighlightDiff(original, updated string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(original, updated, false))

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffInsert:
			b.WriteString("*")
			b.WriteString(d.Text)
			b.WriteString("*")
		case diffmatchpatch.DiffDelete:
			b.WriteString("**")
		}
	}
	return b.String()
}
