// Package cli renders command output for the galley CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/proofloop/galley/internal/models"
	"github.com/proofloop/galley/internal/review"
	"github.com/proofloop/galley/internal/search"
	"github.com/proofloop/galley/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ServerStatus mirrors the GET /api/status payload.
type ServerStatus struct {
	Projects          int64  `json:"projects"`
	Chapters          int64  `json:"chapters"`
	Paragraphs        int64  `json:"paragraphs"`
	IndexedParagraphs uint64 `json:"indexedParagraphs,omitempty"`
	DiskUsageBytes    int64  `json:"diskUsageBytes,omitempty"`
	Thinking          bool   `json:"thinking"`
}

// WriteSearchResults writes paragraph search hits to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, results []*search.Result, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"results": results})
	}
	fmt.Fprintf(w, "\nFound %d matching paragraph(s)\n\n", len(results))
	for _, r := range results {
		fmt.Fprintf(w, "chapter %d, paragraph %d  (score %.3f)\n", r.ChapterID, r.Index, r.Score)
		fmt.Fprintf(w, "  %s\n\n", Truncate(r.Text, 200))
	}
	return nil
}

// WriteStatus writes the server status to w in the given format.
func WriteStatus(w io.Writer, st *ServerStatus, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(w, "Projects:    %d\n", st.Projects)
	fmt.Fprintf(w, "Chapters:    %d\n", st.Chapters)
	fmt.Fprintf(w, "Paragraphs:  %d\n", st.Paragraphs)
	if st.IndexedParagraphs > 0 {
		fmt.Fprintf(w, "Indexed:     %d\n", st.IndexedParagraphs)
	}
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage:  %s\n", utils.FormatBytes(st.DiskUsageBytes))
	}
	fmt.Fprintf(w, "AI busy:     %t\n", st.Thinking)
	return nil
}

// WriteProjects writes the project listing to w in the given format.
func WriteProjects(w io.Writer, projects []*models.Project, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects imported yet.")
		return nil
	}
	for _, p := range projects {
		fmt.Fprintf(w, "%4d  %-32s  strength %d  %s\n",
			p.ID, Truncate(p.Name, 32), p.CorrectionStrengthLevel,
			p.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

// WriteParagraph renders one paragraph for the zen review loop: a header with
// position and status, then the text. When diff segments are present the
// changes are marked inline.
func WriteParagraph(w io.Writer, p *models.Paragraph, segments []review.Segment) {
	fmt.Fprintf(w, "\nparagraph %d  [%s]\n\n", p.Index, p.CorrectionStatus)
	if len(segments) == 0 {
		fmt.Fprintln(w, p.OriginalText)
		return
	}
	fmt.Fprintln(w, FormatDiff(segments))
}

// FormatDiff renders diff segments with wdiff-style markers: deletions as
// [-text-], insertions as {+text+}.
func FormatDiff(segments []review.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Op {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-")
			b.WriteString(seg.Text)
			b.WriteString("-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+")
			b.WriteString(seg.Text)
			b.WriteString("+}")
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
