package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/proofloop/galley/internal/models"
)

const progressSheet = "Progress"

// WriteProgressWorkbook writes per-chapter review progress for a project as
// an xlsx workbook: one row per chapter with counts by status and the share
// of paragraphs already resolved.
func WriteProgressWorkbook(w io.Writer, project *models.Project, stats []*models.ProjectStats) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", progressSheet); err != nil {
		return fmt.Errorf("prepare workbook: %w", err)
	}

	rows := [][]interface{}{
		{"Chapter", "Name", "Paragraphs", "Not generated", "Generated", "Reviewed", "Accepted", "Not required", "Rejected", "Done %"},
	}
	var totalParagraphs, totalDone int
	for _, st := range stats {
		done := st.ByStatus[models.StatusAccepted] + st.ByStatus[models.StatusNotRequired] + st.ByStatus[models.StatusRejected]
		totalParagraphs += st.Paragraphs
		totalDone += done
		rows = append(rows, []interface{}{
			st.ChapterIndex,
			st.Name,
			st.Paragraphs,
			st.ByStatus[models.StatusNotGenerated],
			st.ByStatus[models.StatusGenerated],
			st.ByStatus[models.StatusReviewed],
			st.ByStatus[models.StatusAccepted],
			st.ByStatus[models.StatusNotRequired],
			st.ByStatus[models.StatusRejected],
			donePercent(done, st.Paragraphs),
		})
	}
	rows = append(rows, []interface{}{
		"", "Total", totalParagraphs, "", "", "", "", "", "", donePercent(totalDone, totalParagraphs),
	})

	for r, cells := range rows {
		for c, v := range cells {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
			if err := f.SetCellValue(progressSheet, cell, v); err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
		}
	}
	if err := f.SetColWidth(progressSheet, "B", "B", 32); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook for %s: %w", project.Name, err)
	}
	return nil
}

func donePercent(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
