package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/proofloop/galley/internal/models"
)

func TestWriteProgressWorkbook(t *testing.T) {
	project := &models.Project{ID: 1, Name: "Sea Stories"}
	stats := []*models.ProjectStats{
		{
			ChapterID:    1,
			ChapterIndex: 1,
			Name:         "The Harbor",
			Paragraphs:   4,
			ByStatus: map[models.CorrectionStatus]int{
				models.StatusNotGenerated: 1,
				models.StatusGenerated:    1,
				models.StatusAccepted:     2,
			},
		},
		{
			ChapterID:    2,
			ChapterIndex: 2,
			Name:         "Open Water",
			Paragraphs:   2,
			ByStatus: map[models.CorrectionStatus]int{
				models.StatusNotRequired: 2,
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteProgressWorkbook(&buf, project, stats); err != nil {
		t.Fatalf("WriteProgressWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()

	name, err := f.GetCellValue(progressSheet, "B2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if name != "The Harbor" {
		t.Errorf("B2 = %q, want chapter name", name)
	}
	accepted, err := f.GetCellValue(progressSheet, "G2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if accepted != "2" {
		t.Errorf("G2 = %q, want 2 accepted", accepted)
	}
	done, err := f.GetCellValue(progressSheet, "J3")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if done != "100" {
		t.Errorf("J3 = %q, want fully done chapter", done)
	}
	total, err := f.GetCellValue(progressSheet, "B4")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if total != "Total" {
		t.Errorf("B4 = %q, want total row", total)
	}
}

func TestWriteProgressWorkbook_empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteProgressWorkbook(&buf, &models.Project{Name: "Empty"}, nil); err != nil {
		t.Fatalf("WriteProgressWorkbook: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected workbook bytes")
	}
}
