package review

import (
	"errors"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func TestDiffDocument_seededFromCorrection(t *testing.T) {
	d := NewDiffDocument("The keeper watched teh storm.", "The keeper watched the storm.")

	got, err := d.EditedText()
	if err != nil {
		t.Fatalf("EditedText: %v", err)
	}
	if got != "The keeper watched the storm." {
		t.Errorf("EditedText() = %q", got)
	}
	orig, err := d.OriginalText()
	if err != nil {
		t.Fatalf("OriginalText: %v", err)
	}
	if orig != "The keeper watched teh storm." {
		t.Errorf("OriginalText() = %q", orig)
	}
}

func TestDiffDocument_segmentsTrackEdits(t *testing.T) {
	d := NewDiffDocument("The keeper watched teh storm.", "The keeper watched the storm.")

	segments, err := d.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if !hasSegment(segments, diffmatchpatch.DiffDelete) || !hasSegment(segments, diffmatchpatch.DiffInsert) {
		t.Errorf("expected both a deletion and an insertion, got %v", segments)
	}

	// Editing the modified side back to the original collapses the diff to
	// a single equal run.
	if err := d.SetEditedText("The keeper watched teh storm."); err != nil {
		t.Fatalf("SetEditedText: %v", err)
	}
	segments, err = d.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segments) != 1 || segments[0].Op != diffmatchpatch.DiffEqual {
		t.Errorf("segments = %v, want one equal run", segments)
	}
}

func TestDiffDocument_closeIsTerminal(t *testing.T) {
	d := NewDiffDocument("a", "b")
	d.Close()
	d.Close()

	if !d.Closed() {
		t.Error("Closed() = false")
	}
	if _, err := d.EditedText(); !errors.Is(err, ErrDocumentClosed) {
		t.Errorf("EditedText err = %v", err)
	}
	if err := d.SetEditedText("c"); !errors.Is(err, ErrDocumentClosed) {
		t.Errorf("SetEditedText err = %v", err)
	}
	if _, err := d.OriginalText(); !errors.Is(err, ErrDocumentClosed) {
		t.Errorf("OriginalText err = %v", err)
	}
	if _, err := d.Segments(); !errors.Is(err, ErrDocumentClosed) {
		t.Errorf("Segments err = %v", err)
	}
}

func hasSegment(segments []Segment, op diffmatchpatch.Operation) bool {
	for _, s := range segments {
		if s.Op == op {
			return true
		}
	}
	return false
}
