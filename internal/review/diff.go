package review

import (
	"errors"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrDocumentClosed is returned by operations on a disposed DiffDocument.
var ErrDocumentClosed = errors.New("diff document is closed")

// Segment is one run of text in the original-versus-edited comparison.
type Segment struct {
	Op   diffmatchpatch.Operation
	Text string
}

// DiffDocument is the paragraph-scoped edit surface shown while a correction
// exists: the immutable original on one side, the live edited text on the
// other. The edited side is seeded from the manual correction when present,
// the generated one otherwise. Exactly one document exists per displayed
// paragraph; it must be closed before the next paragraph's document is
// created, and closing is idempotent.
type DiffDocument struct {
	mu       sync.Mutex
	original string
	edited   string
	dmp      *diffmatchpatch.DiffMatchPatch
	closed   bool
}

// NewDiffDocument creates a document comparing original against corrected,
// with corrected as the initial edited text.
func NewDiffDocument(original, corrected string) *DiffDocument {
	return &DiffDocument{
		original: original,
		edited:   corrected,
		dmp:      diffmatchpatch.New(),
	}
}

// EditedText returns the current text of the modified side. This is the
// value a save or approve persists.
func (d *DiffDocument) EditedText() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", ErrDocumentClosed
	}
	return d.edited, nil
}

// SetEditedText replaces the modified side.
func (d *DiffDocument) SetEditedText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDocumentClosed
	}
	d.edited = text
	return nil
}

// OriginalText returns the immutable original side.
func (d *DiffDocument) OriginalText() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", ErrDocumentClosed
	}
	return d.original, nil
}

// Segments computes the display diff between the original and the current
// edited text.
func (d *DiffDocument) Segments() ([]Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDocumentClosed
	}
	diffs := d.dmp.DiffMain(d.original, d.edited, false)
	diffs = d.dmp.DiffCleanupSemantic(diffs)
	segments := make([]Segment, 0, len(diffs))
	for _, diff := range diffs {
		segments = append(segments, Segment{Op: diff.Type, Text: diff.Text})
	}
	return segments, nil
}

// Close disposes the document. Later operations return ErrDocumentClosed;
// closing again is a no-op.
func (d *DiffDocument) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.original = ""
	d.edited = ""
	d.dmp = nil
}

// Closed reports whether the document has been disposed.
func (d *DiffDocument) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
