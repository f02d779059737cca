package importer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/proofloop/galley/internal/models"
)

// parsePDF reads a PDF into a single chapter with one paragraph per page.
// PDFs carry no reliable paragraph markup, so the page is the finest unit
// we can trust.
func parsePDF(content []byte, name string) ([]models.ChapterInput, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	chapter := models.ChapterInput{Name: name}
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		chapter.Paragraphs = append(chapter.Paragraphs, models.ParagraphInput{Text: text})
	}
	if len(chapter.Paragraphs) == 0 {
		return nil, fmt.Errorf("PDF contains no extractable text")
	}
	return []models.ChapterInput{chapter}, nil
}
