package importer

import (
	"strings"
	"unicode/utf8"

	"github.com/proofloop/galley/internal/models"
)

// parseText splits plain text or Markdown into chapters and paragraphs.
// Heading lines ("#", "##", ...) start a new chapter named after the heading;
// text before any heading becomes a chapter named after the manuscript.
// Paragraphs are separated by blank lines. Blank lines beyond the single
// separator are recorded as leading space on the following paragraph.
func parseText(content []byte, name string) ([]models.ChapterInput, error) {
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "�"))
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	var chapters []models.ChapterInput
	current := models.ChapterInput{Name: name}
	var para []string
	blanks := 0
	leading := 0

	flushParagraph := func() {
		if len(para) == 0 {
			return
		}
		joined := strings.Join(strings.Fields(strings.Join(para, " ")), " ")
		current.Paragraphs = append(current.Paragraphs, models.ParagraphInput{Text: joined, LeadingSpace: leading})
		para = nil
		leading = 0
	}
	flushChapter := func() {
		flushParagraph()
		if len(current.Paragraphs) > 0 {
			chapters = append(chapters, current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if title, ok := headingTitle(trimmed); ok {
			flushChapter()
			current = models.ChapterInput{Name: title}
			para = nil
			blanks = 0
			leading = 0
			continue
		}
		if trimmed == "" {
			if len(para) > 0 {
				flushParagraph()
				blanks = 0
			}
			blanks++
			continue
		}
		if len(para) == 0 {
			if len(current.Paragraphs) > 0 && blanks > 1 {
				leading = blanks - 1
			} else {
				leading = 0
			}
		}
		para = append(para, trimmed)
		blanks = 0
	}
	flushChapter()
	return chapters, nil
}

// headingTitle parses a Markdown heading line.
func headingTitle(line string) (string, bool) {
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimLeft(line, "#"))
	if title == "" {
		return "", false
	}
	return title, true
}
