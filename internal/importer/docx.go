package importer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/proofloop/galley/internal/models"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wtTag matches <w:t>text</w:t> or <w:t xml:space="preserve">text</w:t> (and any other attributes).
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != contentTypesPath {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return ""
		}
		content := string(data)
		// Try both attribute orders
		if matches := partNameRe.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimPrefix(matches[1], "/")
		}
		if matches := partNameRe2.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimPrefix(matches[1], "/")
		}
		return ""
	}
	return ""
}

// parseDOCX reads a .docx manuscript into a single chapter. DOCX is a ZIP
// containing word/document.xml (OOXML); each <w:p> block becomes one
// paragraph. Runs inside a paragraph concatenate directly because Word splits
// words across <w:t> runs. An empty <w:p> marks leading space on the next
// paragraph, matching how blank lines behave in plain text.
func parseDOCX(content []byte, name string) ([]models.ChapterInput, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("read DOCX: not a zip: %w", err)
	}

	// Find main document path from [Content_Types].xml, fall back to default
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docPath {
			continue
		}
		docXML, err = readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("read DOCX: %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("read DOCX: %s not found", docPath)
	}

	chapter := models.ChapterInput{Name: name}
	leading := 0
	for _, block := range strings.Split(string(docXML), "</w:p>") {
		if !strings.Contains(block, "<w:p") {
			continue
		}
		runs := wtTag.FindAllStringSubmatch(block, -1)
		var b strings.Builder
		for _, r := range runs {
			b.WriteString(html.UnescapeString(r[1]))
		}
		text := strings.Join(strings.Fields(b.String()), " ")
		if text == "" {
			if len(chapter.Paragraphs) > 0 {
				leading = 1
			}
			continue
		}
		chapter.Paragraphs = append(chapter.Paragraphs, models.ParagraphInput{Text: text, LeadingSpace: leading})
		leading = 0
	}
	if len(chapter.Paragraphs) == 0 {
		return nil, fmt.Errorf("DOCX contains no extractable text")
	}
	return []models.ChapterInput{chapter}, nil
}
