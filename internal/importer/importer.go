// Package importer parses manuscript files into projects ready for review.
package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/models"
)

// Importer turns manuscript files into project inputs. Supported formats are
// EPUB, plain text, Markdown, PDF, and DOCX.
type Importer struct {
	logger *zap.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets a logger for import progress output.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// New returns a new Importer.
func New(opts ...Option) *Importer {
	im := &Importer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile reads the file at path and parses it into a project named after
// the file.
func (im *Importer) ImportFile(path string) (*models.ProjectInput, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return im.Parse(content, strings.ToLower(filepath.Ext(path)), projectName(path))
}

// Parse parses manuscript content based on the given extension. ext should
// include the leading dot (e.g. ".epub").
func (im *Importer) Parse(content []byte, ext, name string) (*models.ProjectInput, error) {
	var chapters []models.ChapterInput
	var err error
	switch ext {
	case ".epub":
		chapters, err = parseEPUB(content)
	case ".txt", ".md", "":
		chapters, err = parseText(content, name)
	case ".pdf":
		chapters, err = parsePDF(content, name)
	case ".docx":
		chapters, err = parseDOCX(content, name)
	default:
		return nil, fmt.Errorf("unsupported manuscript format: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	input := &models.ProjectInput{Name: name, Chapters: chapters}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("manuscript yields no usable project: %w", err)
	}

	var paragraphs int
	for _, ch := range chapters {
		paragraphs += len(ch.Paragraphs)
	}
	im.logger.Info("manuscript parsed",
		zap.String("name", name),
		zap.Int("chapters", len(chapters)),
		zap.Int("paragraphs", paragraphs))
	return input, nil
}

// projectName derives a readable project name from a file path.
func projectName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if name := strings.TrimSpace(base); name != "" {
		return name
	}
	return "Untitled"
}
