package models

import (
	"fmt"
	"time"
)

// Project is a manuscript under review.
type Project struct {
	ID                      int64     `json:"id" db:"id"`
	Name                    string    `json:"name" db:"name"`
	StylePrompt             string    `json:"stylePrompt,omitempty" db:"style_prompt"`
	CorrectionStrengthLevel int       `json:"correctionStrengthLevel" db:"correction_strength_level"`
	CreatedAt               time.Time `json:"createdAt" db:"created_at"`
	Chapters                []Chapter `json:"chapters,omitempty"`
}

// Chapter is an ordered part of a project. ChapterIndex is 1-based.
type Chapter struct {
	ID           int64       `json:"id" db:"id"`
	ProjectID    int64       `json:"projectId" db:"project_id"`
	ChapterIndex int         `json:"chapterIndex" db:"chapter_index"`
	Name         string      `json:"name" db:"name"`
	Summary      string      `json:"summary,omitempty" db:"summary"`
	Paragraphs   []Paragraph `json:"paragraphs,omitempty"`
}

// ProjectInput is the input for creating a project, either from the import
// pipeline or from a pre-parsed manuscript posted to the API.
type ProjectInput struct {
	Name                    string         `json:"name"`
	StylePrompt             string         `json:"stylePrompt,omitempty"`
	CorrectionStrengthLevel int            `json:"correctionStrengthLevel,omitempty"`
	Chapters                []ChapterInput `json:"chapters"`
}

// ChapterInput is one chapter of a ProjectInput.
type ChapterInput struct {
	Name       string           `json:"name"`
	Paragraphs []ParagraphInput `json:"paragraphs"`
}

// ParagraphInput is one paragraph of a ChapterInput. LeadingSpace counts the
// blank lines that preceded the paragraph in the source document.
type ParagraphInput struct {
	Text         string `json:"text"`
	LeadingSpace int    `json:"leadingSpace,omitempty"`
}

// Validate ensures the project input is usable and sets defaults. The
// correction strength defaults to 2 (balanced) and must stay within 1..3.
func (p *ProjectInput) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if p.CorrectionStrengthLevel == 0 {
		p.CorrectionStrengthLevel = 2
	}
	if p.CorrectionStrengthLevel < 1 || p.CorrectionStrengthLevel > 3 {
		return fmt.Errorf("correction strength level must be between 1 and 3")
	}
	if len(p.Chapters) == 0 {
		return fmt.Errorf("project must contain at least one chapter")
	}
	for i, ch := range p.Chapters {
		if ch.Name == "" {
			return fmt.Errorf("chapter %d has no name", i+1)
		}
		if len(ch.Paragraphs) == 0 {
			return fmt.Errorf("chapter %q has no paragraphs", ch.Name)
		}
	}
	return nil
}

// Project builds the storable project tree from the input. Chapters and
// paragraphs are numbered 1-based in input order and every paragraph starts
// in notGenerated.
func (p *ProjectInput) Project() *Project {
	project := &Project{
		Name:                    p.Name,
		StylePrompt:             p.StylePrompt,
		CorrectionStrengthLevel: p.CorrectionStrengthLevel,
	}
	for i, ch := range p.Chapters {
		chapter := Chapter{ChapterIndex: i + 1, Name: ch.Name}
		for j, para := range ch.Paragraphs {
			chapter.Paragraphs = append(chapter.Paragraphs, Paragraph{
				Index:            j + 1,
				OriginalText:     para.Text,
				CorrectionStatus: StatusNotGenerated,
				LeadingSpace:     para.LeadingSpace,
			})
		}
		project.Chapters = append(project.Chapters, chapter)
	}
	return project
}

// WorkflowConfig holds reviewer-tunable settings stored alongside the
// manuscripts. CorrectionReRuns is how often a failed validation retriggers
// generation before the job gives up. ValidationThreshold is the maximum
// relative edit distance a correction may have from its original;
// ValidationAllMustPass makes chapter batches fail on any single outlier
// instead of on the batch average.
type WorkflowConfig struct {
	CorrectionReRuns      int     `json:"correctionReRuns" db:"correction_re_runs"`
	AutoSummaries         bool    `json:"autoSummaries" db:"auto_summaries"`
	ValidationThreshold   float64 `json:"validationThreshold" db:"validation_threshold"`
	ValidationAllMustPass bool    `json:"validationAllMustPass" db:"validation_all_must_pass"`
}

// ProjectStats summarizes review progress for one chapter, keyed by status.
type ProjectStats struct {
	ChapterID    int64                    `json:"chapterId"`
	ChapterIndex int                      `json:"chapterIndex"`
	Name         string                   `json:"name"`
	Paragraphs   int                      `json:"paragraphs"`
	ByStatus     map[CorrectionStatus]int `json:"byStatus"`
}
