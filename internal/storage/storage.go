// Package storage defines the persistence interface for projects, chapters,
// and paragraphs under review.
package storage

import (
	"context"
	"errors"

	"github.com/proofloop/galley/internal/models"
)

// ErrNotFound is wrapped by all lookups that miss.
var ErrNotFound = errors.New("not found")

// ErrNoParagraphsLeft is returned by NextParagraph when no paragraph in the
// requested direction still needs review.
var ErrNoParagraphsLeft = errors.New("no more paragraphs need review")

// Storage defines project, chapter, and paragraph persistence operations.
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByChapter(ctx context.Context, chapterID int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, id int64) error

	// Chapter operations
	GetChapter(ctx context.Context, id int64) (*models.Chapter, error)
	ListChapters(ctx context.Context, projectID int64) ([]*models.Chapter, error)
	UpdateChapterSummary(ctx context.Context, id int64, summary string) error

	// Paragraph operations
	GetParagraph(ctx context.Context, chapterID int64, index int) (*models.Paragraph, error)
	UpdateParagraph(ctx context.Context, p *models.Paragraph) error
	NextParagraph(ctx context.Context, chapterID int64, current int, reverse bool) (int, error)

	// Review progress
	ChapterStats(ctx context.Context, projectID int64) ([]*models.ProjectStats, error)

	// Workflow settings stored alongside the manuscripts
	GetWorkflowConfig(ctx context.Context) (*models.WorkflowConfig, error)
	SetWorkflowConfig(ctx context.Context, cfg *models.WorkflowConfig) error

	// Import bookkeeping for the inbox watcher
	RecordImport(ctx context.Context, sourcePath, contentHash string, projectID int64) error
	GetImport(ctx context.Context, sourcePath string) (contentHash string, projectID int64, err error)

	// Stats
	CountProjects(ctx context.Context) (int64, error)
	CountChapters(ctx context.Context) (int64, error)
	CountParagraphs(ctx context.Context) (int64, error)

	Close() error
}
