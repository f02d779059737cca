// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/proofloop/galley/internal/models"
)

// schemaVersion guards against opening a database written by a newer build.
const schemaVersion = 1

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		correction_re_runs INTEGER NOT NULL DEFAULT 2,
		auto_summaries INTEGER NOT NULL DEFAULT 1,
		validation_threshold REAL NOT NULL DEFAULT 0.5,
		validation_all_must_pass INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		style_prompt TEXT,
		correction_strength_level INTEGER NOT NULL DEFAULT 2,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chapters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		chapter_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		summary TEXT,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chapters_project ON chapters(project_id, chapter_index);

	CREATE TABLE IF NOT EXISTS paragraphs (
		chapter_id INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		original_text TEXT NOT NULL,
		corrected_text TEXT,
		manually_corrected_text TEXT,
		correction_status INTEGER NOT NULL DEFAULT 0,
		leading_space INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chapter_id, idx),
		FOREIGN KEY (chapter_id) REFERENCES chapters(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_paragraphs_status ON paragraphs(chapter_id, correction_status);

	CREATE TABLE IF NOT EXISTS imports (
		source_path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		project_id INTEGER NOT NULL,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return ensureConfigRow(db)
}

// ensureConfigRow creates the singleton config row on first open and refuses
// databases written by a newer schema.
func ensureConfigRow(db *sql.DB) error {
	var version int
	err := db.QueryRow(`SELECT version FROM config WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		_, err = db.Exec(`INSERT INTO config (id, version, correction_re_runs, auto_summaries, validation_threshold, validation_all_must_pass)
			VALUES (1, ?, 2, 1, 0.5, 0)`, schemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

// CreateProject inserts a project with all its chapters and paragraphs in one
// transaction and fills in the generated IDs.
func (s *SQLiteStorage) CreateProject(ctx context.Context, project *models.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	project.CreatedAt = time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, style_prompt, correction_strength_level, created_at)
		 VALUES (?, ?, ?, ?)`,
		project.Name, nullable(project.StylePrompt), project.CorrectionStrengthLevel, project.CreatedAt,
	)
	if err != nil {
		return err
	}
	project.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO paragraphs (chapter_id, idx, original_text, correction_status, leading_space)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for ci := range project.Chapters {
		ch := &project.Chapters[ci]
		ch.ProjectID = project.ID
		if ch.ChapterIndex == 0 {
			ch.ChapterIndex = ci + 1
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chapters (project_id, chapter_index, name, summary) VALUES (?, ?, ?, ?)`,
			ch.ProjectID, ch.ChapterIndex, ch.Name, nullable(ch.Summary),
		)
		if err != nil {
			return err
		}
		if ch.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for pi := range ch.Paragraphs {
			p := &ch.Paragraphs[pi]
			p.PartOfChapter = ch.ID
			if p.Index == 0 {
				p.Index = pi + 1
			}
			if _, err := stmt.ExecContext(ctx, ch.ID, p.Index, p.OriginalText, p.CorrectionStatus, p.LeadingSpace); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// GetProject returns a project with its chapter list. Paragraphs are not
// loaded; use GetChapter for those.
func (s *SQLiteStorage) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	project, err := s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, style_prompt, correction_strength_level, created_at
		 FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	chapters, err := s.ListChapters(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, ch := range chapters {
		project.Chapters = append(project.Chapters, *ch)
	}
	return project, nil
}

// GetProjectByChapter returns the project a chapter belongs to.
func (s *SQLiteStorage) GetProjectByChapter(ctx context.Context, chapterID int64) (*models.Project, error) {
	return s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.style_prompt, p.correction_strength_level, p.created_at
		 FROM projects p JOIN chapters c ON c.project_id = p.id WHERE c.id = ?`, chapterID))
}

func (s *SQLiteStorage) scanProject(row *sql.Row) (*models.Project, error) {
	var project models.Project
	var stylePrompt sql.NullString
	err := row.Scan(&project.ID, &project.Name, &stylePrompt, &project.CorrectionStrengthLevel, &project.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	project.StylePrompt = stylePrompt.String
	return &project, nil
}

// ListProjects returns all projects ordered by creation time, newest first.
// Chapter lists are not loaded.
func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, style_prompt, correction_strength_level, created_at
		 FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var project models.Project
		var stylePrompt sql.NullString
		if err := rows.Scan(&project.ID, &project.Name, &stylePrompt, &project.CorrectionStrengthLevel, &project.CreatedAt); err != nil {
			return nil, err
		}
		project.StylePrompt = stylePrompt.String
		projects = append(projects, &project)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project; chapters and paragraphs go with it.
func (s *SQLiteStorage) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %w", ErrNotFound)
	}
	return nil
}

// GetChapter returns a chapter with its paragraphs ordered by index.
func (s *SQLiteStorage) GetChapter(ctx context.Context, id int64) (*models.Chapter, error) {
	var ch models.Chapter
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, chapter_index, name, summary FROM chapters WHERE id = ?`, id,
	).Scan(&ch.ID, &ch.ProjectID, &ch.ChapterIndex, &ch.Name, &summary)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chapter %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ch.Summary = summary.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT chapter_id, idx, original_text, corrected_text, manually_corrected_text, correction_status, leading_space
		 FROM paragraphs WHERE chapter_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanParagraph(rows)
		if err != nil {
			return nil, err
		}
		ch.Paragraphs = append(ch.Paragraphs, *p)
	}
	return &ch, rows.Err()
}

// ListChapters returns the chapters of a project in reading order, without
// paragraphs.
func (s *SQLiteStorage) ListChapters(ctx context.Context, projectID int64) ([]*models.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, chapter_index, name, summary
		 FROM chapters WHERE project_id = ? ORDER BY chapter_index`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []*models.Chapter
	for rows.Next() {
		var ch models.Chapter
		var summary sql.NullString
		if err := rows.Scan(&ch.ID, &ch.ProjectID, &ch.ChapterIndex, &ch.Name, &summary); err != nil {
			return nil, err
		}
		ch.Summary = summary.String
		chapters = append(chapters, &ch)
	}
	return chapters, rows.Err()
}

// UpdateChapterSummary replaces a chapter summary.
func (s *SQLiteStorage) UpdateChapterSummary(ctx context.Context, id int64, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chapters SET summary = ? WHERE id = ?`, nullable(summary), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chapter %w", ErrNotFound)
	}
	return nil
}

// GetParagraph returns one paragraph by chapter and 1-based index.
func (s *SQLiteStorage) GetParagraph(ctx context.Context, chapterID int64, index int) (*models.Paragraph, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chapter_id, idx, original_text, corrected_text, manually_corrected_text, correction_status, leading_space
		 FROM paragraphs WHERE chapter_id = ? AND idx = ?`, chapterID, index)
	p, err := scanParagraph(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paragraph %w", ErrNotFound)
	}
	return p, err
}

// UpdateParagraph persists the review state of a paragraph: its corrected
// texts and status. Original text and leading space never change after import.
func (s *SQLiteStorage) UpdateParagraph(ctx context.Context, p *models.Paragraph) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE paragraphs SET corrected_text = ?, manually_corrected_text = ?, correction_status = ?
		 WHERE chapter_id = ? AND idx = ?`,
		nullable(p.CorrectedText), nullable(p.ManuallyCorrectedText), p.CorrectionStatus, p.PartOfChapter, p.Index)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("paragraph %w", ErrNotFound)
	}
	return nil
}

// NextParagraph returns the index of the nearest paragraph in the requested
// direction that still needs review (status notGenerated or generated). When
// nothing further needs review but the current paragraph itself does, current
// is returned, which callers treat as "stay put". Otherwise
// ErrNoParagraphsLeft is wrapped.
func (s *SQLiteStorage) NextParagraph(ctx context.Context, chapterID int64, current int, reverse bool) (int, error) {
	query := `SELECT idx FROM paragraphs
		 WHERE chapter_id = ? AND idx > ? AND correction_status IN (?, ?)
		 ORDER BY idx ASC LIMIT 1`
	if reverse {
		query = `SELECT idx FROM paragraphs
		 WHERE chapter_id = ? AND idx < ? AND correction_status IN (?, ?)
		 ORDER BY idx DESC LIMIT 1`
	}

	var next int
	err := s.db.QueryRowContext(ctx, query, chapterID, current,
		models.StatusNotGenerated, models.StatusGenerated).Scan(&next)
	if err == nil {
		return next, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	// Nothing beyond the cursor; fall back to the current paragraph when it
	// still needs review itself. A cursor that resolves to no paragraph at
	// all (such as the zen entry cursor 0) is a chapter boundary, not an
	// error.
	p, err := s.GetParagraph(ctx, chapterID, current)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNoParagraphsLeft
		}
		return 0, err
	}
	if p.CorrectionStatus.NeedsReview() {
		return current, nil
	}
	return 0, ErrNoParagraphsLeft
}

// ChapterStats returns per-chapter paragraph counts grouped by status, in
// reading order.
func (s *SQLiteStorage) ChapterStats(ctx context.Context, projectID int64) ([]*models.ProjectStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.chapter_index, c.name, p.correction_status, COUNT(*)
		 FROM chapters c JOIN paragraphs p ON p.chapter_id = c.id
		 WHERE c.project_id = ?
		 GROUP BY c.id, p.correction_status
		 ORDER BY c.chapter_index`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*models.ProjectStats
	byChapter := map[int64]*models.ProjectStats{}
	for rows.Next() {
		var chapterID int64
		var chapterIndex, count int
		var name string
		var status models.CorrectionStatus
		if err := rows.Scan(&chapterID, &chapterIndex, &name, &status, &count); err != nil {
			return nil, err
		}
		st, ok := byChapter[chapterID]
		if !ok {
			st = &models.ProjectStats{
				ChapterID:    chapterID,
				ChapterIndex: chapterIndex,
				Name:         name,
				ByStatus:     map[models.CorrectionStatus]int{},
			}
			byChapter[chapterID] = st
			stats = append(stats, st)
		}
		st.ByStatus[status] = count
		st.Paragraphs += count
	}
	return stats, rows.Err()
}

// GetWorkflowConfig reads the singleton settings row.
func (s *SQLiteStorage) GetWorkflowConfig(ctx context.Context) (*models.WorkflowConfig, error) {
	var cfg models.WorkflowConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT correction_re_runs, auto_summaries, validation_threshold, validation_all_must_pass
		 FROM config WHERE id = 1`,
	).Scan(&cfg.CorrectionReRuns, &cfg.AutoSummaries, &cfg.ValidationThreshold, &cfg.ValidationAllMustPass)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetWorkflowConfig updates the singleton settings row.
func (s *SQLiteStorage) SetWorkflowConfig(ctx context.Context, cfg *models.WorkflowConfig) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE config SET correction_re_runs = ?, auto_summaries = ?,
		 validation_threshold = ?, validation_all_must_pass = ? WHERE id = 1`,
		cfg.CorrectionReRuns, cfg.AutoSummaries, cfg.ValidationThreshold, cfg.ValidationAllMustPass)
	return err
}

// RecordImport remembers which file produced which project, so the inbox
// watcher can skip files it has already imported.
func (s *SQLiteStorage) RecordImport(ctx context.Context, sourcePath, contentHash string, projectID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (source_path, content_hash, project_id, imported_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_path) DO UPDATE SET content_hash = excluded.content_hash,
		 project_id = excluded.project_id, imported_at = excluded.imported_at`,
		sourcePath, contentHash, projectID, time.Now())
	return err
}

// GetImport returns the recorded hash and project for a source path.
func (s *SQLiteStorage) GetImport(ctx context.Context, sourcePath string) (string, int64, error) {
	var hash string
	var projectID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash, project_id FROM imports WHERE source_path = ?`, sourcePath,
	).Scan(&hash, &projectID)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("import record %w", ErrNotFound)
	}
	if err != nil {
		return "", 0, err
	}
	return hash, projectID, nil
}

// CountProjects returns the total number of projects.
func (s *SQLiteStorage) CountProjects(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count)
	return count, err
}

// CountChapters returns the total number of chapters.
func (s *SQLiteStorage) CountChapters(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters`).Scan(&count)
	return count, err
}

// CountParagraphs returns the total number of paragraphs.
func (s *SQLiteStorage) CountParagraphs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paragraphs`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanParagraph(row rowScanner) (*models.Paragraph, error) {
	var p models.Paragraph
	var corrected, manual sql.NullString
	err := row.Scan(&p.PartOfChapter, &p.Index, &p.OriginalText, &corrected, &manual, &p.CorrectionStatus, &p.LeadingSpace)
	if err != nil {
		return nil, err
	}
	p.CorrectedText = corrected.String
	p.ManuallyCorrectedText = manual.String
	return &p, nil
}

// nullable maps empty strings to NULL so cleared corrections do not linger as
// empty text.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
