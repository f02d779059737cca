package correction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/models"
	"github.com/proofloop/galley/internal/storage"
)

// Service owns the generation queue and runs correction and summary jobs
// against storage. It is the single writer of correctedText.
type Service struct {
	store  storage.Storage
	gen    Generator
	queue  *Queue
	logger *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for the service and its queue.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a correction service. The validation threshold and
// batch mode come from the stored workflow config, read per job.
func NewService(store storage.Storage, gen Generator, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		gen:    gen,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = NewQueue(WithQueueLogger(s.logger))
	return s
}

// Start launches the job worker.
func (s *Service) Start(ctx context.Context) error {
	return s.queue.Start(ctx)
}

// Stop halts the job worker.
func (s *Service) Stop() {
	s.queue.Stop()
}

// Busy reports whether generation work is queued or running.
func (s *Service) Busy() bool {
	return s.queue.Busy()
}

// Wait blocks until all queued jobs are done. Used by the import CLI and in
// tests.
func (s *Service) Wait(ctx context.Context) error {
	return s.queue.Wait(ctx)
}

// ClearPending drops queued generation jobs and reports how many were
// dropped. A job already running finishes normally.
func (s *Service) ClearPending() int {
	n := s.queue.Clear()
	if n > 0 {
		s.logger.Info("pending generation jobs cleared", zap.Int("dropped", n))
	}
	return n
}

// EnqueueParagraphCorrection queues generation for one paragraph.
func (s *Service) EnqueueParagraphCorrection(chapterID int64, index int) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      JobParagraphCorrection,
		ChapterID: chapterID,
		Paragraph: index,
		run: func(ctx context.Context) error {
			return s.correctParagraph(ctx, chapterID, index)
		},
	}
	return job, s.queue.Submit(job)
}

// EnqueueChapterCorrections queues generation for every paragraph of a
// chapter that has no correction yet.
func (s *Service) EnqueueChapterCorrections(chapterID int64) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      JobChapterCorrections,
		ChapterID: chapterID,
		run: func(ctx context.Context) error {
			return s.correctChapter(ctx, chapterID)
		},
	}
	return job, s.queue.Submit(job)
}

// EnqueueChapterSummary queues summary generation for a chapter.
func (s *Service) EnqueueChapterSummary(chapterID int64) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      JobChapterSummary,
		ChapterID: chapterID,
		run: func(ctx context.Context) error {
			return s.summarizeChapter(ctx, chapterID)
		},
	}
	return job, s.queue.Submit(job)
}

func (s *Service) correctParagraph(ctx context.Context, chapterID int64, index int) error {
	p, err := s.store.GetParagraph(ctx, chapterID, index)
	if err != nil {
		return err
	}
	project, err := s.store.GetProjectByChapter(ctx, chapterID)
	if err != nil {
		return err
	}

	corrected, err := s.generateValidated(ctx, project, p.OriginalText)
	if err != nil {
		return err
	}

	// Re-read before writing: the reviewer may have acted while generation
	// ran, and their manual text must survive.
	p, err = s.store.GetParagraph(ctx, chapterID, index)
	if err != nil {
		return err
	}
	p.CorrectedText = corrected
	p.CorrectionStatus = models.StatusGenerated
	if err := s.store.UpdateParagraph(ctx, p); err != nil {
		return err
	}
	s.logger.Info("correction generated",
		zap.Int64("chapter_id", chapterID),
		zap.Int("paragraph", index))
	return nil
}

// correctChapter generates corrections for every notGenerated paragraph and
// validates them as one batch, by average distance or with every correction
// within the threshold when all-must-pass is configured. A failed batch
// consumes a re-run and regenerates from scratch; nothing is persisted until
// a batch passes.
func (s *Service) correctChapter(ctx context.Context, chapterID int64) error {
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	project, err := s.store.GetProjectByChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	wf, err := s.store.GetWorkflowConfig(ctx)
	if err != nil {
		return err
	}

	var pending []*models.Paragraph
	for i := range ch.Paragraphs {
		if ch.Paragraphs[i].CorrectionStatus == models.StatusNotGenerated {
			pending = append(pending, &ch.Paragraphs[i])
		}
	}
	if len(pending) == 0 {
		s.logger.Info("chapter has no paragraphs awaiting generation",
			zap.Int64("chapter_id", chapterID))
		return nil
	}

	attempts := 1 + wf.CorrectionReRuns
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		originals := make([]string, 0, len(pending))
		corrections := make([]string, 0, len(pending))
		for _, p := range pending {
			corrected, err := s.gen.CorrectParagraph(ctx, &Request{
				Text:        p.OriginalText,
				StylePrompt: project.StylePrompt,
				Strength:    project.CorrectionStrengthLevel,
			})
			if err != nil {
				lastErr = err
				break
			}
			originals = append(originals, p.OriginalText)
			corrections = append(corrections, corrected)
		}
		if len(corrections) < len(pending) {
			s.logger.Warn("chapter generation failed",
				zap.Int64("chapter_id", chapterID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			continue
		}
		if err := ValidateCorrections(originals, corrections, thresholdOf(wf), wf.ValidationAllMustPass); err != nil {
			lastErr = err
			s.logger.Warn("chapter batch failed validation",
				zap.Int64("chapter_id", chapterID),
				zap.Int("attempt", attempt),
				zap.Bool("all_must_pass", wf.ValidationAllMustPass),
				zap.Error(err))
			continue
		}
		for i, p := range pending {
			p.CorrectedText = corrections[i]
			p.CorrectionStatus = models.StatusGenerated
			if err := s.store.UpdateParagraph(ctx, p); err != nil {
				return err
			}
		}
		s.logger.Info("chapter corrections generated",
			zap.Int64("chapter_id", chapterID),
			zap.Int("corrected", len(pending)))
		return nil
	}
	return fmt.Errorf("chapter %d produced no valid correction batch after %d attempts: %w",
		chapterID, attempts, lastErr)
}

func (s *Service) summarizeChapter(ctx context.Context, chapterID int64) error {
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	texts := make([]string, 0, len(ch.Paragraphs))
	for _, p := range ch.Paragraphs {
		texts = append(texts, p.OriginalText)
	}
	summary, err := s.gen.SummarizeChapter(ctx, strings.Join(texts, "\n\n"))
	if err != nil {
		return err
	}
	return s.store.UpdateChapterSummary(ctx, chapterID, summary)
}

// generateValidated asks the generator for a correction and validates it,
// retrying up to the configured number of re-runs before giving up.
func (s *Service) generateValidated(ctx context.Context, project *models.Project, original string) (string, error) {
	wf, err := s.store.GetWorkflowConfig(ctx)
	if err != nil {
		return "", err
	}
	attempts := 1 + wf.CorrectionReRuns

	req := &Request{
		Text:        original,
		StylePrompt: project.StylePrompt,
		Strength:    project.CorrectionStrengthLevel,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		corrected, err := s.gen.CorrectParagraph(ctx, req)
		if err != nil {
			lastErr = err
			s.logger.Warn("generation failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if err := ValidateCorrection(original, corrected, thresholdOf(wf)); err != nil {
			lastErr = err
			s.logger.Warn("correction failed validation",
				zap.Int("attempt", attempt),
				zap.Duration("took", time.Since(start)),
				zap.Error(err))
			continue
		}
		return corrected, nil
	}
	return "", fmt.Errorf("no valid correction after %d attempts: %w", attempts, lastErr)
}

// thresholdOf resolves the validation threshold from the workflow config,
// falling back to the default for rows written before the field existed.
func thresholdOf(wf *models.WorkflowConfig) float64 {
	if wf.ValidationThreshold <= 0 {
		return DefaultThreshold
	}
	return wf.ValidationThreshold
}
