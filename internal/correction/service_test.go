package correction

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/proofloop/galley/internal/models"
	"github.com/proofloop/galley/internal/storage"
)

// scriptedGenerator returns queued responses in order; an empty string
// produces an error. It counts calls so tests can assert on re-runs.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (g *scriptedGenerator) CorrectParagraph(_ context.Context, req *Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.responses) == 0 {
		return "", fmt.Errorf("no scripted response left")
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	if resp == "" {
		return "", fmt.Errorf("scripted generation failure")
	}
	return resp, nil
}

func (g *scriptedGenerator) SummarizeChapter(_ context.Context, text string) (string, error) {
	return "a short summary", nil
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func setupService(t *testing.T, gen Generator) (*Service, *storage.SQLiteStorage, *models.Project) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	project := &models.Project{
		Name:                    "Test Book",
		CorrectionStrengthLevel: 2,
		Chapters: []models.Chapter{{
			Name: "One",
			Paragraphs: []models.Paragraph{
				{OriginalText: "The ship saled at dawn."},
				{OriginalText: "The wind was fair."},
			},
		}},
	}
	if err := store.CreateProject(context.Background(), project); err != nil {
		t.Fatal(err)
	}

	svc := NewService(store, gen)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Stop)
	return svc, store, project
}

func waitIdle(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestService_ParagraphCorrection(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"The ship sailed at dawn."}}
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	if _, err := svc.EnqueueParagraphCorrection(chapterID, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	p, err := store.GetParagraph(context.Background(), chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if p.CorrectedText != "The ship sailed at dawn." {
		t.Errorf("corrected text = %q", p.CorrectedText)
	}
	if p.CorrectionStatus != models.StatusGenerated {
		t.Errorf("status = %v, want generated", p.CorrectionStatus)
	}
}

func TestService_ValidationRetriesThenSucceeds(t *testing.T) {
	// First response is a rewrite that fails validation, second is a real
	// correction. Default re-runs (2) allow up to three attempts.
	gen := &scriptedGenerator{responses: []string{
		"Entirely different text about other things altogether.",
		"The ship sailed at dawn.",
	}}
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	if _, err := svc.EnqueueParagraphCorrection(chapterID, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	if gen.callCount() != 2 {
		t.Errorf("expected 2 generation attempts, got %d", gen.callCount())
	}
	p, _ := store.GetParagraph(context.Background(), chapterID, 1)
	if p.CorrectionStatus != models.StatusGenerated {
		t.Errorf("status = %v, want generated after retry", p.CorrectionStatus)
	}
}

func TestService_AllAttemptsFailLeavesParagraphUntouched(t *testing.T) {
	gen := &scriptedGenerator{} // every call errors
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	if _, err := svc.EnqueueParagraphCorrection(chapterID, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	// 1 attempt + 2 re-runs from the default workflow config.
	if gen.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", gen.callCount())
	}
	p, _ := store.GetParagraph(context.Background(), chapterID, 1)
	if p.CorrectionStatus != models.StatusNotGenerated || p.CorrectedText != "" {
		t.Errorf("failed job must not touch the paragraph: %+v", p)
	}
}

func TestService_ChapterCorrectionsSkipAlreadyGenerated(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"The wind was fair."}}
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	// Paragraph 1 already has a correction; only paragraph 2 should be sent.
	p, _ := store.GetParagraph(context.Background(), chapterID, 1)
	p.CorrectedText = "The ship sailed at dawn."
	p.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.EnqueueChapterCorrections(chapterID); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	if gen.callCount() != 1 {
		t.Errorf("expected 1 generation call, got %d", gen.callCount())
	}
	p2, _ := store.GetParagraph(context.Background(), chapterID, 2)
	if p2.CorrectionStatus != models.StatusGenerated {
		t.Errorf("paragraph 2 status = %v", p2.CorrectionStatus)
	}
}

func TestService_ChapterBatchUsesStoredThreshold(t *testing.T) {
	// Both responses are modest edits that the default threshold accepts.
	// With a near-zero threshold in the config row the batch must fail and
	// leave the paragraphs untouched.
	gen := &scriptedGenerator{responses: []string{
		"The ship sailed at dawn.",
		"The wind was fair.",
	}}
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	cfg, err := store.GetWorkflowConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cfg.CorrectionReRuns = 0
	cfg.ValidationThreshold = 0.01
	if err := store.SetWorkflowConfig(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.EnqueueChapterCorrections(chapterID); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	if gen.callCount() != 2 {
		t.Errorf("expected 2 generation calls, got %d", gen.callCount())
	}
	for idx := 1; idx <= 2; idx++ {
		p, _ := store.GetParagraph(context.Background(), chapterID, idx)
		if p.CorrectionStatus != models.StatusNotGenerated || p.CorrectedText != "" {
			t.Errorf("paragraph %d persisted despite failed batch: %+v", idx, p)
		}
	}
}

func TestService_ChapterBatchModeFromConfig(t *testing.T) {
	// One rewrite among three paragraphs: averaging tolerates it, the
	// all-must-pass mode rejects the whole batch.
	originals := []string{
		"The rain fell for days.",
		"Nobody came to the door.",
		"The lamp burned low.",
	}
	responses := []string{
		"The rain fell for days.",
		"Something else happened here instead.",
		"The lamp burned low.",
	}

	setup := func(t *testing.T, allMustPass bool) (*Service, *storage.SQLiteStorage, int64, *scriptedGenerator) {
		t.Helper()
		store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "svc.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })

		paragraphs := make([]models.Paragraph, len(originals))
		for i, o := range originals {
			paragraphs[i] = models.Paragraph{OriginalText: o}
		}
		project := &models.Project{
			Name:     "Batch Book",
			Chapters: []models.Chapter{{Name: "One", Paragraphs: paragraphs}},
		}
		if err := store.CreateProject(context.Background(), project); err != nil {
			t.Fatal(err)
		}

		cfg, err := store.GetWorkflowConfig(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		cfg.CorrectionReRuns = 0
		cfg.ValidationAllMustPass = allMustPass
		if err := store.SetWorkflowConfig(context.Background(), cfg); err != nil {
			t.Fatal(err)
		}

		gen := &scriptedGenerator{responses: append([]string(nil), responses...)}
		svc := NewService(store, gen)
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		if err := svc.Start(ctx); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(svc.Stop)
		return svc, store, project.Chapters[0].ID, gen
	}

	t.Run("average tolerates one outlier", func(t *testing.T) {
		svc, store, chapterID, _ := setup(t, false)
		if _, err := svc.EnqueueChapterCorrections(chapterID); err != nil {
			t.Fatal(err)
		}
		waitIdle(t, svc)

		for idx := 1; idx <= len(originals); idx++ {
			p, _ := store.GetParagraph(context.Background(), chapterID, idx)
			if p.CorrectionStatus != models.StatusGenerated {
				t.Errorf("paragraph %d status = %v, want generated", idx, p.CorrectionStatus)
			}
		}
	})

	t.Run("all_must_pass rejects the batch", func(t *testing.T) {
		svc, store, chapterID, gen := setup(t, true)
		if _, err := svc.EnqueueChapterCorrections(chapterID); err != nil {
			t.Fatal(err)
		}
		waitIdle(t, svc)

		if gen.callCount() != len(originals) {
			t.Errorf("expected %d generation calls, got %d", len(originals), gen.callCount())
		}
		for idx := 1; idx <= len(originals); idx++ {
			p, _ := store.GetParagraph(context.Background(), chapterID, idx)
			if p.CorrectionStatus != models.StatusNotGenerated || p.CorrectedText != "" {
				t.Errorf("paragraph %d persisted despite failed batch: %+v", idx, p)
			}
		}
	})
}

func TestService_ChapterSummary(t *testing.T) {
	gen := &scriptedGenerator{}
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	if _, err := svc.EnqueueChapterSummary(chapterID); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	ch, err := store.GetChapter(context.Background(), chapterID)
	if err != nil {
		t.Fatal(err)
	}
	if ch.Summary != "a short summary" {
		t.Errorf("summary = %q", ch.Summary)
	}
}

func TestService_ManualTextSurvivesGeneration(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"The ship sailed at dawn."}}
	svc, store, project := setupService(t, gen)
	chapterID := project.Chapters[0].ID

	p, _ := store.GetParagraph(context.Background(), chapterID, 1)
	p.ManuallyCorrectedText = "The ship set sail at dawn."
	if err := store.UpdateParagraph(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.EnqueueParagraphCorrection(chapterID, 1); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	got, _ := store.GetParagraph(context.Background(), chapterID, 1)
	if got.ManuallyCorrectedText != "The ship set sail at dawn." {
		t.Errorf("manual text lost: %+v", got)
	}
	if got.CorrectedText != "The ship sailed at dawn." {
		t.Errorf("corrected text = %q", got.CorrectedText)
	}
}
