package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/config"
	"github.com/proofloop/galley/internal/correction"
	"github.com/proofloop/galley/internal/models"
	"github.com/proofloop/galley/internal/search"
	"github.com/proofloop/galley/internal/storage"
)

func newTestServer(t *testing.T) (*Server, storage.Storage, *correction.Service) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "projects.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	idx, err := search.NewIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	svc := correction.NewService(store, correction.NewStaticGenerator())
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "projects.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "bleve")

	srv := NewServer(store, svc, idx, cfg, zap.NewNop())
	t.Cleanup(func() {
		svc.Stop()
		_ = idx.Close()
		_ = store.Close()
	})
	return srv, store, svc
}

// seedProject stores a small project and returns it with IDs filled in.
func seedProject(t *testing.T, store storage.Storage) *models.Project {
	t.Helper()
	input := &models.ProjectInput{
		Name: "Sea Stories",
		Chapters: []models.ChapterInput{
			{Name: "The Harbor", Paragraphs: []models.ParagraphInput{
				{Text: "The keeper watched teh storm."},
				{Text: "Gulls scattered over the breakwater.", LeadingSpace: 1},
			}},
			{Name: "Open Water", Paragraphs: []models.ParagraphInput{
				{Text: "Nothing but grey swells."},
			}},
		},
	}
	if err := input.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	project := input.Project()
	if err := store.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return project
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decodeParagraph(t *testing.T, w *httptest.ResponseRecorder) *models.Paragraph {
	t.Helper()
	var p models.Paragraph
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode paragraph: %v", err)
	}
	return &p
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return out.Error
}

func TestHandleCreateAndGetProject(t *testing.T) {
	srv, _, _ := newTestServer(t)

	input := models.ProjectInput{
		Name: "Uploaded",
		Chapters: []models.ChapterInput{
			{Name: "One", Paragraphs: []models.ParagraphInput{{Text: "Hello."}}},
		},
	}
	w := doRequest(t, srv, http.MethodPost, "/api/projects", input)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var created models.Project
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == 0 || created.CorrectionStrengthLevel != 2 {
		t.Errorf("created project %+v", created)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/projects/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var got models.Project
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Uploaded" || len(got.Chapters) != 1 {
		t.Errorf("got %+v", got)
	}
	if got.Chapters[0].Paragraphs[0].CorrectionStatus != models.StatusNotGenerated {
		t.Errorf("new paragraph status %v", got.Chapters[0].Paragraphs[0].CorrectionStatus)
	}
}

func TestHandleCreateProject_invalid(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/projects", models.ProjectInput{Name: "No Chapters"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleDeleteProject(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)

	w := doRequest(t, srv, http.MethodDelete, "/api/projects/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if _, err := store.GetProject(context.Background(), project.ID); err == nil {
		t.Error("project still present after delete")
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/projects/99", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestHandleGetParagraph(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID

	w := doRequest(t, srv, http.MethodGet, paragraphPath(chapterID, 1, ""), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	p := decodeParagraph(t, w)
	if p.OriginalText != "The keeper watched teh storm." {
		t.Errorf("got %q", p.OriginalText)
	}

	w = doRequest(t, srv, http.MethodGet, paragraphPath(chapterID, 42, ""), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
	if msg := errorMessage(t, w); msg != "paragraph not found" {
		t.Errorf("error message %q", msg)
	}
}

func paragraphPath(chapterID int64, index int, action string) string {
	path := fmt.Sprintf("/api/chapters/%d/paragraphs/%d", chapterID, index)
	if action != "" {
		path += "/" + action
	}
	return path
}

func TestHandleSaveManual(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID

	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "saveManual"),
		models.SaveManualRequest{CorrectedText: "The keeper watched the storm."})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	p := decodeParagraph(t, w)
	if p.ManuallyCorrectedText != "The keeper watched the storm." {
		t.Errorf("manual text %q", p.ManuallyCorrectedText)
	}
	// Saving before any generation keeps the paragraph notGenerated.
	if p.CorrectionStatus != models.StatusNotGenerated {
		t.Errorf("status %v, want notGenerated", p.CorrectionStatus)
	}

	// After generation the same save moves the paragraph to reviewed.
	stored, err := store.GetParagraph(context.Background(), chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	stored.CorrectedText = "The keeper watched the storm."
	stored.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(context.Background(), stored); err != nil {
		t.Fatal(err)
	}
	w = doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "saveManual"),
		models.SaveManualRequest{CorrectedText: "The keeper watched the squall."})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if p := decodeParagraph(t, w); p.CorrectionStatus != models.StatusReviewed {
		t.Errorf("status %v, want reviewed", p.CorrectionStatus)
	}
}

func TestHandleSaveManual_emptyText(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)

	w := doRequest(t, srv, http.MethodPost, paragraphPath(project.Chapters[0].ID, 1, "saveManual"),
		models.SaveManualRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleApprove(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.CorrectedText = "The keeper watched the storm."
	p.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(ctx, p); err != nil {
		t.Fatal(err)
	}

	// Approving the correction unchanged leaves manual text empty.
	text := "The keeper watched the storm."
	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "approve"),
		models.ApproveRequest{CorrectedText: &text})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	got := decodeParagraph(t, w)
	if got.CorrectionStatus != models.StatusAccepted {
		t.Errorf("status %v, want accepted", got.CorrectionStatus)
	}
	if got.ManuallyCorrectedText != "" {
		t.Errorf("unchanged approval stored manual text %q", got.ManuallyCorrectedText)
	}
}

func TestHandleApprove_editedText(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.CorrectedText = "The keeper watched the storm."
	p.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(ctx, p); err != nil {
		t.Fatal(err)
	}

	text := "The keeper watched the squall."
	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "approve"),
		models.ApproveRequest{CorrectedText: &text})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	got := decodeParagraph(t, w)
	if got.CorrectionStatus != models.StatusAccepted {
		t.Errorf("status %v, want accepted", got.CorrectionStatus)
	}
	if got.ManuallyCorrectedText != text {
		t.Errorf("edited approval manual text %q", got.ManuallyCorrectedText)
	}
}

func TestHandleApprove_unchangedAfterManualSave(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.CorrectedText = "The keeper watched the storm."
	p.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(ctx, p); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "saveManual"),
		models.SaveManualRequest{CorrectedText: "The keeper watched the squall."})
	if w.Code != http.StatusOK {
		t.Fatalf("saveManual status: got %d", w.Code)
	}

	// The reviewer then approves the generated correction as is; the earlier
	// manual edit must not remain the accepted value.
	text := "The keeper watched the storm."
	w = doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "approve"),
		models.ApproveRequest{CorrectedText: &text})
	if w.Code != http.StatusOK {
		t.Fatalf("approve status: got %d", w.Code)
	}
	got := decodeParagraph(t, w)
	if got.CorrectionStatus != models.StatusAccepted {
		t.Errorf("status %v, want accepted", got.CorrectionStatus)
	}
	if got.ManuallyCorrectedText != "" {
		t.Errorf("stale manual text survived approval: %q", got.ManuallyCorrectedText)
	}
	if got.EffectiveCorrection() != text {
		t.Errorf("accepted value %q, want %q", got.EffectiveCorrection(), text)
	}
}

func TestHandleApprove_null(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.CorrectedText = "The keeper watched the storm."
	p.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(ctx, p); err != nil {
		t.Fatal(err)
	}

	// {"correctedText": null} means the original stands.
	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "approve"),
		models.ApproveRequest{CorrectedText: nil})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeParagraph(t, w); got.CorrectionStatus != models.StatusNotRequired {
		t.Errorf("status %v, want notRequired", got.CorrectionStatus)
	}
}

func TestHandleApprove_illegalBeforeGeneration(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)

	text := "anything"
	w := doRequest(t, srv, http.MethodPost, paragraphPath(project.Chapters[0].ID, 1, "approve"),
		models.ApproveRequest{CorrectedText: &text})
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", w.Code)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "notGenerated") {
		t.Errorf("error message %q", msg)
	}
}

func TestHandleRejectAndClear(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.CorrectedText = "The keeper watched the storm."
	p.CorrectionStatus = models.StatusGenerated
	if err := store.UpdateParagraph(ctx, p); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "reject"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	got := decodeParagraph(t, w)
	if got.CorrectionStatus != models.StatusRejected {
		t.Errorf("status %v, want rejected", got.CorrectionStatus)
	}
	// Reject keeps the stored texts.
	if got.CorrectedText != "The keeper watched the storm." {
		t.Errorf("rejected paragraph lost correction %q", got.CorrectedText)
	}

	w = doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "clear"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	got = decodeParagraph(t, w)
	if got.CorrectionStatus != models.StatusNotGenerated || got.CorrectedText != "" || got.ManuallyCorrectedText != "" {
		t.Errorf("clear left %+v", got)
	}
}

func TestHandleReject_illegalBeforeGeneration(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)

	w := doRequest(t, srv, http.MethodPost, paragraphPath(project.Chapters[0].ID, 1, "reject"), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status: got %d, want 409", w.Code)
	}
}

func TestHandleGenerateCorrection(t *testing.T) {
	srv, store, svc := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID

	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "generateCorrection"), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if !svc.Busy() {
		t.Error("queued job should report thinking")
	}

	w = doRequest(t, srv, http.MethodGet, "/api/ai/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var status models.AIStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Thinking {
		t.Error("ai status should be thinking while a job is queued")
	}
}

func TestHandleAIClear(t *testing.T) {
	srv, store, svc := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID

	// The worker is not running, so both jobs stay pending.
	for idx := 1; idx <= 2; idx++ {
		w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, idx, "generateCorrection"), nil)
		if w.Code != http.StatusAccepted {
			t.Fatalf("queueing paragraph %d: got %d", idx, w.Code)
		}
	}
	if !svc.Busy() {
		t.Fatal("queued jobs should report busy")
	}

	w := doRequest(t, srv, http.MethodPost, "/api/ai/clear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["cleared"] != 2 {
		t.Errorf("cleared = %d, want 2", resp["cleared"])
	}
	if svc.Busy() {
		t.Error("queue should be idle after clearing")
	}

	w = doRequest(t, srv, http.MethodGet, "/api/ai/status", nil)
	var status models.AIStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Thinking {
		t.Error("ai status should not be thinking after clear")
	}
}

func TestHandleGenerateCorrection_runsJob(t *testing.T) {
	srv, store, svc := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w := doRequest(t, srv, http.MethodPost, paragraphPath(chapterID, 1, "generateCorrection"), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", w.Code)
	}
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if p.CorrectionStatus != models.StatusGenerated {
		t.Errorf("status %v, want generated", p.CorrectionStatus)
	}
	if !strings.Contains(p.CorrectedText, "the storm") {
		t.Errorf("corrected text %q", p.CorrectedText)
	}
}

func TestHandleNextParagraph(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	base := fmt.Sprintf("/api/zen/nextParagraph/%d", chapterID)

	w := doRequest(t, srv, http.MethodGet, base+"?current=0&reverse=false", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var next models.NextParagraphResponse
	if err := json.NewDecoder(w.Body).Decode(&next); err != nil {
		t.Fatal(err)
	}
	if next.Next != 1 {
		t.Errorf("next = %d, want 1", next.Next)
	}

	// Resolve both paragraphs, then the boundary error surfaces verbatim.
	for i := 1; i <= 2; i++ {
		p, err := store.GetParagraph(ctx, chapterID, i)
		if err != nil {
			t.Fatal(err)
		}
		p.CorrectionStatus = models.StatusNotRequired
		if err := store.UpdateParagraph(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	w = doRequest(t, srv, http.MethodGet, base+"?current=0&reverse=false", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", w.Code)
	}
	if msg := errorMessage(t, w); msg != "no more paragraphs need review" {
		t.Errorf("error message %q", msg)
	}
}

func TestHandleNextParagraph_invalidCurrent(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)

	w := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/zen/nextParagraph/%d", project.Chapters[0].ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleConfig(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var wf models.WorkflowConfig
	if err := json.NewDecoder(w.Body).Decode(&wf); err != nil {
		t.Fatal(err)
	}
	if wf.CorrectionReRuns != 2 || !wf.AutoSummaries {
		t.Errorf("default workflow config %+v", wf)
	}
	if wf.ValidationThreshold != 0.5 || wf.ValidationAllMustPass {
		t.Errorf("default validation settings %+v", wf)
	}

	wf.CorrectionReRuns = 0
	wf.AutoSummaries = false
	wf.ValidationThreshold = 0.3
	wf.ValidationAllMustPass = true
	w = doRequest(t, srv, http.MethodPut, "/api/config", wf)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodGet, "/api/config", nil)
	if err := json.NewDecoder(w.Body).Decode(&wf); err != nil {
		t.Fatal(err)
	}
	if wf.CorrectionReRuns != 0 || wf.AutoSummaries {
		t.Errorf("updated workflow config %+v", wf)
	}
	if wf.ValidationThreshold != 0.3 || !wf.ValidationAllMustPass {
		t.Errorf("updated validation settings %+v", wf)
	}

	wf.ValidationThreshold = 1.5
	w = doRequest(t, srv, http.MethodPut, "/api/config", wf)
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-range threshold: got %d, want 400", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)

	if err := srv.index.IndexProject(context.Background(), project); err != nil {
		t.Fatalf("IndexProject: %v", err)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/search", searchRequest{Query: "breakwater"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Results []struct {
			ChapterID int64 `json:"chapterId"`
			Index     int   `json:"index"`
		} `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].Index != 2 {
		t.Errorf("results %+v", out.Results)
	}
}

func TestHandleSearch_disabled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.index = nil
	w := doRequest(t, srv, http.MethodPost, "/api/search", searchRequest{Query: "x"})
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleExportChapter(t *testing.T) {
	srv, store, _ := newTestServer(t)
	project := seedProject(t, store)
	chapterID := project.Chapters[0].ID
	ctx := context.Background()

	p, err := store.GetParagraph(ctx, chapterID, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.CorrectedText = "The keeper watched the storm."
	p.CorrectionStatus = models.StatusAccepted
	if err := store.UpdateParagraph(ctx, p); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/chapters/%d/export?mode=correctionsWithOriginal", chapterID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Listing 1 paragraph(s) that have corrections.") {
		t.Errorf("report body:\n%s", w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/chapters/%d/export?mode=bogus", chapterID), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleProgress(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedProject(t, store)

	w := doRequest(t, srv, http.MethodGet, "/api/projects/1/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Error("expected workbook bytes")
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheet") {
		t.Errorf("content type %q", ct)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedProject(t, store)

	w := doRequest(t, srv, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Projects   int64 `json:"projects"`
		Chapters   int64 `json:"chapters"`
		Paragraphs int64 `json:"paragraphs"`
		Thinking   bool  `json:"thinking"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Projects != 1 || out.Chapters != 2 || out.Paragraphs != 3 {
		t.Errorf("counts %+v", out)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}
