package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/export"
	"github.com/proofloop/galley/internal/models"
	"github.com/proofloop/galley/internal/storage"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var input models.ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	project := input.Project()
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		s.logger.Error("create project failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("project created",
		zap.Int64("id", project.ID),
		zap.String("name", project.Name),
		zap.Int("chapters", len(project.Chapters)))

	if s.index != nil {
		if err := s.index.IndexProject(r.Context(), project); err != nil {
			s.logger.Warn("project indexing failed", zap.Error(err))
		}
	}
	s.enqueueSummaries(r, project)
	s.respondJSON(w, http.StatusCreated, project)
}

// enqueueSummaries queues a summary job per chapter when auto summaries are
// turned on.
func (s *Server) enqueueSummaries(r *http.Request, project *models.Project) {
	wf, err := s.store.GetWorkflowConfig(r.Context())
	if err != nil || !wf.AutoSummaries {
		return
	}
	for _, ch := range project.Chapters {
		if _, err := s.svc.EnqueueChapterSummary(ch.ID); err != nil {
			s.logger.Warn("summary job rejected", zap.Int64("chapter", ch.ID), zap.Error(err))
		}
	}
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err, "project not found")
		return
	}
	s.respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		s.respondStorageError(w, err, "project not found")
		return
	}
	if s.index != nil {
		if err := s.index.DeleteProject(r.Context(), id); err != nil {
			s.logger.Warn("project deindexing failed", zap.Error(err))
		}
	}
	s.logger.Info("project deleted", zap.Int64("id", id))
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err, "project not found")
		return
	}
	stats, err := s.store.ChapterStats(r.Context(), id)
	if err != nil {
		s.logger.Error("chapter stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", project.Name+"-progress.xlsx"))
	if err := export.WriteProgressWorkbook(w, project, stats); err != nil {
		s.logger.Error("progress export failed", zap.Error(err))
	}
}

func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "chapterId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	chapter, err := s.store.GetChapter(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err, "chapter not found")
		return
	}
	s.respondJSON(w, http.StatusOK, chapter)
}

func (s *Server) handleExportChapter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "chapterId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := export.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	chapter, err := s.store.GetChapter(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err, "chapter not found")
		return
	}
	report, err := export.ChapterReport(chapter, mode)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(report))
}

func (s *Server) handleGenerateChapter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "chapterId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetChapter(r.Context(), id); err != nil {
		s.respondStorageError(w, err, "chapter not found")
		return
	}
	job, err := s.svc.EnqueueChapterCorrections(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "jobId": job.ID})
}

func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "chapterId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetChapter(r.Context(), id); err != nil {
		s.respondStorageError(w, err, "chapter not found")
		return
	}
	job, err := s.svc.EnqueueChapterSummary(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "jobId": job.ID})
}

func (s *Server) handleGetParagraph(w http.ResponseWriter, r *http.Request) {
	chapterID, index, err := paragraphRef(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.store.GetParagraph(r.Context(), chapterID, index)
	if err != nil {
		s.respondStorageError(w, err, "paragraph not found")
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleGenerateCorrection(w http.ResponseWriter, r *http.Request) {
	p, ok := s.paragraphForAction(w, r, models.ActionGenerate)
	if !ok {
		return
	}
	job, err := s.svc.EnqueueParagraphCorrection(p.PartOfChapter, p.Index)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("correction queued",
		zap.Int64("chapter", p.PartOfChapter),
		zap.Int("paragraph", p.Index),
		zap.String("job", job.ID))
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "jobId": job.ID})
}

func (s *Server) handleSaveManual(w http.ResponseWriter, r *http.Request) {
	p, ok := s.paragraphForAction(w, r, models.ActionSave)
	if !ok {
		return
	}
	var req models.SaveManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CorrectedText == "" {
		s.respondError(w, http.StatusBadRequest, "correctedText must not be empty")
		return
	}
	p.ManuallyCorrectedText = req.CorrectedText
	// Manual text saved before generation leaves the paragraph notGenerated;
	// in every other status saving reopens review.
	if p.CorrectionStatus != models.StatusNotGenerated {
		p.CorrectionStatus = models.StatusReviewed
	}
	s.updateAndRespond(w, r, p)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	p, ok := s.paragraphForAction(w, r, models.ActionApprove)
	if !ok {
		return
	}
	var req models.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CorrectedText == nil {
		// Approving without a correction means the original stands.
		p.CorrectionStatus = models.StatusNotRequired
	} else {
		if *req.CorrectedText != p.CorrectedText {
			p.ManuallyCorrectedText = *req.CorrectedText
		} else {
			// The approved value is the generated correction; an earlier
			// manual save must not shadow it.
			p.ManuallyCorrectedText = ""
		}
		p.CorrectionStatus = models.StatusAccepted
	}
	s.updateAndRespond(w, r, p)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.paragraphForAction(w, r, models.ActionReject)
	if !ok {
		return
	}
	p.CorrectionStatus = models.StatusRejected
	s.updateAndRespond(w, r, p)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	p, ok := s.paragraphForAction(w, r, models.ActionClear)
	if !ok {
		return
	}
	p.CorrectedText = ""
	p.ManuallyCorrectedText = ""
	p.CorrectionStatus = models.StatusNotGenerated
	s.updateAndRespond(w, r, p)
}

func (s *Server) handleNextParagraph(w http.ResponseWriter, r *http.Request) {
	chapterID, err := pathID(r, "chapterId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	current, err := strconv.Atoi(r.URL.Query().Get("current"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid current index")
		return
	}
	reverse := r.URL.Query().Get("reverse") == "true"
	next, err := s.store.NextParagraph(r.Context(), chapterID, current, reverse)
	if err != nil {
		if errors.Is(err, storage.ErrNoParagraphsLeft) {
			s.respondError(w, http.StatusNotFound, storage.ErrNoParagraphsLeft.Error())
			return
		}
		s.respondStorageError(w, err, "chapter not found")
		return
	}
	s.respondJSON(w, http.StatusOK, models.NextParagraphResponse{Next: next})
}

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, models.AIStatus{Thinking: s.svc.Busy()})
}

func (s *Server) handleAIClear(w http.ResponseWriter, r *http.Request) {
	dropped := s.svc.ClearPending()
	s.respondJSON(w, http.StatusOK, map[string]int{"cleared": dropped})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflowConfig(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var wf models.WorkflowConfig
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if wf.CorrectionReRuns < 0 {
		s.respondError(w, http.StatusBadRequest, "correctionReRuns must not be negative")
		return
	}
	if wf.ValidationThreshold < 0 || wf.ValidationThreshold > 1 {
		s.respondError(w, http.StatusBadRequest, "validationThreshold must be between 0 and 1")
		return
	}
	if err := s.store.SetWorkflowConfig(r.Context(), &wf); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, wf)
}

type searchRequest struct {
	Query     string `json:"query"`
	ProjectID int64  `json:"projectId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search not enabled")
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	results, err := s.index.Search(r.Context(), req.Query, req.ProjectID, req.Limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects, err := s.store.CountProjects(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chapters, err := s.store.CountChapters(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	paragraphs, err := s.store.CountParagraphs(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"projects":   projects,
		"chapters":   chapters,
		"paragraphs": paragraphs,
		"thinking":   s.svc.Busy(),
	}
	if s.index != nil {
		if indexed, err := s.index.DocCount(); err == nil {
			resp["indexedParagraphs"] = indexed
		}
	}
	if diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.BleveIndexPath,
	); err == nil {
		resp["diskUsageBytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// paragraphForAction loads the addressed paragraph and enforces the status
// legality table. It writes the error response itself when ok is false.
func (s *Server) paragraphForAction(w http.ResponseWriter, r *http.Request, action models.Action) (*models.Paragraph, bool) {
	chapterID, index, err := paragraphRef(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	p, err := s.store.GetParagraph(r.Context(), chapterID, index)
	if err != nil {
		s.respondStorageError(w, err, "paragraph not found")
		return nil, false
	}
	if !models.Allowed(p.CorrectionStatus, action) {
		s.respondError(w, http.StatusConflict,
			fmt.Sprintf("cannot %s paragraph in status %s", action, p.CorrectionStatus))
		return nil, false
	}
	return p, true
}

func (s *Server) updateAndRespond(w http.ResponseWriter, r *http.Request, p *models.Paragraph) {
	if err := s.store.UpdateParagraph(r.Context(), p); err != nil {
		s.logger.Error("paragraph update failed",
			zap.Int64("chapter", p.PartOfChapter),
			zap.Int("paragraph", p.Index),
			zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func paragraphRef(r *http.Request) (chapterID int64, index int, err error) {
	chapterID, err = pathID(r, "chapterId")
	if err != nil {
		return 0, 0, err
	}
	index, err = strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index <= 0 {
		return 0, 0, fmt.Errorf("invalid paragraph index")
	}
	return chapterID, index, nil
}

func (s *Server) respondStorageError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	s.logger.Error("storage error", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
