// Package server provides the HTTP API for Galley.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/config"
	"github.com/proofloop/galley/internal/correction"
	"github.com/proofloop/galley/internal/search"
	"github.com/proofloop/galley/internal/storage"
)

// Server is the HTTP server for the Galley review API.
type Server struct {
	store  storage.Storage
	svc    *correction.Service
	index  *search.Index
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies. index may be nil
// when full-text search is disabled.
func NewServer(
	store storage.Storage,
	svc *correction.Service,
	index *search.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:  store,
		svc:    svc,
		index:  index,
		config: cfg,
		logger: logger,
	}
}

// Handler builds the API router. Exposed so tests and the e2e harness can
// serve the exact routing the daemon uses.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{projectId}", s.handleGetProject)
		r.Delete("/projects/{projectId}", s.handleDeleteProject)
		r.Get("/projects/{projectId}/progress", s.handleProgress)

		r.Get("/chapters/{chapterId}", s.handleGetChapter)
		r.Get("/chapters/{chapterId}/export", s.handleExportChapter)
		r.Post("/chapters/{chapterId}/generateCorrections", s.handleGenerateChapter)
		r.Post("/chapters/{chapterId}/summary", s.handleGenerateSummary)

		r.Get("/chapters/{chapterId}/paragraphs/{index}", s.handleGetParagraph)
		r.Post("/chapters/{chapterId}/paragraphs/{index}/generateCorrection", s.handleGenerateCorrection)
		r.Post("/chapters/{chapterId}/paragraphs/{index}/saveManual", s.handleSaveManual)
		r.Post("/chapters/{chapterId}/paragraphs/{index}/approve", s.handleApprove)
		r.Post("/chapters/{chapterId}/paragraphs/{index}/reject", s.handleReject)
		r.Post("/chapters/{chapterId}/paragraphs/{index}/clear", s.handleClear)

		r.Get("/zen/nextParagraph/{chapterId}", s.handleNextParagraph)
		r.Get("/ai/status", s.handleAIStatus)
		r.Post("/ai/clear", s.handleAIClear)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)
		r.Post("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
