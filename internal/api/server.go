package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docmd/internal/config"
	"github.com/dgallion1/docmd/internal/pipeline"
	"github.com/dgallion1/docmd/internal/report"
)

// Server is the HTTP API server for docmd.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	history      *report.SQLiteStore
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. history may be nil.
func NewServer(orch *pipeline.Orchestrator, history *report.SQLiteStore, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		history:      history,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/convert", s.handleConvert)
		r.Post("/api/convert/batch", s.handleBatchConvert)
		r.Get("/api/convert/batch/{batchID}/status", s.handleBatchStatus)
		r.Get("/api/convert/{jobID}/status", s.handleConvertStatus)
		r.Get("/api/convert/{jobID}/result", s.handleResult)
		r.Get("/api/convert/{jobID}/assets/*", s.handleAsset)
		r.Get("/api/convert/{jobID}/bundle", s.handleBundle)
		r.Get("/api/convert/{jobID}/events", s.handleEvents)

		r.Get("/api/stats/run", s.handleRunStats)
		r.Get("/api/engines", s.handleEngines)

		r.Get("/api/runs", s.handleListRuns)
		r.Get("/api/runs/{runID}/documents", s.handleRunDocuments)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
