package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListRuns lists stored run summaries, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "run history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.history.Runs(r.Context(), limit)
	if err != nil {
		jsonError(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

// handleRunDocuments returns the per-document rows of one stored run.
func (s *Server) handleRunDocuments(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "run history unavailable", http.StatusServiceUnavailable)
		return
	}
	runID := chi.URLParam(r, "runID")
	docs, err := s.history.Documents(r.Context(), runID)
	if err != nil {
		jsonError(w, "failed to load run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(docs) == 0 {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"run_id": runID, "documents": docs})
}
