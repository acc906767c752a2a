package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dgallion1/docmd/internal/assemble"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/parser"
	"github.com/dgallion1/docmd/internal/pipeline"
)

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	engineName, err := s.resolveEngine(r.FormValue("engine"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	file.Close()

	filename, data, status, err := s.readUpload(header)
	if err != nil {
		jsonError(w, err.Error(), status)
		return
	}

	job := pipeline.NewJob(filename, engineName, data)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(jobAccepted(job))
}

func (s *Server) handleBatchConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	engineName, err := s.resolveEngine(r.FormValue("engine"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	batchID := uuid.NewString()
	var results []map[string]any
	for _, fh := range files {
		filename, data, _, err := s.readUpload(fh)
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}

		job := pipeline.NewJob(filename, engineName, data)
		job.BatchID = batchID
		if err := s.orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}
		results = append(results, jobAccepted(job))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"batch_id": batchID,
		"poll_url": fmt.Sprintf("/api/convert/batch/%s/status", batchID),
		"jobs":     results,
	})
}

// readUpload returns the sanitized name and bytes of one uploaded file, or
// an error with the HTTP status it maps to.
func (s *Server) readUpload(fh *multipart.FileHeader) (string, []byte, int, error) {
	filename := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(filename) {
		return filename, nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
	f, err := fh.Open()
	if err != nil {
		return filename, nil, http.StatusInternalServerError, fmt.Errorf("failed to open file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return filename, nil, http.StatusInternalServerError, fmt.Errorf("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return filename, nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	if err := parser.Validate(filename, data); err != nil {
		return filename, nil, http.StatusUnprocessableEntity, err
	}
	return filename, data, http.StatusOK, nil
}

// resolveEngine checks the engine exists before anything is queued.
func (s *Server) resolveEngine(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.orchestrator.DefaultEngine()
	}
	if _, err := s.orchestrator.Engine(name); err != nil {
		return "", err
	}
	return name, nil
}

func jobAccepted(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"filename":   snap.Filename,
		"job_id":     snap.ID,
		"engine":     snap.Engine,
		"status":     snap.Status,
		"poll_url":   fmt.Sprintf("/api/convert/%s/status", snap.ID),
		"events_url": fmt.Sprintf("/api/convert/%s/events", snap.ID),
	}
}

func (s *Server) handleConvertStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobFor(w, r)
	if job == nil {
		return
	}
	writeJSON(w, job.Snapshot())
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	jobs := s.orchestrator.Batch(chi.URLParam(r, "batchID"))
	if len(jobs) == 0 {
		jsonError(w, "batch not found", http.StatusNotFound)
		return
	}
	snaps := make([]pipeline.JobSnapshot, 0, len(jobs))
	done := 0
	for _, j := range jobs {
		snap := j.Snapshot()
		if snap.Status.Terminal() {
			done++
		}
		snaps = append(snaps, snap)
	}
	writeJSON(w, map[string]any{
		"batch_id": chi.URLParam(r, "batchID"),
		"total":    len(snaps),
		"finished": done,
		"jobs":     snaps,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res := s.resultFor(w, r)
	if res == nil {
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, res)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", output.MarkdownName(res)))
	io.WriteString(w, res.Markdown)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	res := s.resultFor(w, r)
	if res == nil {
		return
	}
	want := path.Clean(chi.URLParam(r, "*"))
	for _, a := range res.Assets {
		if a.Path == want || strings.TrimPrefix(a.Path, assemble.AssetDir(res.Stem)+"/") == want {
			w.Header().Set("Content-Type", output.ContentType(a.Path))
			w.Write(a.Data)
			return
		}
	}
	jsonError(w, "asset not found", http.StatusNotFound)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	res := s.resultFor(w, r)
	if res == nil {
		return
	}
	w.Header().Set("Content-Type", "application/x-xz")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", output.BundleName(res)))
	if err := output.WriteBundle(w, res); err != nil {
		// Headers are gone; all we can do is log.
		s.log.Error("bundle write failed", "error", err)
	}
}

func (s *Server) jobFor(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

// resultFor writes 404/409 itself and returns nil when no result is ready.
func (s *Server) resultFor(w http.ResponseWriter, r *http.Request) *assemble.Result {
	job := s.jobFor(w, r)
	if job == nil {
		return nil
	}
	res := job.Result()
	if res == nil {
		snap := job.Snapshot()
		if snap.Status.Terminal() {
			jsonError(w, fmt.Sprintf("job %s produced no result", snap.Status), http.StatusConflict)
		} else {
			jsonError(w, fmt.Sprintf("job is %s", snap.Status), http.StatusConflict)
		}
		return nil
	}
	return res
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
