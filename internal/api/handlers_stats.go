package api

import (
	"net/http"

	"github.com/dgallion1/docmd/internal/engine"
)

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"queue_depth": s.orchestrator.QueueDepth(),
		"recent":      s.orchestrator.Recent(),
		"run":         s.orchestrator.Summary().Snapshot(),
	})
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	type engineInfo struct {
		Name  string       `json:"name"`
		Class engine.Class `json:"class,omitempty"`
		Model string       `json:"model,omitempty"`
		Error string       `json:"error,omitempty"`
	}
	var out []engineInfo
	for _, name := range engine.Names() {
		info := engineInfo{Name: name}
		if e, err := s.orchestrator.Engine(name); err != nil {
			info.Error = err.Error()
		} else {
			info.Class, info.Model = e.Class(), e.Model()
		}
		out = append(out, info)
	}
	writeJSON(w, map[string]any{
		"default": s.orchestrator.DefaultEngine(),
		"engines": out,
	})
}
