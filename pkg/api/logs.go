package api

import (
	"net/http"
	"strconv"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/runlog"
)

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, map[string]any{"logs": s.cfg.Events.Entries()})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.cfg.Events.Clear()
	s.writeOK(w)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		s.writeJSONError(w, http.StatusNotFound, "Run log not enabled")
		return
	}
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := defaultRunLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxRunLimit {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.cfg.Runs.Recent(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []runlog.Measurement{}
	}
	s.writeJSON(w, map[string]any{"runs": runs})
}
