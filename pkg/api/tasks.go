package api

import (
	"io"
	"net/http"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sequencer"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tasks"
)

// tasks lists the queue as of the last snapshot, or replaces it.  The
// replacement is applied by the control loop between ticks, so a GET
// straight after a POST may still show the old list.
func (s *Server) tasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.cfg.Snapshots.Latest().Tasks)
	case http.MethodPost:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Failed to read body")
			return
		}
		if len(data) > maxBodyBytes {
			s.writeJSONError(w, http.StatusRequestEntityTooLarge, "Task list too large")
			return
		}
		specs, err := tasks.ParseSpecs(data)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.post(w, sequencer.Command{Kind: sequencer.CmdTasksReplace, Tasks: specs})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
