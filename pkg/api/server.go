// Package api serves the vehicle's remote control surface over HTTP.
// Handlers never touch the control loop directly: they read the published
// status snapshot, update the parameter store, or post commands to the
// sequencer's mailbox.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/eventlog"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/runlog"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sequencer"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/status"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tunable"
)

const (
	maxBodyBytes    = 64 << 10
	defaultRunLimit = 20
	maxRunLimit     = 500
)

type Log func(string, ...any)

type CommandPoster interface {
	Post(cmd sequencer.Command) error
}

type SnapshotSource interface {
	Latest() *status.Snapshot
}

type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Measurement, error)
}

type Config struct {
	Commands  CommandPoster
	Snapshots SnapshotSource
	Params    *tunable.Params
	// ParamsPath is where parameter changes are persisted; empty disables
	// saving.
	ParamsPath string
	Events     *eventlog.Log
	// Runs is optional; without it /api/runs returns 404.
	Runs RunLister
	Log  Log
}

type Server struct {
	cfg Config
	log Log
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = func(f string, a ...any) { fmt.Printf("API: "+f+"\n", a...) }
	}
	return &Server{cfg: cfg, log: log}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)

	mux.HandleFunc("/api/params", s.params)
	mux.HandleFunc("/api/params/reset", s.resetParams)
	mux.HandleFunc("/api/weights", s.setWeights)
	mux.HandleFunc("/api/calibration", s.setCalibration)

	mux.HandleFunc("/api/run/start", s.postSimple(sequencer.CmdStartRun))
	mux.HandleFunc("/api/run/stop", s.postSimple(sequencer.CmdStopRun))
	mux.HandleFunc("/api/run/toggle", s.postSimple(sequencer.CmdToggleRun))
	mux.HandleFunc("/api/stats/reset", s.postSimple(sequencer.CmdResetStats))
	mux.HandleFunc("/api/motion", s.motion)

	mux.HandleFunc("/api/detection/start", s.startDetection)
	mux.HandleFunc("/api/detection/stop", s.postSimple(sequencer.CmdMeasureStop))
	mux.HandleFunc("/api/detection/reset", s.postSimple(sequencer.CmdMeasureReset))

	mux.HandleFunc("/api/tasks", s.tasks)
	mux.HandleFunc("/api/tasks/start", s.postSimple(sequencer.CmdTasksStart))
	mux.HandleFunc("/api/tasks/pause", s.postSimple(sequencer.CmdTasksPause))
	mux.HandleFunc("/api/tasks/stop", s.postSimple(sequencer.CmdTasksStop))
	mux.HandleFunc("/api/tasks/clear", s.postSimple(sequencer.CmdTasksClear))

	mux.HandleFunc("/api/test/turn", s.postTest(sequencer.CmdTestTurn))
	mux.HandleFunc("/api/test/straight", s.postTest(sequencer.CmdTestStraight))
	mux.HandleFunc("/api/test/avoid", s.postTest(sequencer.CmdTestAvoid))
	mux.HandleFunc("/api/test/parking", s.postSimple(sequencer.CmdTestParking))

	mux.HandleFunc("/api/logs", s.listLogs)
	mux.HandleFunc("/api/logs/clear", s.clearLogs)
	mux.HandleFunc("/api/runs", s.listRuns)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs the method, path, status and duration of each
// request.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.log("[%d] %s %s %.1fms", lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log("Failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeOK(w http.ResponseWriter) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// decodeBody reads a JSON request body into v.  An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, "failed to read body")
	}
	if len(data) > maxBodyBytes {
		return errors.New("body too large")
	}
	if len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, v), "invalid JSON")
}

func (s *Server) post(w http.ResponseWriter, cmd sequencer.Command) {
	if err := s.cfg.Commands.Post(cmd); err != nil {
		if errors.Is(err, sequencer.ErrCommandQueueFull) {
			s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w)
}

func (s *Server) postSimple(kind sequencer.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.post(w, sequencer.Command{Kind: kind})
	}
}

// postTest rejects calibration maneuvers while a run is in progress; the
// sequencer would ignore them anyway.  The parking test isn't one of them:
// it takes over a run in progress.
func (s *Server) postTest(kind sequencer.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if s.cfg.Snapshots.Latest().Running {
			s.writeJSONError(w, http.StatusConflict, "Run in progress")
			return
		}
		s.post(w, sequencer.Command{Kind: kind})
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, s.cfg.Snapshots.Latest())
}

func (s *Server) motion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		Action string  `json:"action"`
		Value  float64 `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := sequencer.ParseManualAction(req.Action)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Value < 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'value'")
		return
	}
	s.post(w, sequencer.Command{Kind: sequencer.CmdManual, Manual: action, Value: req.Value})
}

func (s *Server) startDetection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		Threshold int `json:"threshold"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Threshold < 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'threshold'")
		return
	}
	s.post(w, sequencer.Command{Kind: sequencer.CmdMeasureStart, ThresholdMm: req.Threshold})
}
