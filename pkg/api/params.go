package api

import (
	"fmt"
	"net/http"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tunable"
)

// persistParams writes the parameter store back to disk.  A failure is
// logged but not reported to the client: the new values are already live.
func (s *Server) persistParams() {
	if s.cfg.ParamsPath == "" {
		return
	}
	if err := s.cfg.Params.Save(s.cfg.ParamsPath); err != nil {
		s.log("Failed to save params: %v", err)
	}
}

func (s *Server) params(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.cfg.Params.Values())
	case http.MethodPost:
		var values map[string]float64
		if err := decodeBody(r, &values); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(values) == 0 {
			s.writeJSONError(w, http.StatusBadRequest, "No parameters given")
			return
		}
		if err := s.cfg.Params.SetMany(values); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log("Updated %d parameter(s)", len(values))
		s.persistParams()
		s.writeJSON(w, s.cfg.Params.Values())
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) resetParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.cfg.Params.Reset()
	s.log("Parameters reset to defaults")
	s.persistParams()
	s.writeJSON(w, s.cfg.Params.Values())
}

func (s *Server) setWeights(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]any{"weights": s.cfg.Params.Weights()})
	case http.MethodPost:
		var req struct {
			Weights []int `json:"weights"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Weights) != tunable.NumSensorWeights {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("Expected %d weights, got %d", tunable.NumSensorWeights, len(req.Weights)))
			return
		}
		var weights [tunable.NumSensorWeights]int
		copy(weights[:], req.Weights)
		if err := s.cfg.Params.SetWeights(weights); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.persistParams()
		s.writeJSON(w, map[string]any{"weights": s.cfg.Params.Weights()})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type calibration struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

func (s *Server) setCalibration(w http.ResponseWriter, r *http.Request) {
	p := s.cfg.Params
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		req := calibration{Left: p.MotorLeftCalib.Get(), Right: p.MotorRightCalib.Get()}
		if err := decodeBody(r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		err := p.SetMany(map[string]float64{
			p.MotorLeftCalib.Name:  req.Left,
			p.MotorRightCalib.Name: req.Right,
		})
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.persistParams()
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	// Values are clamped on the way in, so report what was stored.
	s.writeJSON(w, calibration{Left: p.MotorLeftCalib.Get(), Right: p.MotorRightCalib.Get()})
}
