// Package tasks runs a user-programmed sequence of simple actions (follow
// the line, measure, drive, turn, wait) on top of the motion sequencer.
package tasks

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type Kind int

const (
	LineFollow Kind = iota
	MeasureObject
	Forward
	Backward
	TurnLeft
	TurnRight
	Stop
	Delay
	Beep
)

var kindNames = map[Kind]string{
	LineFollow:    "line_follow",
	MeasureObject: "measure_object",
	Forward:       "forward",
	Backward:      "backward",
	TurnLeft:      "turn_left",
	TurnRight:     "turn_right",
	Stop:          "stop",
	Delay:         "delay",
	Beep:          "beep",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, errors.Errorf("unknown task kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown task kind %q", string(b))
}

type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{Pending, Running, Completed, Failed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown task status %q", string(b))
}

type Params struct {
	DistanceMm float64 `json:"distanceMm,omitempty"`
	AngleDeg   float64 `json:"angleDeg,omitempty"`
	Speed      int     `json:"speed,omitempty"`
	DurationMs int64   `json:"durationMs,omitempty"`
	// Laser threshold for MeasureObject; zero means the configured default.
	ThresholdMm int `json:"thresholdMm,omitempty"`
}

func (p Params) Duration() time.Duration {
	return time.Duration(p.DurationMs) * time.Millisecond
}

type Task struct {
	ID          int       `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	Params      Params    `json:"params"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"startTime,omitempty"`

	// Wheel travel when the task started.
	startLeftMm, startRightMm float64
}

func (t *Task) travelled(env Env) (left, right float64) {
	o := env.Odometry()
	return o.LeftDistanceMm - t.startLeftMm, o.RightDistanceMm - t.startRightMm
}
