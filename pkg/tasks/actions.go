package tasks

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/odometry"
)

const (
	measureTimeout = 30 * time.Second
	defaultTurnDeg = 90
	quarterTurnDeg = 90
)

// Env is the vehicle as seen by a task.
type Env interface {
	Now() time.Time
	Odometry() odometry.Odometry

	StartLineFollow()
	StopRun()
	StartMeasurement(thresholdMm int)
	MeasurementDone() bool

	Drive(left, right int)
	StopMotors()

	DefaultSpeed() int
	TurnSpeed() int
	// Per-wheel travel for an in-place quarter turn.
	Turn90Mm() float64

	Beep()
}

// Action is the behaviour of one kind of task.  Execute starts it;
// IsComplete is then polled once per tick until it reports true.
type Action interface {
	Execute(env Env, t *Task) error
	IsComplete(env Env, t *Task) bool
}

var actions = map[Kind]Action{
	LineFollow:    lineFollowAction{},
	MeasureObject: measureAction{},
	Forward:       driveAction{dir: 1},
	Backward:      driveAction{dir: -1},
	TurnLeft:      turnAction{dir: -1},
	TurnRight:     turnAction{dir: 1},
	Stop:          stopAction{},
	Delay:         delayAction{},
	Beep:          beepAction{},
}

func ActionFor(k Kind) (Action, bool) {
	a, ok := actions[k]
	return a, ok
}

type lineFollowAction struct{}

func (lineFollowAction) Execute(env Env, t *Task) error {
	env.StartLineFollow()
	return nil
}

// IsComplete never returns true for an unbounded follow; something else has
// to stop the run.
func (lineFollowAction) IsComplete(env Env, t *Task) bool {
	if t.Params.DistanceMm <= 0 {
		return false
	}
	l, r := t.travelled(env)
	return (l+r)/2 >= t.Params.DistanceMm
}

type measureAction struct{}

func (measureAction) Execute(env Env, t *Task) error {
	env.StartMeasurement(t.Params.ThresholdMm)
	return nil
}

func (measureAction) IsComplete(env Env, t *Task) bool {
	return env.MeasurementDone() || env.Now().Sub(t.StartTime) > measureTimeout
}

type driveAction struct {
	dir int
}

func (a driveAction) Execute(env Env, t *Task) error {
	if t.Params.DistanceMm <= 0 && t.Params.DurationMs <= 0 {
		return errors.Errorf("%v task needs a distance or a duration", t.Kind)
	}
	speed := t.Params.Speed
	if speed <= 0 {
		speed = env.DefaultSpeed()
	}
	env.Drive(a.dir*speed, a.dir*speed)
	return nil
}

func (a driveAction) IsComplete(env Env, t *Task) bool {
	done := false
	if t.Params.DistanceMm > 0 {
		l, r := t.travelled(env)
		done = math.Abs((l+r)/2) >= t.Params.DistanceMm
	} else {
		done = env.Now().Sub(t.StartTime) >= t.Params.Duration()
	}
	if done {
		env.StopMotors()
	}
	return done
}

// turnAction spins in place; dir is -1 for left, +1 for right.
type turnAction struct {
	dir int
}

func (a turnAction) Execute(env Env, t *Task) error {
	speed := t.Params.Speed
	if speed <= 0 {
		speed = env.TurnSpeed()
	}
	env.Drive(a.dir*speed, -a.dir*speed)
	return nil
}

func (a turnAction) IsComplete(env Env, t *Task) bool {
	angle := t.Params.AngleDeg
	if angle <= 0 {
		angle = defaultTurnDeg
	}
	target := env.Turn90Mm() * angle / quarterTurnDeg
	l, r := t.travelled(env)
	if (math.Abs(l)+math.Abs(r))/2 >= target {
		env.StopMotors()
		return true
	}
	return false
}

type stopAction struct{}

func (stopAction) Execute(env Env, t *Task) error {
	env.StopRun()
	env.StopMotors()
	return nil
}

func (stopAction) IsComplete(Env, *Task) bool { return true }

type delayAction struct{}

func (delayAction) Execute(Env, *Task) error { return nil }

func (delayAction) IsComplete(env Env, t *Task) bool {
	return env.Now().Sub(t.StartTime) >= t.Params.Duration()
}

type beepAction struct{}

func (beepAction) Execute(env Env, t *Task) error {
	env.Beep()
	return nil
}

func (beepAction) IsComplete(Env, *Task) bool { return true }
