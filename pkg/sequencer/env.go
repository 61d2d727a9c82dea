package sequencer

import (
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sound"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tasks"
)

// taskEnv is the sequencer as seen by the task queue.
type taskEnv struct {
	s *Sequencer
}

var _ tasks.Env = taskEnv{}

func (e taskEnv) Now() time.Time {
	return e.s.clock.Now()
}

func (e taskEnv) Odometry() odometry.Odometry {
	return e.s.odo.Odometry()
}

func (e taskEnv) StartLineFollow() {
	s := e.s
	s.taskDrive = false
	if !s.running {
		s.runStart = s.clock.Now()
	}
	s.running = true
	s.state = LineFollow
}

func (e taskEnv) StopRun() {
	e.s.stopRun(e.s.clock.Now())
}

func (e taskEnv) StartMeasurement(thresholdMm int) {
	e.s.startMeasurement(thresholdMm)
}

func (e taskEnv) MeasurementDone() bool {
	return e.s.detector.IsCompleted()
}

// Drive only holds while the sequencer is idle; any other state owns the
// motors.
func (e taskEnv) Drive(left, right int) {
	s := e.s
	s.taskDrive = true
	s.taskLeft, s.taskRight = left, right
	s.drive(left, right)
}

func (e taskEnv) StopMotors() {
	e.s.taskDrive = false
	e.s.motors.Stop()
}

func (e taskEnv) DefaultSpeed() int {
	return e.s.params.SpeedNormal.Int()
}

func (e taskEnv) TurnSpeed() int {
	return e.s.params.SpeedTurn.Int()
}

func (e taskEnv) Turn90Mm() float64 {
	return e.s.params.Turn90Dist.Get()
}

func (e taskEnv) Beep() {
	e.s.playSound(sound.Beep)
}
