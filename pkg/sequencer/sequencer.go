// Package sequencer is the vehicle's top-level state machine.  It owns the
// control loop: each tick it applies queued commands, refreshes the sensors
// and odometry, advances the measurement and the task queue, then runs
// whichever maneuver the current state calls for.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/pid"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sound"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/status"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tasks"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tunable"
)

type State int

const (
	Idle State = iota
	LineFollow
	ObstacleAvoid
	Parking
	Finished
	Testing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LineFollow:
		return "line_follow"
	case ObstacleAvoid:
		return "obstacle_avoid"
	case Parking:
		return "parking"
	case Finished:
		return "finished"
	case Testing:
		return "testing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	DefaultTickInterval = 2 * time.Millisecond

	publishInterval   = 200 * time.Millisecond
	loopStatsInterval = time.Second
	errorLogInterval  = 2 * time.Second

	manualDriveTime = 10 * time.Second
	manualTurnTime  = 1200 * time.Millisecond
)

type Log func(string, ...any)

// Motors is the drive train as the sequencer uses it.
type Motors interface {
	hardware.Drive
	SetDeadband(d int)
	SetCalibration(left, right float64)
	Speeds() (left, right int)
}

type Speaker interface {
	PlaySound(name string)
}

// MeasurementHook is called once each time a measurement finishes, with
// the result and the range trace that produced it.
type MeasurementHook func(result measure.Result, trace []measure.Sample)

type Deps struct {
	Clock      timeutil.Clock
	Log        Log
	Params     *tunable.Params
	Line       hardware.LineSensor
	Laser      hardware.RangeSensor
	Ultrasonic hardware.Ultrasonic
	Encoders   hardware.Encoders
	Motors     Motors
	Alarm      hardware.Alarm
	// Button, Speaker and Battery are optional.
	Button  hardware.Button
	Speaker Speaker
	Battery hardware.Battery

	Publisher     *status.Publisher
	OnMeasurement MeasurementHook
}

type Sequencer struct {
	clock  timeutil.Clock
	log    Log
	params *tunable.Params

	line         hardware.LineSensor
	laser        hardware.RangeSensor
	ultra        hardware.Ultrasonic
	motors       Motors
	alarm        hardware.Alarm
	buttonSource hardware.Button
	speaker      Speaker
	battery      hardware.Battery

	odo      *odometry.Tracker
	detector *measure.Detector
	pid      *pid.Controller
	encPID   *pid.Controller
	queue    *tasks.Queue
	cmds     *Commands
	pub      *status.Publisher
	env      taskEnv

	onMeasurement    MeasurementHook
	measureWasActive bool

	state   State
	running bool

	// Per-step odometry baselines and start time, shared by every maneuver.
	stepStart       time.Time
	stepLeftBaseMm  float64
	stepRightBaseMm float64
	avoid           avoidStep
	park            parkPhase
	parkLastDebug   time.Time
	test            testKind

	// An open settle window holds the brake until settleUntil, then runs
	// afterSettle.
	settleUntil time.Time
	afterSettle func()

	manualActive bool
	manualEnd    time.Time

	// Set by tasks that drive directly while the sequencer is idle.
	taskDrive bool
	taskLeft  int
	taskRight int

	obstacleArmed bool
	obstacleCount int

	wasLost         bool
	avoidFinish     time.Time
	postAvoidStable bool

	runStart     time.Time
	totalRunTime time.Duration

	press pressTracker

	ticks       int
	loopHz      int
	statsStart  time.Time
	lastPublish time.Time
	paramGen    uint64
	lastErrLog  time.Time
}

func New(d Deps) *Sequencer {
	if d.Log == nil {
		d.Log = func(f string, a ...any) { fmt.Printf(f+"\n", a...) }
	}
	if d.Publisher == nil {
		d.Publisher = status.NewPublisher()
	}
	s := &Sequencer{
		clock:         d.Clock,
		log:           d.Log,
		params:        d.Params,
		line:          d.Line,
		laser:         d.Laser,
		ultra:         d.Ultrasonic,
		motors:        d.Motors,
		alarm:         d.Alarm,
		buttonSource:  d.Button,
		speaker:       d.Speaker,
		battery:       d.Battery,
		cmds:          NewCommands(),
		pub:           d.Publisher,
		onMeasurement: d.OnMeasurement,
	}
	s.odo = odometry.NewTracker(d.Clock, d.Encoders)
	s.detector = measure.New(d.Clock, d.Laser, s.odo, prefixed(d.Log, "Measure"))
	s.pid = pid.New(d.Clock, d.Params.Kp.Get(), d.Params.Ki.Get(), d.Params.Kd.Get())
	s.encPID = pid.New(d.Clock, d.Params.EncKp.Get(), d.Params.EncKi.Get(), d.Params.EncKd.Get())
	s.encPID.SetSetpoint(0)
	s.encPID.SetOutputLimits(-encoderCorrectionLimit, encoderCorrectionLimit)
	s.queue = tasks.NewQueue(prefixed(d.Log, "Tasks"))
	s.env = taskEnv{s}
	s.applyParams(true)
	return s
}

func prefixed(log Log, name string) func(string, ...any) {
	return func(f string, a ...any) {
		log(name+": "+f, a...)
	}
}

func (s *Sequencer) Commands() *Commands {
	return s.cmds
}

func (s *Sequencer) Publisher() *status.Publisher {
	return s.pub
}

func (s *Sequencer) State() State {
	return s.state
}

func (s *Sequencer) Running() bool {
	return s.running
}

// Run ticks the control loop until the context is cancelled, then stops the
// motors.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.motors.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log("Control loop stopping")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one iteration of the control loop.
func (s *Sequencer) Tick() {
	now := s.clock.Now()
	s.countLoop(now)

	settling := !s.settleUntil.IsZero()
	if !settling {
		for _, cmd := range s.cmds.Drain() {
			s.apply(now, cmd)
		}
		s.applyParams(false)
	}

	s.pollSensors(now)
	s.updateMeasurement()
	s.pollButton(now)

	if settling {
		if now.Before(s.settleUntil) {
			s.maybePublish(now)
			return
		}
		s.endSettle(now)
		s.maybePublish(now)
		return
	}

	if s.manualActive {
		if !now.Before(s.manualEnd) {
			s.motors.Stop()
			s.manualActive = false
			s.log("Manual control completed")
		}
		s.maybePublish(now)
		return
	}

	s.queue.Update(s.env)

	switch s.state {
	case Idle:
		if s.taskDrive {
			s.drive(s.taskLeft, s.taskRight)
		} else {
			s.motors.Stop()
		}
	case LineFollow:
		if s.running {
			s.followLine(now)
		} else {
			s.motors.Stop()
		}
	case ObstacleAvoid:
		s.avoidObstacle(now)
	case Parking:
		s.parkVehicle(now)
	case Finished:
		s.motors.Stop()
	case Testing:
		s.runTest(now)
	}

	s.maybePublish(now)
}

func (s *Sequencer) countLoop(now time.Time) {
	s.ticks++
	if s.statsStart.IsZero() {
		s.statsStart = now
		return
	}
	if now.Sub(s.statsStart) >= loopStatsInterval {
		s.loopHz = s.ticks
		s.ticks = 0
		s.statsStart = now
	}
}

func (s *Sequencer) pollSensors(now time.Time) {
	if err := s.odo.Poll(); err != nil {
		s.logError(now, "Failed to read encoders: %v", err)
	}
	if err := s.line.Update(); err != nil {
		s.logError(now, "Failed to read line sensor: %v", err)
	}
}

func (s *Sequencer) logError(now time.Time, f string, a ...any) {
	if now.Sub(s.lastErrLog) < errorLogInterval {
		return
	}
	s.lastErrLog = now
	s.log(f, a...)
}

func (s *Sequencer) updateMeasurement() {
	if s.detector.IsDetecting() {
		s.detector.Update()
		if s.detector.IsCompleted() && !s.obstacleArmed {
			s.obstacleArmed = true
			s.log("Object measurement completed, obstacle detection enabled")
		}
	}

	active := s.detector.IsDetecting()
	if s.measureWasActive && !active {
		st := s.detector.State()
		if st == measure.Completed || st == measure.Failed {
			res := s.detector.Result()
			if res.Valid {
				s.playSound(sound.Measured)
			}
			if s.onMeasurement != nil {
				s.onMeasurement(res, s.detector.History())
			}
		}
	}
	s.measureWasActive = active
}

// applyParams pushes parameters that live in the hardware layer.  The
// deadband is refreshed every tick; weights and calibration only when a
// parameter has changed.
func (s *Sequencer) applyParams(force bool) {
	s.motors.SetDeadband(s.params.MotorDeadband.Int())
	gen := s.params.Generation()
	if !force && gen == s.paramGen {
		return
	}
	s.paramGen = gen
	s.motors.SetCalibration(s.params.MotorLeftCalib.Get(), s.params.MotorRightCalib.Get())
	s.line.SetWeights(s.params.Weights())
}

func (s *Sequencer) detectorConfig() measure.Config {
	cfg := s.detector.Config()
	cfg.FilterSize = s.params.ObjectFilterSize.Int()
	cfg.Scale = s.params.ObjectLengthScale.Get()
	cfg.Offset = s.params.ObjectLengthOffset.Get()
	return cfg
}

func (s *Sequencer) startMeasurement(thresholdMm int) {
	if thresholdMm <= 0 {
		thresholdMm = s.params.ObjectDetectDist.Int()
	}
	s.detector.SetConfig(s.detectorConfig())
	s.detector.StartDetection(thresholdMm)
	s.measureWasActive = true
}

// resetOdometry zeroes the wheel travel and shifts every baseline measured
// against it by the same amount, so steps, tasks and an in-progress
// measurement keep their progress.
func (s *Sequencer) resetOdometry() {
	o := s.odo.Odometry()
	s.odo.Reset()
	s.stepLeftBaseMm -= o.LeftDistanceMm
	s.stepRightBaseMm -= o.RightDistanceMm
	s.detector.RebaseTravel(o.AverageMm())
	s.queue.RebaseTravel(o.LeftDistanceMm, o.RightDistanceMm)
}

// beginStep records the start time and wheel travel that the current
// maneuver step is measured from.
func (s *Sequencer) beginStep(now time.Time) {
	o := s.odo.Odometry()
	s.stepStart = now
	s.stepLeftBaseMm = o.LeftDistanceMm
	s.stepRightBaseMm = o.RightDistanceMm
}

func (s *Sequencer) stepTravel() (left, right float64) {
	o := s.odo.Odometry()
	return o.LeftDistanceMm - s.stepLeftBaseMm, o.RightDistanceMm - s.stepRightBaseMm
}

// brakeThen holds the brake for d without blocking the loop, then stops the
// motors and runs next.
func (s *Sequencer) brakeThen(now time.Time, d time.Duration, next func()) {
	s.motors.Brake()
	s.settleUntil = now.Add(d)
	s.afterSettle = next
}

func (s *Sequencer) endSettle(now time.Time) {
	s.motors.Stop()
	next := s.afterSettle
	s.settleUntil = time.Time{}
	s.afterSettle = nil
	if next != nil {
		next()
	}
}

// Settling reports whether a brake pause is in progress.
func (s *Sequencer) Settling() bool {
	return !s.settleUntil.IsZero()
}

func (s *Sequencer) drive(left, right int) {
	s.motors.SetLeftSpeed(clampSpeed(left))
	s.motors.SetRightSpeed(clampSpeed(right))
}

func clampSpeed(v int) int {
	if v > hardware.MaxPWM {
		return hardware.MaxPWM
	}
	if v < -hardware.MaxPWM {
		return -hardware.MaxPWM
	}
	return v
}

func (s *Sequencer) playSound(name string) {
	if s.speaker != nil {
		s.speaker.PlaySound(name)
	}
}

func (s *Sequencer) startRun(now time.Time) {
	s.running = true
	s.state = LineFollow
	s.runStart = now
	s.resetOdometry()
	s.pid.Reset()
	s.wasLost = false
	s.avoidFinish = time.Time{}
	s.postAvoidStable = false

	s.startMeasurement(s.params.ObjectDetectDist.Int())

	s.obstacleCount = 0
	s.obstacleArmed = false
	s.log("=== RUN START ===")
	s.playSound(sound.Start)
}

func (s *Sequencer) stopRun(now time.Time) {
	s.motors.Stop()
	s.alarm.SetAlarm(false)
	s.taskDrive = false
	s.state = Idle
	if s.detector.IsDetecting() {
		s.detector.StopDetection()
	}
	if s.running && !s.runStart.IsZero() {
		s.totalRunTime += now.Sub(s.runStart)
	}
	s.running = false
	s.log("=== RUN STOP === total run time %v", s.totalRunTime.Round(time.Second))
}

func (s *Sequencer) resetStats() {
	s.totalRunTime = 0
	s.resetOdometry()
	s.log("Statistics reset")
}
