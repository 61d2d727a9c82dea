package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sound"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tasks"
)

func TestShortPressStartsRun(t *testing.T) {
	r := newRig(t)
	r.button.down = true
	r.stepFor(100 * time.Millisecond)
	r.button.down = false
	r.step()
	assert.False(t, r.s.Running(), "press is applied through the mailbox on the next tick")
	r.step()

	assert.True(t, r.s.Running())
	assert.Equal(t, LineFollow, r.s.State())
	assert.Equal(t, measure.Waiting, r.s.detector.State())
	assert.Equal(t, r.params.ObjectDetectDist.Int(), r.s.detector.Threshold())
	assert.Contains(t, r.speaker.played, sound.Start)

	// A second press stops it again.
	r.step()
	r.button.down = true
	r.stepFor(100 * time.Millisecond)
	r.button.down = false
	r.step()
	r.step()
	assert.False(t, r.s.Running())
	assert.Equal(t, Idle, r.s.State())
	assert.Greater(t, r.s.totalRunTime, time.Duration(0))
}

func TestBouncedPressIgnored(t *testing.T) {
	r := newRig(t)
	r.button.down = true
	r.step()
	r.step()
	r.button.down = false
	r.step()
	r.step()
	assert.False(t, r.s.Running())
}

func TestLongPressResetsStats(t *testing.T) {
	r := newRig(t)
	r.s.totalRunTime = time.Minute
	r.move(100, 100)
	r.step()
	require.InDelta(t, 100, r.s.odo.Odometry().LeftDistanceMm, 0.5)

	r.button.down = true
	r.stepFor(2100 * time.Millisecond)
	r.button.down = false
	r.step()
	r.step()

	assert.False(t, r.s.Running())
	assert.Zero(t, r.s.totalRunTime)
	assert.Zero(t, r.s.odo.Odometry().LeftDistanceMm)
}

func TestStatsResetKeepsMeasurement(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.step()
	require.Equal(t, measure.Waiting, r.s.detector.State())

	for k := 0; k < 100; k++ {
		if k >= 20 && k < 70 {
			r.laser.mm = 100
		} else {
			r.laser.mm = 2000
		}
		if k == 45 {
			require.Equal(t, measure.InObject, r.s.detector.State())
			r.post(Command{Kind: CmdResetStats})
		}
		r.move(10, 10)
		r.step()
	}

	require.Len(t, r.measured, 1)
	res := r.measured[0]
	assert.True(t, res.Valid)
	assert.InDelta(t, 500, res.RawLengthMm, 30)
	assert.InDelta(t, 550, r.s.odo.AverageDistanceMm(), 15, "odometry restarts from zero at the reset")
}

func TestStatsResetKeepsTaskDistance(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdTasksReplace, Tasks: []tasks.Spec{
		{Kind: tasks.Forward, Params: tasks.Params{DistanceMm: 300}},
	}})
	r.post(Command{Kind: CmdTasksStart})
	r.step()
	require.Equal(t, 150, r.motors.left)

	r.move(200, 200)
	r.step()
	r.post(Command{Kind: CmdResetStats})
	r.step()
	require.InDelta(t, 0, r.s.odo.AverageDistanceMm(), 0.5)

	r.move(60, 60)
	r.step()
	assert.Equal(t, 150, r.motors.left, "only 260mm of 300mm travelled")
	assert.Equal(t, tasks.Running, r.s.queue.Current().Status)

	r.move(50, 50)
	r.step()
	assert.Zero(t, r.motors.left)
	assert.Equal(t, tasks.Completed, r.s.queue.Tasks()[0].Status)
}

func TestStopDuringParkingAlarmSilencesIt(t *testing.T) {
	r := newRig(t)
	_, err := r.params.Set("obstacleDetectDist", 100)
	require.NoError(t, err)
	r.post(Command{Kind: CmdTestParking})
	r.ultra.cm = 99
	r.step()
	require.Equal(t, Parking, r.s.State())

	r.ultra.cm = 0
	for i := 0; i < 1000 && !r.alarm.on; i++ {
		r.step()
	}
	require.True(t, r.alarm.on)
	require.Equal(t, parkAlarm, r.s.park)

	r.post(Command{Kind: CmdStopRun})
	r.step()
	assert.Equal(t, Idle, r.s.State())
	assert.False(t, r.alarm.on)
}

func TestBaseSpeed(t *testing.T) {
	assert.Equal(t, 200, baseSpeed(0, 120, 200, 80))
	assert.Equal(t, 180, baseSpeed(500, 120, 200, 80))
	assert.Equal(t, 180, baseSpeed(-500, 120, 200, 80))
	assert.Equal(t, 80, baseSpeed(900, 120, 200, 80))
	assert.Equal(t, 80, baseSpeed(-1000, 120, 200, 80))
}

func TestSteersTowardLine(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.line.pos = 500
	r.step()

	// First sample is proportional only, with the measuring gain boost:
	// 0.2 * 2.5 * 500 = 250.
	assert.Equal(t, 255, r.motors.left)
	assert.Equal(t, 180-250, r.motors.right)

	r.line.pos = -500
	r.step()
	r.step()
	assert.Less(t, r.motors.left, r.motors.right)
}

func TestLineNotReadyStops(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.step()
	require.NotZero(t, r.motors.left)

	r.line.ready = false
	r.step()
	assert.Zero(t, r.motors.left)
	assert.Zero(t, r.motors.right)
}

func TestLostLineSearchesTowardLastSide(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.step()

	r.line.lost = true
	r.line.last = 300
	r.step()
	assert.Equal(t, 80, r.motors.left)
	assert.Equal(t, 26, r.motors.right)

	r.line.last = -300
	r.step()
	assert.Equal(t, 26, r.motors.left)
	assert.Equal(t, 80, r.motors.right)

	r.s.postAvoidStable = true
	r.step()
	assert.Equal(t, 80, r.motors.left)
	assert.Equal(t, 80, r.motors.right)
}

func TestStabilityWindow(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.step()
	r.s.avoidFinish = r.clock.Now()

	r.stepFor(800 * time.Millisecond)
	r.line.lost = true
	r.step()
	r.line.lost = false
	r.stepFor(800 * time.Millisecond)
	assert.False(t, r.s.postAvoidStable, "losing the line restarts the window")

	r.stepFor(300 * time.Millisecond)
	assert.True(t, r.s.postAvoidStable)
}

func TestFirstObstacleBrakesThenAvoids(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.step()
	r.s.obstacleArmed = true

	r.ultra.cm = 20
	r.step()
	assert.True(t, r.motors.braked)
	assert.True(t, r.s.Settling())
	assert.Equal(t, 1, r.s.obstacleCount)

	r.stepFor(400 * time.Millisecond)
	assert.True(t, r.motors.braked, "brake is held for the whole pause")
	r.settle()
	assert.Equal(t, ObstacleAvoid, r.s.State())
	assert.Equal(t, avoidTurnAway, r.s.avoid)
}

func TestSecondObstacleParks(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.step()
	r.s.obstacleArmed = true
	r.s.obstacleCount = 1

	r.ultra.cm = 20
	r.step()
	assert.Equal(t, Parking, r.s.State())
	assert.Equal(t, parkApproach, r.s.park)
}

func TestObstacleIgnoredUntilArmed(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.ultra.cm = 20
	r.stepFor(100 * time.Millisecond)
	assert.Equal(t, LineFollow, r.s.State())

	r.s.obstacleArmed = true
	r.ultra.cm = 1.5
	r.step()
	assert.Equal(t, LineFollow, r.s.State(), "readings under 2cm are noise")
}

func TestAvoidanceStepsProgressOnTarget(t *testing.T) {
	r := newRig(t)
	r.line.mask = 0
	r.post(Command{Kind: CmdTestAvoid})
	r.step()
	require.Equal(t, ObstacleAvoid, r.s.State())
	assert.Equal(t, -120, r.motors.left)
	assert.Equal(t, 120, r.motors.right)

	stages := []struct {
		step         avoidStep
		short, reach func()
	}{
		{avoidTurnAway, func() { r.move(-113, 113) }, func() { r.move(-10, 10) }},
		{avoidForwardOut, func() { r.move(395, 395) }, func() { r.move(10, 10) }},
		{avoidTurnParallel, func() { r.move(113, -113) }, func() { r.move(10, -10) }},
		{avoidForwardParallel, func() { r.move(495, 495) }, func() { r.move(10, 10) }},
		{avoidTurnToward, func() { r.move(113, -113) }, func() { r.move(10, -10) }},
		{avoidSearch, func() { r.move(300, 300) }, func() { r.line.mask = 0x18 }},
		{avoidAlign, func() { r.move(-113, 113) }, func() { r.move(-10, 10) }},
	}
	for i, st := range stages {
		require.Equal(t, st.step, r.s.avoid, "stage %d", i)
		st.short()
		r.step()
		assert.Equal(t, st.step, r.s.avoid, "step %v ended before its target", st.step)
		assert.False(t, r.s.Settling())

		st.reach()
		r.step()
		assert.True(t, r.s.Settling(), "step %v did not brake at its target", st.step)
		assert.True(t, r.motors.braked)
		r.settle()
	}
	assert.Equal(t, LineFollow, r.s.State())
	assert.Equal(t, avoidNone, r.s.avoid)
	assert.False(t, r.s.avoidFinish.IsZero())
	assert.False(t, r.s.postAvoidStable)
}

func TestForwardStepEqualisesWheels(t *testing.T) {
	r := newRig(t)
	r.s.running = true
	r.s.startAvoidance(r.clock.Now())
	r.s.avoid = avoidForwardOut

	r.move(50, 40)
	r.step()
	// adj = (50-40) * avoidKp(2)
	assert.InDelta(t, 130, r.motors.left, 1)
	assert.InDelta(t, 170, r.motors.right, 1)
}

func TestSearchGiveUpSkipsBrake(t *testing.T) {
	r := newRig(t)
	r.line.mask = 0
	r.s.running = true
	r.s.startAvoidance(r.clock.Now())
	r.s.avoid = avoidSearch

	r.move(805, 805)
	r.step()
	assert.Equal(t, avoidAlign, r.s.avoid)
	assert.False(t, r.s.Settling())
	assert.False(t, r.motors.braked)
}

func TestAvoidanceStepTimeout(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdTestAvoid})
	r.step()
	r.stepFor(5 * time.Second)
	r.step()
	assert.Equal(t, LineFollow, r.s.State())
	assert.Zero(t, r.motors.left)
}

func TestCommandWaitsForStepBoundary(t *testing.T) {
	r := newRig(t)
	r.line.mask = 0
	r.post(Command{Kind: CmdTestAvoid})
	r.step()
	r.move(-130, 130)
	r.step()
	require.True(t, r.s.Settling())

	r.post(Command{Kind: CmdManual, Manual: ManualForward})
	r.stepFor(100 * time.Millisecond)
	assert.False(t, r.s.manualActive)
	assert.True(t, r.motors.braked)
	assert.Equal(t, 1, r.s.Commands().Pending())

	r.settle()
	assert.Equal(t, avoidForwardOut, r.s.avoid)
	assert.False(t, r.s.manualActive)
	r.step()
	assert.True(t, r.s.manualActive)
	assert.Equal(t, 150, r.motors.left)
	assert.Equal(t, 150, r.motors.right)
}

func TestManualCommands(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdManual, Manual: ManualBackward, Value: 90})
	r.step()
	assert.Equal(t, -90, r.motors.left)
	assert.Equal(t, -90, r.motors.right)

	r.stepFor(9900 * time.Millisecond)
	assert.Equal(t, -90, r.motors.left)
	r.stepFor(200 * time.Millisecond)
	assert.Zero(t, r.motors.left)
	assert.False(t, r.s.manualActive)

	r.post(Command{Kind: CmdManual, Manual: ManualTurn180})
	r.step()
	assert.Equal(t, 120, r.motors.left)
	assert.Equal(t, -120, r.motors.right)
	r.stepFor(1300 * time.Millisecond)
	assert.Zero(t, r.motors.left)

	r.post(Command{Kind: CmdManual, Manual: ManualLeft})
	r.step()
	assert.Equal(t, -120, r.motors.left)
	r.post(Command{Kind: CmdManual, Manual: ManualStop})
	r.step()
	assert.False(t, r.s.manualActive)
	assert.Zero(t, r.motors.left)
}

func TestParseManualAction(t *testing.T) {
	a, err := ParseManualAction("turn_180")
	require.NoError(t, err)
	assert.Equal(t, ManualTurn180, a)
	_, err = ParseManualAction("jump")
	assert.Error(t, err)
}

func TestParkingVisitsPhasesInOrder(t *testing.T) {
	r := newRig(t)
	_, err := r.params.Set("obstacleDetectDist", 100)
	require.NoError(t, err)
	r.post(Command{Kind: CmdTestParking})
	r.ultra.cm = 99
	r.step()
	require.Equal(t, Parking, r.s.State())

	var phases []parkPhase
	record := func() {
		if r.s.State() != Parking {
			return
		}
		if len(phases) == 0 || phases[len(phases)-1] != r.s.park {
			phases = append(phases, r.s.park)
		}
	}
	record()
	for dist := 99.0; dist >= 0; dist -= 0.5 {
		r.ultra.cm = dist
		r.step()
		record()
	}
	r.ultra.cm = 0
	sawAlarm := false
	for i := 0; i < 1000 && r.s.State() == Parking; i++ {
		r.step()
		record()
		sawAlarm = sawAlarm || r.alarm.on
	}

	assert.Equal(t, []parkPhase{parkApproach, parkVerySlow, parkStop, parkAlarm}, phases)
	assert.Equal(t, Finished, r.s.State())
	assert.False(t, r.s.Running())
	assert.True(t, sawAlarm)
	assert.False(t, r.alarm.on)
}

func TestParkingSpeedBands(t *testing.T) {
	r := newRig(t)
	r.s.running = true
	r.s.startParking(r.clock.Now())

	r.ultra.cm = 80
	r.step()
	assert.Equal(t, r.params.SpeedSlow.Int(), r.motors.left)

	r.ultra.cm = 50
	r.step()
	assert.Equal(t, r.params.ParkingSpeedSlow.Int(), r.motors.left)
	assert.Equal(t, parkApproach, r.s.park)

	r.ultra.cm = 25
	r.step()
	assert.Equal(t, parkVerySlow, r.s.park)
	r.step()
	assert.Equal(t, r.params.ParkingSpeedVerySlow.Int(), r.motors.left)
}

func TestTurnTestSpeed(t *testing.T) {
	assert.Equal(t, 120, turnTestSpeed(200, 118, 120, 30))
	assert.Equal(t, 100, turnTestSpeed(0, 118, 120, 30))
	assert.Equal(t, 110, turnTestSpeed(25, 118, 120, 30))
	assert.Equal(t, 130, turnTestSpeed(25, 118, 120, 80))
}

func TestTurn90(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdTestTurn})
	r.step()
	require.Equal(t, Testing, r.s.State())
	assert.True(t, r.s.Running())
	assert.Equal(t, -120, r.motors.left)
	assert.Equal(t, 120, r.motors.right)

	r.move(-100, 100)
	r.step()
	assert.Equal(t, -107, r.motors.left)

	r.move(-20, 20)
	r.step()
	assert.True(t, r.motors.braked)
	r.settle()
	assert.Equal(t, Idle, r.s.State())
	assert.False(t, r.s.Running())
}

func TestStraight1m(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdTestStraight})
	r.step()
	require.Equal(t, Testing, r.s.State())
	assert.Equal(t, 150, r.motors.left)

	r.move(1010, 1010)
	r.step()
	assert.Equal(t, Idle, r.s.State())
	assert.Zero(t, r.motors.left)
}

func TestTestTimesOut(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdTestStraight})
	r.step()
	r.stepFor(10 * time.Second)
	r.step()
	assert.Equal(t, Idle, r.s.State())
	assert.False(t, r.s.Running())
}

func TestTestsIgnoredWhileRunning(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdStartRun})
	r.post(Command{Kind: CmdTestTurn})
	r.post(Command{Kind: CmdTestAvoid})
	r.step()
	assert.Equal(t, LineFollow, r.s.State())
}

func TestMeasurementCompletesAndArmsObstacles(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdMeasureStart, ThresholdMm: 1050})
	for k := 0; k < 90; k++ {
		if k >= 10 && k < 60 {
			r.laser.mm = 100
		} else {
			r.laser.mm = 2000
		}
		r.move(10, 10)
		r.step()
	}
	require.Len(t, r.measured, 1)
	res := r.measured[0]
	assert.True(t, res.Valid)
	assert.InDelta(t, 500, res.RawLengthMm, 30)
	assert.True(t, r.s.obstacleArmed)
	assert.Contains(t, r.speaker.played, sound.Measured)
	assert.Equal(t, measure.Completed, r.s.detector.State())
}

func TestMeasureStopAndReset(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdMeasureStart})
	r.step()
	assert.Equal(t, r.params.ObjectDetectDist.Int(), r.s.detector.Threshold())
	r.post(Command{Kind: CmdMeasureStop})
	r.step()
	assert.Equal(t, measure.Idle, r.s.detector.State())
	assert.Empty(t, r.measured)

	r.post(Command{Kind: CmdMeasureReset})
	r.step()
	assert.Zero(t, r.s.detector.Threshold())
}

func TestTaskDrivesWhileIdle(t *testing.T) {
	r := newRig(t)
	r.post(Command{Kind: CmdTasksReplace, Tasks: []tasks.Spec{
		{Kind: tasks.Forward, Params: tasks.Params{DistanceMm: 100}},
		{Kind: tasks.Beep},
	}})
	r.post(Command{Kind: CmdTasksStart})
	r.step()
	assert.Equal(t, 150, r.motors.left)
	r.step()
	assert.Equal(t, 150, r.motors.left, "idle must not stop a task drive")

	r.move(105, 105)
	r.step()
	assert.Zero(t, r.motors.left)
	r.step()
	r.step()
	r.step()
	assert.Contains(t, r.speaker.played, sound.Beep)
	assert.True(t, r.s.queue.Done())
}

func TestParamsPushedToHardware(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, 30, r.motors.deadband)
	_, err := r.params.Set("motorLeftCalib", 1.2)
	require.NoError(t, err)
	_, err = r.params.Set("motorDeadband", 45)
	require.NoError(t, err)
	w := r.params.Weights()
	w[0] = -900
	require.NoError(t, r.params.SetWeights(w))

	r.step()
	assert.Equal(t, 1.2, r.motors.calibL)
	assert.Equal(t, 45, r.motors.deadband)
	assert.Equal(t, -900, r.line.weights[0])
}

func TestSnapshotPublishedPeriodically(t *testing.T) {
	r := newRig(t)
	pub := r.s.Publisher()
	assert.Equal(t, "idle", pub.Latest().State)

	r.post(Command{Kind: CmdStartRun})
	r.step()
	assert.Equal(t, "idle", pub.Latest().State)

	r.stepFor(publishInterval)
	snap := pub.Latest()
	assert.Equal(t, "line_follow", snap.State)
	assert.True(t, snap.Running)
	assert.Equal(t, measure.Waiting, snap.Measurement.State)
	assert.Equal(t, uint8(0x18), snap.Line.Bitmask)
	assert.Greater(t, snap.RunTime, time.Duration(0))
}

func TestLoopFrequency(t *testing.T) {
	r := newRig(t)
	r.stepFor(2 * time.Second)
	assert.InDelta(t, 100, r.s.loopHz, 1)
}

type fakeBattery struct {
	volts float64
	ok    bool
}

func (b fakeBattery) Voltage() (float64, bool) { return b.volts, b.ok }

func TestSnapshotBattery(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, 0.0, r.s.snapshot(r.clock.Now()).BatteryV)

	r.s.battery = fakeBattery{volts: 7.9, ok: true}
	assert.Equal(t, 7.9, r.s.snapshot(r.clock.Now()).BatteryV)

	r.s.battery = fakeBattery{volts: 7.9}
	assert.Equal(t, 0.0, r.s.snapshot(r.clock.Now()).BatteryV)
}
