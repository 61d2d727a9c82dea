package sequencer

import (
	"fmt"
	"math"
	"time"
)

type testKind int

const (
	testNone testKind = iota
	testTurn90
	testStraight1m
)

func (t testKind) String() string {
	switch t {
	case testNone:
		return "none"
	case testTurn90:
		return "turn_90"
	case testStraight1m:
		return "straight_1m"
	}
	return fmt.Sprintf("testKind(%d)", int(t))
}

const (
	testTimeout            = 10 * time.Second
	turnBrakeTime          = 300 * time.Millisecond
	straightTestDistMm     = 1000
	encoderCorrectionLimit = 50
	turnSlowdownFraction   = 0.4
	turnSlowdownMinMm      = 50
	turnFloorSpeed         = 100
	turnFloorOverDeadband  = 50
)

func (s *Sequencer) startTest(now time.Time, kind testKind) {
	s.state = Testing
	s.test = kind
	s.running = true
	s.resetOdometry()
	s.beginStep(now)
}

func (s *Sequencer) endTest() {
	s.state = Idle
	s.test = testNone
	s.running = false
}

func (s *Sequencer) runTest(now time.Time) {
	if now.Sub(s.stepStart) > testTimeout {
		s.log("Test %v timed out", s.test)
		s.motors.Stop()
		s.endTest()
		return
	}

	dl, dr := s.stepTravel()
	switch s.test {
	case testTurn90:
		target := s.params.Turn90Dist.Get()
		current := math.Max(math.Abs(dl), math.Abs(dr))
		speed := turnTestSpeed(target-current, target,
			s.params.AvoidTurnSpeed.Int(), s.params.MotorDeadband.Int())
		s.drive(-speed, speed)
		if current >= target {
			s.log("Test: turn 90 done. L:%.1f R:%.1f", dl, dr)
			s.brakeThen(now, turnBrakeTime, s.endTest)
		}
	case testStraight1m:
		adj := s.encPID.Compute(dl - dr)
		fwd := s.params.AvoidSpeed.Get()
		s.drive(int(fwd-adj), int(fwd+adj))
		if (dl+dr)/2 >= straightTestDistMm {
			s.motors.Stop()
			s.log("Test: straight 1m done. Err:%.1f", dl-dr)
			s.endTest()
		}
	default:
		s.motors.Stop()
		s.endTest()
	}
}

// turnTestSpeed ramps linearly down from full as the remaining travel
// shrinks, but never below a floor that keeps the wheels turning.
func turnTestSpeed(remaining, target float64, full, deadband int) int {
	slowAt := math.Max(target*turnSlowdownFraction, turnSlowdownMinMm)
	if remaining >= slowAt {
		return full
	}
	floor := max(turnFloorSpeed, deadband+turnFloorOverDeadband)
	speed := floor + int(float64(full-floor)*remaining/slowAt)
	return max(speed, floor)
}
