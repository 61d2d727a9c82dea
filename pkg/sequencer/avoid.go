package sequencer

import (
	"fmt"
	"math"
	"time"
)

type avoidStep int

const (
	avoidNone avoidStep = iota
	avoidTurnAway
	avoidForwardOut
	avoidTurnParallel
	avoidForwardParallel
	avoidTurnToward
	avoidSearch
	avoidAlign
)

func (a avoidStep) String() string {
	switch a {
	case avoidNone:
		return "none"
	case avoidTurnAway:
		return "turn_away"
	case avoidForwardOut:
		return "forward_out"
	case avoidTurnParallel:
		return "turn_parallel"
	case avoidForwardParallel:
		return "forward_parallel"
	case avoidTurnToward:
		return "turn_toward"
	case avoidSearch:
		return "search"
	case avoidAlign:
		return "align"
	}
	return fmt.Sprintf("avoidStep(%d)", int(a))
}

const (
	avoidStepTimeout = 5 * time.Second
	stepBrakeTime    = 200 * time.Millisecond
)

func (s *Sequencer) startAvoidance(now time.Time) {
	s.state = ObstacleAvoid
	s.avoid = avoidTurnAway
	s.beginStep(now)
}

// avoidObstacle runs one tick of the fixed detour around an obstacle: turn
// left off the track, out, right, along, right, back in until the line is
// found, then left to realign.
func (s *Sequencer) avoidObstacle(now time.Time) {
	if now.Sub(s.stepStart) > avoidStepTimeout {
		s.log("Avoidance step %v timed out, returning to line follow", s.avoid)
		s.motors.Stop()
		s.state = LineFollow
		s.avoid = avoidNone
		return
	}

	p := s.params
	turn := p.AvoidTurnSpeed.Get()
	fwd := p.AvoidSpeed.Get()
	dl, dr := s.stepTravel()
	avg := (dl + dr) / 2
	sl, sr := p.AvoidScale(int(s.avoid))

	// Forward steps hold both wheels to the same travel.
	straight := func(speed float64) {
		adj := int((dl - dr) * p.AvoidKp.Get())
		s.drive(int(speed*sl)-adj, int(speed*sr)+adj)
	}
	turned := func(target float64) bool {
		return math.Abs(dl) >= target || math.Abs(dr) >= target
	}

	switch s.avoid {
	case avoidTurnAway:
		s.drive(int(-turn*sl), int(turn*sr))
		if turned(p.AvoidTurn1Dist.Get()) {
			s.log("Step 1: left turn done. L:%.1f R:%.1f", dl, dr)
			s.finishStep(now, avoidForwardOut)
		}
	case avoidForwardOut:
		straight(fwd)
		if avg >= p.AvoidForwardDist.Get() {
			s.log("Step 2: forward out done. Dist:%.1f", avg)
			s.finishStep(now, avoidTurnParallel)
		}
	case avoidTurnParallel:
		s.drive(int(turn*sl), int(-turn*sr))
		if turned(p.AvoidTurn2Dist.Get()) {
			s.log("Step 3: right turn 1 done")
			s.finishStep(now, avoidForwardParallel)
		}
	case avoidForwardParallel:
		straight(fwd)
		if avg >= p.AvoidParallelDist.Get() {
			s.log("Step 4: parallel move done. Dist:%.1f", avg)
			s.finishStep(now, avoidTurnToward)
		}
	case avoidTurnToward:
		s.drive(int(turn*sl), int(-turn*sr))
		if turned(p.AvoidTurn3Dist.Get()) {
			s.log("Step 5: right turn 2 done")
			s.finishStep(now, avoidSearch)
		}
	case avoidSearch:
		straight(p.SpeedSlow.Get())
		if s.line.DataReady() && s.line.RawBitmask() != 0 {
			s.log("Step 6: line found")
			s.finishStep(now, avoidAlign)
		} else if avg >= p.AvoidSearchDist.Get() {
			s.log("Step 6: line not found after %.1fmm, forcing align", avg)
			s.avoid = avoidAlign
			s.beginStep(now)
		}
	case avoidAlign:
		s.drive(int(-turn), int(turn))
		if turned(p.AvoidFinalTurnDist.Get()) {
			s.log("Step 7: align done, resuming line follow")
			s.brakeThen(now, stepBrakeTime, func() {
				s.state = LineFollow
				s.avoid = avoidNone
				s.pid.Reset()
				s.avoidFinish = s.clock.Now()
				s.postAvoidStable = false
			})
		}
	default:
		s.motors.Stop()
		s.state = LineFollow
	}
}

// finishStep brakes, then starts next with fresh baselines.
func (s *Sequencer) finishStep(now time.Time, next avoidStep) {
	s.brakeThen(now, stepBrakeTime, func() {
		s.avoid = next
		s.beginStep(s.clock.Now())
	})
}
