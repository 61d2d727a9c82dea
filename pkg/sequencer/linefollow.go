package sequencer

import (
	"math"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sound"
)

const (
	stabilityWindow    = time.Second
	obstacleBrakeTime  = 500 * time.Millisecond
	minObstacleCm      = 2.0
	maxObstacleHits    = 2
	sharpCornerError   = 800
	measuringKpFactor  = 2.5
	measuringKdFactor  = 3.0
	fullScalePosition  = 1000.0
	searchInnerDivisor = 3
)

type profile struct {
	kp, ki, kd         float64
	normal, fast, turn int
}

// profile picks the gains and speeds for the current phase of the run.
// Once the object has been measured the vehicle switches to the post
// profile.
func (s *Sequencer) profile() profile {
	p := s.params
	if s.detector.IsCompleted() {
		return profile{
			kp: p.KpPost.Get(), ki: p.KiPost.Get(), kd: p.KdPost.Get(),
			normal: p.SpeedNormalPost.Int(), fast: p.SpeedFastPost.Int(), turn: p.SpeedTurnPost.Int(),
		}
	}
	return profile{
		kp: p.Kp.Get(), ki: p.Ki.Get(), kd: p.Kd.Get(),
		normal: p.SpeedNormal.Int(), fast: p.SpeedFast.Int(), turn: p.SpeedTurn.Int(),
	}
}

func (s *Sequencer) followLine(now time.Time) {
	if !s.avoidFinish.IsZero() && !s.postAvoidStable {
		if s.line.LostLine() {
			s.avoidFinish = now
		} else if now.Sub(s.avoidFinish) > stabilityWindow {
			s.postAvoidStable = true
			s.log("Post-avoidance stability achieved, lost line now drives straight")
		}
	}

	if !s.line.DataReady() {
		s.logError(now, "Line sensor data not ready")
		s.motors.Stop()
		return
	}

	if s.checkObstacle(now) {
		return
	}

	pos := s.line.Position()
	if s.line.LostLine() {
		if !s.wasLost {
			s.log("Line lost, searching")
			s.wasLost = true
		}
		slow := s.params.SpeedSlow.Int()
		if s.postAvoidStable {
			s.drive(slow, slow)
			return
		}
		if s.line.LastPosition() >= 0 {
			s.drive(slow, slow/searchInnerDivisor)
		} else {
			s.drive(slow/searchInnerDivisor, slow)
		}
		return
	}

	if s.wasLost {
		s.log("Line found, resetting PID")
		s.pid.Reset()
		s.wasLost = false
	}

	prof := s.profile()
	kp, kd := prof.kp, prof.kd
	if s.detector.IsDetecting() {
		// Hold a straight line while measuring; weaving inflates the
		// odometry.
		kp *= measuringKpFactor
		kd *= measuringKdFactor
	} else if math.Abs(float64(pos)) < s.params.PIDSmallErrorThres.Get() {
		kp *= s.params.PIDKpSmallScale.Get()
		kd *= s.params.PIDKdSmallScale.Get()
	}
	s.pid.SetGains(kp, prof.ki, kd)
	s.pid.SetIntegralRange(s.params.PIDIntegralRange.Get())

	correction := s.pid.Compute(float64(pos))
	base := baseSpeed(pos, prof.turn, prof.fast, s.params.SpeedSlow.Int())

	s.drive(int(float64(base)-correction), int(float64(base)+correction))
}

// baseSpeed slows the vehicle quadratically with the line error, from fast
// on a straight to turn at full deflection.  Past sharpCornerError it drops
// to slow.
func baseSpeed(pos, turn, fast, slow int) int {
	if abs(pos) > sharpCornerError {
		return slow
	}
	ratio := math.Min(math.Abs(float64(pos))/fullScalePosition, 1)
	return turn + int(float64(fast-turn)*(1-ratio*ratio))
}

// checkObstacle reports whether an obstacle ahead has taken the vehicle
// out of line following.
func (s *Sequencer) checkObstacle(now time.Time) bool {
	if !s.obstacleArmed || s.obstacleCount >= maxObstacleHits {
		return false
	}
	dist := s.ultra.DistanceCM()
	if dist >= s.params.ObstacleDetectDist.Get() || dist <= minObstacleCm {
		return false
	}
	s.obstacleCount++
	s.log("Obstacle %d detected at %.1fcm", s.obstacleCount, dist)
	s.playSound(sound.Obstacle)

	if s.obstacleCount == 1 {
		s.log("=== Starting obstacle avoidance ===")
		s.brakeThen(now, obstacleBrakeTime, func() {
			s.startAvoidance(s.clock.Now())
		})
		return true
	}
	s.log("=== Starting parking ===")
	s.startParking(now)
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
