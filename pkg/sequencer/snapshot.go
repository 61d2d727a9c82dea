package sequencer

import (
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/status"
)

func (s *Sequencer) maybePublish(now time.Time) {
	if now.Sub(s.lastPublish) < publishInterval {
		return
	}
	s.lastPublish = now
	s.pub.Publish(s.snapshot(now))
}

func (s *Sequencer) subState() string {
	switch s.state {
	case ObstacleAvoid:
		return s.avoid.String()
	case Parking:
		return s.park.String()
	case Testing:
		return s.test.String()
	}
	return ""
}

func (s *Sequencer) snapshot(now time.Time) *status.Snapshot {
	raw, filtered := s.detector.Readings()
	if !s.detector.IsDetecting() {
		raw = int(s.laser.DistanceMM())
	}
	left, right := s.motors.Speeds()

	snap := &status.Snapshot{
		Time:     now,
		Running:  s.running,
		State:    s.state.String(),
		SubState: s.subState(),
		Manual:   s.manualActive,
		Settling: s.Settling(),
		Line: status.Line{
			Position:     s.line.Position(),
			LastPosition: s.line.LastPosition(),
			Bitmask:      s.line.RawBitmask(),
			Lost:         s.line.LostLine(),
			Ready:        s.line.DataReady(),
		},
		Ranges: status.Ranges{
			LaserMm:         raw,
			FilteredLaserMm: filtered,
			UltrasonicCm:    s.ultra.DistanceCM(),
		},
		Odometry:   s.odo.Odometry(),
		PID:        s.pid.Terms(),
		LeftSpeed:  left,
		RightSpeed: right,
		Measurement: status.Measurement{
			State:     s.detector.State(),
			Threshold: s.detector.Threshold(),
			Result:    s.detector.Result(),
		},
		Tasks: status.Tasks{
			Executing:    s.queue.Executing(),
			CurrentIndex: s.queue.CurrentIndex(),
			Total:        s.queue.Len(),
			List:         s.queue.Tasks(),
		},
		ObstacleCount:   s.obstacleCount,
		ObstacleArmed:   s.obstacleArmed,
		LoopHz:          s.loopHz,
		TotalRunTime:    s.totalRunTime,
		ParamGeneration: s.paramGen,
	}
	if cur := s.queue.Current(); cur != nil && s.queue.Executing() {
		snap.Tasks.Current = cur.Kind.String()
	}
	if s.battery != nil {
		if v, ok := s.battery.Voltage(); ok {
			snap.BatteryV = v
		}
	}
	if s.running && !s.runStart.IsZero() {
		snap.RunTime = now.Sub(s.runStart)
	}
	return snap
}
