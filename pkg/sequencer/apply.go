package sequencer

import (
	"time"
)

func (s *Sequencer) apply(now time.Time, cmd Command) {
	switch cmd.Kind {
	case CmdStartRun:
		if !s.running {
			s.startRun(now)
		}
	case CmdStopRun:
		s.stopRun(now)
	case CmdToggleRun:
		if s.running {
			s.stopRun(now)
		} else {
			s.startRun(now)
		}
	case CmdResetStats:
		s.resetStats()

	case CmdTestTurn:
		if s.running {
			s.log("Ignoring %v while running", cmd.Kind)
			return
		}
		s.log("Starting turn 90 test")
		s.startTest(now, testTurn90)
	case CmdTestStraight:
		if s.running {
			s.log("Ignoring %v while running", cmd.Kind)
			return
		}
		s.log("Starting straight 1m test")
		s.encPID.Reset()
		s.encPID.SetGains(s.params.EncKp.Get(), s.params.EncKi.Get(), s.params.EncKd.Get())
		s.startTest(now, testStraight1m)
	case CmdTestAvoid:
		if s.running {
			s.log("Ignoring %v while running", cmd.Kind)
			return
		}
		s.log("Starting avoidance test")
		s.running = true
		s.startAvoidance(now)
	case CmdTestParking:
		s.log("Starting parking test")
		s.running = true
		s.state = LineFollow
		s.runStart = now
		s.resetOdometry()
		s.pid.Reset()
		s.detector.StopDetection()
		// Pretend the first obstacle has been passed so the next one is
		// the garage.
		s.obstacleArmed = true
		s.obstacleCount = 1

	case CmdManual:
		s.applyManual(now, cmd)

	case CmdMeasureStart:
		s.startMeasurement(cmd.ThresholdMm)
	case CmdMeasureStop:
		s.detector.StopDetection()
	case CmdMeasureReset:
		s.detector.Reset()
		s.measureWasActive = false

	case CmdTasksReplace:
		if err := s.queue.Replace(cmd.Tasks); err != nil {
			s.log("Failed to load tasks: %v", err)
		}
	case CmdTasksStart:
		s.queue.Start()
	case CmdTasksPause:
		s.queue.Pause()
	case CmdTasksStop:
		s.queue.Stop()
		s.taskDrive = false
	case CmdTasksClear:
		s.queue.Clear()
		s.taskDrive = false

	default:
		s.log("Unknown command %v", cmd.Kind)
	}
}

// applyManual takes effect immediately and suspends the automatic logic
// until it expires.
func (s *Sequencer) applyManual(now time.Time, cmd Command) {
	if cmd.Manual == ManualStop {
		s.motors.Stop()
		s.manualActive = false
		if s.running {
			s.log("Manual stop")
		}
		return
	}
	if s.running {
		s.log("Auto mode paused for manual control")
	}
	s.manualActive = true

	speed := s.params.SpeedNormal.Int()
	if cmd.Value > 0 {
		speed = int(cmd.Value)
	}
	turn := s.params.SpeedTurn.Int()

	switch cmd.Manual {
	case ManualForward:
		s.drive(speed, speed)
		s.manualEnd = now.Add(manualDriveTime)
	case ManualBackward:
		s.drive(-speed, -speed)
		s.manualEnd = now.Add(manualDriveTime)
	case ManualLeft:
		s.drive(-turn, turn)
		s.manualEnd = now.Add(manualDriveTime)
	case ManualRight:
		s.drive(turn, -turn)
		s.manualEnd = now.Add(manualDriveTime)
	case ManualTurn180:
		s.drive(turn, -turn)
		s.manualEnd = now.Add(manualTurnTime)
	default:
		s.manualActive = false
	}
}
