package sequencer

import (
	"fmt"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sound"
)

type parkPhase int

const (
	parkApproach parkPhase = iota
	parkVerySlow
	parkStop
	parkAlarm
)

func (p parkPhase) String() string {
	switch p {
	case parkApproach:
		return "approach"
	case parkVerySlow:
		return "very_slow"
	case parkStop:
		return "stop"
	case parkAlarm:
		return "alarm"
	}
	return fmt.Sprintf("parkPhase(%d)", int(p))
}

const (
	parkBrakeTime     = 200 * time.Millisecond
	alarmTime         = 3 * time.Second
	parkDebugInterval = 500 * time.Millisecond
)

func (s *Sequencer) startParking(now time.Time) {
	s.state = Parking
	s.park = parkApproach
	s.beginStep(now)
}

// parkVehicle creeps up to the garage wall on the ultrasonic, slowing at
// each distance band, then sounds the alarm.
func (s *Sequencer) parkVehicle(now time.Time) {
	p := s.params
	dist := s.ultra.DistanceCM()
	dl, dr := s.stepTravel()
	adj := int((dl - dr) * p.EncKp.Get())

	switch s.park {
	case parkApproach:
		if dist > p.ParkingDistSlow.Get() {
			speed := p.SpeedSlow.Int()
			s.drive(speed-adj, speed+adj)
			break
		}
		speed := p.ParkingSpeedSlow.Int()
		s.drive(speed-adj, speed+adj)
		if dist <= p.ParkingDistVerySlow.Get() {
			s.log("Parking: entering very slow zone (%.1fcm)", dist)
			s.park = parkVerySlow
		}
	case parkVerySlow:
		speed := p.ParkingSpeedVerySlow.Int()
		s.drive(speed-adj, speed+adj)
		if dist <= p.ParkingDistStop.Get() {
			s.log("Parking: stop distance reached (%.1fcm)", dist)
			s.brakeThen(now, parkBrakeTime, func() {
				s.park = parkStop
				s.stepStart = s.clock.Now()
			})
		}
	case parkStop:
		s.motors.Stop()
		s.park = parkAlarm
		s.stepStart = now
		s.log("Parking: stopped, alarm starting")
		s.playSound(sound.Alarm)
	case parkAlarm:
		s.alarm.SetAlarm(true)
		if now.Sub(s.stepStart) >= alarmTime {
			s.alarm.SetAlarm(false)
			s.log("Parking completed")
			s.state = Finished
			if s.running {
				s.totalRunTime += now.Sub(s.runStart)
			}
			s.running = false
			s.playSound(sound.Finish)
		}
	}

	if now.Sub(s.parkLastDebug) > parkDebugInterval {
		s.log("Parking: phase=%v dist=%.1fcm", s.park, dist)
		s.parkLastDebug = now
	}
}
