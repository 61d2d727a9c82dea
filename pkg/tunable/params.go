package tunable

import (
	"fmt"
	"math"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/chassis"
)

const NumSensorWeights = 8

var defaultSensorWeights = [NumSensorWeights]float64{-1000, -700, -400, -100, 100, 400, 700, 1000}

// Params is the full parameter set of the vehicle, with a typed handle for
// each parameter the control loop reads.
type Params struct {
	Tunables

	// Line following, before and after the object has been measured.
	Kp, Ki, Kd             *Tunable
	KpPost, KiPost, KdPost *Tunable

	SpeedSlow, SpeedNormal, SpeedFast, SpeedTurn *Tunable
	SpeedNormalPost, SpeedFastPost, SpeedTurnPost *Tunable

	// Ultrasonic obstacle trigger (cm) and side laser object threshold (mm).
	ObstacleDetectDist *Tunable
	ObjectDetectDist   *Tunable

	AvoidTurnDist, AvoidForwardDist, AvoidParallelDist *Tunable
	AvoidSpeed, AvoidTurnSpeed, AvoidKp                *Tunable
	AvoidTurn1Dist, AvoidTurn2Dist, AvoidTurn3Dist     *Tunable
	AvoidFinalTurnDist, AvoidSearchDist                *Tunable
	// Per-step left and right wheel speed scales, steps 1 to 6.
	AvoidStepScale [6][2]*Tunable

	ParkingDistSlow, ParkingDistVerySlow, ParkingDistStop *Tunable
	ParkingSpeedSlow, ParkingSpeedVerySlow                *Tunable

	MotorLeftCalib, MotorRightCalib, MotorDeadband *Tunable

	PIDIntegralRange, PIDSmallErrorThres *Tunable
	PIDKpSmallScale, PIDKdSmallScale     *Tunable

	ObjectFilterSize, ObjectLengthScale, ObjectLengthOffset *Tunable
	ObjectDeviationCorrection                               *Tunable

	EncKp, EncKi, EncKd *Tunable
	Turn90Dist          *Tunable

	SensorWeights [NumSensorWeights]*Tunable
}

func NewParams() *Params {
	p := &Params{}
	t := &p.Tunables

	p.Kp = t.Create("kp", 0.20)
	p.Ki = t.Create("ki", 0.005)
	p.Kd = t.Create("kd", 1.5)
	p.KpPost = t.Create("kpPost", 0.20)
	p.KiPost = t.Create("kiPost", 0.005)
	p.KdPost = t.Create("kdPost", 1.5)

	p.SpeedSlow = t.CreateClamped("speedSlow", 80, 0, 255)
	p.SpeedNormal = t.CreateClamped("speedNormal", 150, 0, 255)
	p.SpeedFast = t.CreateClamped("speedFast", 200, 0, 255)
	p.SpeedTurn = t.CreateClamped("speedTurn", 120, 0, 255)
	p.SpeedNormalPost = t.CreateClamped("speedNormalPost", 150, 0, 255)
	p.SpeedFastPost = t.CreateClamped("speedFastPost", 200, 0, 255)
	p.SpeedTurnPost = t.CreateClamped("speedTurnPost", 120, 0, 255)

	p.ObstacleDetectDist = t.Create("obstacleDetectDist", 30)
	p.ObjectDetectDist = t.Create("objectDetectDist", 300)

	p.AvoidTurnDist = t.Create("avoidTurnDist", 100)
	p.AvoidForwardDist = t.Create("avoidForwardDist", 400)
	p.AvoidParallelDist = t.Create("avoidParallelDist", 500)
	p.AvoidSpeed = t.CreateClamped("avoidSpeed", 150, 0, 255)
	p.AvoidTurnSpeed = t.CreateClamped("avoidTurnSpeed", 120, 0, 255)
	p.AvoidKp = t.Create("avoidKp", 2.0)
	p.AvoidTurn1Dist = t.Create("avoidTurn1Dist", 118)
	p.AvoidTurn2Dist = t.Create("avoidTurn2Dist", 118)
	p.AvoidTurn3Dist = t.Create("avoidTurn3Dist", 118)
	p.AvoidFinalTurnDist = t.Create("avoidFinalTurnDist", 118)
	p.AvoidSearchDist = t.Create("avoidSearchDist", 800)
	for step := range p.AvoidStepScale {
		p.AvoidStepScale[step][0] = t.CreateClamped(fmt.Sprintf("avoidS%dL", step+1), 1, 0.1, 3)
		p.AvoidStepScale[step][1] = t.CreateClamped(fmt.Sprintf("avoidS%dR", step+1), 1, 0.1, 3)
	}

	p.ParkingDistSlow = t.Create("parkingDistSlow", 60)
	p.ParkingDistVerySlow = t.Create("parkingDistVerySlow", 30)
	p.ParkingDistStop = t.Create("parkingDistStop", 10)
	p.ParkingSpeedSlow = t.CreateClamped("parkingSpeedSlow", 100, 0, 255)
	p.ParkingSpeedVerySlow = t.CreateClamped("parkingSpeedVerySlow", 60, 0, 255)

	p.MotorLeftCalib = t.CreateClamped("motorLeftCalib", 1, 0.5, 1.5)
	p.MotorRightCalib = t.CreateClamped("motorRightCalib", 1, 0.5, 1.5)
	p.MotorDeadband = t.CreateClamped("motorDeadband", 30, 0, 100)

	p.PIDIntegralRange = t.Create("pidIntegralRange", 200)
	p.PIDSmallErrorThres = t.Create("pidSmallErrorThres", 150)
	p.PIDKpSmallScale = t.Create("pidKpSmallScale", 0.6)
	p.PIDKdSmallScale = t.Create("pidKdSmallScale", 1.5)

	p.ObjectFilterSize = t.CreateClamped("objectFilterSize", 5, 1, 20)
	p.ObjectLengthScale = t.Create("objectLengthScale", 1)
	p.ObjectLengthOffset = t.Create("objectLengthOffset", 0)
	p.ObjectDeviationCorrection = t.Create("objectDeviationCorrection", 0)

	p.EncKp = t.Create("encKp", 1)
	p.EncKi = t.Create("encKi", 0)
	p.EncKd = t.Create("encKd", 0)
	p.Turn90Dist = t.Create("turn90Dist", math.Round(chassis.Turn90WheelTravelMM))

	for i, w := range defaultSensorWeights {
		p.SensorWeights[i] = t.CreateClamped(fmt.Sprintf("sensorWeight%d", i), w, -1000, 1000)
	}
	return p
}

func (p *Params) Weights() [NumSensorWeights]int {
	var w [NumSensorWeights]int
	for i, t := range p.SensorWeights {
		w[i] = t.Int()
	}
	return w
}

func (p *Params) SetWeights(w [NumSensorWeights]int) error {
	values := make(map[string]float64, NumSensorWeights)
	for i, t := range p.SensorWeights {
		values[t.Name] = float64(w[i])
	}
	return p.SetMany(values)
}

// AvoidScale returns the left and right speed scales for avoidance step
// 1 to 6.  Other steps run unscaled.
func (p *Params) AvoidScale(step int) (left, right float64) {
	if step < 1 || step > len(p.AvoidStepScale) {
		return 1, 1
	}
	s := p.AvoidStepScale[step-1]
	return s[0].Get(), s[1].Get()
}
