package hardware

import (
	"fmt"
	"math"
)

const (
	MaxPWM = 255

	minCalib       = 0.5
	maxCalib       = 1.5
	maxDeadband    = 100
	brakeDuty      = MaxPWM
	reportInterval = 100
)

// MotorDriver converts signed speed commands into H-bridge duty cycles.
// Each side is scaled by its calibration factor and, for any non-zero
// command, mapped onto [deadband, 255] so that small commands still turn the
// wheel.
type MotorDriver struct {
	left, right HBridge

	leftCalib, rightCalib float64
	deadband              int

	leftCmd, rightCmd int
	errCount          int
}

func NewMotorDriver(left, right HBridge) *MotorDriver {
	return &MotorDriver{
		left:       left,
		right:      right,
		leftCalib:  1,
		rightCalib: 1,
	}
}

var _ Drive = (*MotorDriver)(nil)

func (m *MotorDriver) SetCalibration(left, right float64) {
	m.leftCalib = math.Max(minCalib, math.Min(maxCalib, left))
	m.rightCalib = math.Max(minCalib, math.Min(maxCalib, right))
}

func (m *MotorDriver) Calibration() (left, right float64) {
	return m.leftCalib, m.rightCalib
}

func (m *MotorDriver) SetDeadband(d int) {
	m.deadband = max(0, min(maxDeadband, d))
}

func (m *MotorDriver) SetLeftSpeed(speed int) {
	m.leftCmd = speed
	m.drive(m.left, int(float64(speed)*m.leftCalib))
}

func (m *MotorDriver) SetRightSpeed(speed int) {
	m.rightCmd = speed
	m.drive(m.right, int(float64(speed)*m.rightCalib))
}

// Speeds returns the last commanded (uncalibrated) speeds.
func (m *MotorDriver) Speeds() (left, right int) {
	return m.leftCmd, m.rightCmd
}

func (m *MotorDriver) Stop() {
	m.leftCmd, m.rightCmd = 0, 0
	m.set(m.left, 0, 0)
	m.set(m.right, 0, 0)
}

func (m *MotorDriver) Brake() {
	m.leftCmd, m.rightCmd = 0, 0
	m.set(m.left, brakeDuty, brakeDuty)
	m.set(m.right, brakeDuty, brakeDuty)
}

func (m *MotorDriver) drive(hb HBridge, speed int) {
	speed = max(-MaxPWM, min(MaxPWM, speed))
	switch {
	case speed > 0:
		m.set(hb, m.duty(speed), 0)
	case speed < 0:
		m.set(hb, 0, m.duty(-speed))
	default:
		m.set(hb, 0, 0)
	}
}

// duty maps a magnitude in [1, 255] onto [deadband, 255].
func (m *MotorDriver) duty(mag int) uint8 {
	return uint8((mag-1)*(MaxPWM-m.deadband)/(MaxPWM-1) + m.deadband)
}

func (m *MotorDriver) set(hb HBridge, in1, in2 uint8) {
	if err := hb.Set(in1, in2); err != nil {
		if m.errCount%reportInterval == 0 {
			fmt.Println("HW: Failed to set motor PWM:", err)
		}
		m.errCount++
	}
}
