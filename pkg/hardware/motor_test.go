package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingBridge struct {
	in1, in2 uint8
	err      error
}

func (b *recordingBridge) Set(in1, in2 uint8) error {
	b.in1, b.in2 = in1, in2
	return b.err
}

func newTestDriver() (*MotorDriver, *recordingBridge, *recordingBridge) {
	l, r := &recordingBridge{}, &recordingBridge{}
	return NewMotorDriver(l, r), l, r
}

func TestForwardAndReverse(t *testing.T) {
	m, l, r := newTestDriver()
	m.SetLeftSpeed(100)
	m.SetRightSpeed(-100)
	// With no deadband the mapping is 1..255 onto 0..255.
	assert.Equal(t, [2]uint8{99, 0}, [2]uint8{l.in1, l.in2})
	assert.Equal(t, [2]uint8{0, 99}, [2]uint8{r.in1, r.in2})

	lc, rc := m.Speeds()
	assert.Equal(t, 100, lc)
	assert.Equal(t, -100, rc)
}

func TestSpeedClamped(t *testing.T) {
	m, l, _ := newTestDriver()
	m.SetLeftSpeed(1000)
	assert.Equal(t, uint8(255), l.in1)
	m.SetLeftSpeed(-1000)
	assert.Equal(t, uint8(255), l.in2)
}

func TestDeadbandMapping(t *testing.T) {
	m, l, _ := newTestDriver()
	m.SetDeadband(30)
	for _, tc := range []struct {
		speed int
		duty  uint8
	}{
		{1, 30},
		{255, 255},
		{128, 142},
	} {
		m.SetLeftSpeed(tc.speed)
		assert.Equal(t, tc.duty, l.in1, "speed %d", tc.speed)
	}

	// Zero still coasts.
	m.SetLeftSpeed(0)
	assert.Equal(t, [2]uint8{0, 0}, [2]uint8{l.in1, l.in2})

	m.SetDeadband(500)
	m.SetLeftSpeed(1)
	assert.Equal(t, uint8(100), l.in1)
}

func TestCalibration(t *testing.T) {
	m, l, r := newTestDriver()
	m.SetCalibration(1.25, 0.1)
	lc, rc := m.Calibration()
	assert.Equal(t, 1.25, lc)
	assert.Equal(t, 0.5, rc)

	m.SetDeadband(1)
	m.SetLeftSpeed(100)
	m.SetRightSpeed(100)
	assert.Equal(t, uint8(125), l.in1)
	assert.Equal(t, uint8(50), r.in1)
}

func TestBrakeAndStop(t *testing.T) {
	m, l, r := newTestDriver()
	m.SetLeftSpeed(100)
	m.Brake()
	assert.Equal(t, [2]uint8{255, 255}, [2]uint8{l.in1, l.in2})
	assert.Equal(t, [2]uint8{255, 255}, [2]uint8{r.in1, r.in2})
	m.Stop()
	assert.Equal(t, [2]uint8{0, 0}, [2]uint8{l.in1, l.in2})
	lc, rc := m.Speeds()
	assert.Zero(t, lc)
	assert.Zero(t, rc)
}

func TestBridgeErrorsDontPanic(t *testing.T) {
	m, l, _ := newTestDriver()
	l.err = errors.New("bus fault")
	assert.NotPanics(t, func() {
		for i := 0; i < 300; i++ {
			m.SetLeftSpeed(50)
		}
	})
}
