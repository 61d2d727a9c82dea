// Package ina219 reads the INA219 high-side monitor on the motor battery
// supply.
package ina219

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	DefaultAddr = 0x40

	RegConfig      = 0
	RegShuntV      = 1
	RegBusV        = 2
	RegPower       = 3
	RegCurrent     = 4
	RegCalibration = 5

	BusVoltageLSB = 0.004

	// Low bits of the bus voltage register.
	busVOverflow = 1 << 0
)

type port interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type INA219 struct {
	lock       sync.Mutex
	currentLSB float64
	dev        port
}

func Open(deviceFile string, addr int) (*INA219, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open INA219 at 0x%x", addr)
	}
	return newWithPort(dev), nil
}

func newWithPort(dev port) *INA219 {
	return &INA219{dev: dev}
}

// Configure programs the calibration register for the given shunt and the
// largest current expected through it.
func (m *INA219) Configure(shuntOhms float64, maxCurrent float64) error {
	if shuntOhms <= 0 || maxCurrent <= 0 {
		return errors.Errorf("invalid INA219 calibration: shunt %v ohm, max %v A", shuntOhms, maxCurrent)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.currentLSB = maxCurrent / (1 << 15)
	cval := CalculateCalibrationValue(m.currentLSB, shuntOhms)
	err := m.dev.WriteReg(RegCalibration, []byte{byte(cval >> 8), byte(cval)})
	return errors.Wrap(err, "failed to write INA219 calibration")
}

func (m *INA219) ReadBusVoltage() (float64, error) {
	raw, err := m.read16(RegBusV)
	if err != nil {
		return 0, err
	}
	if raw&busVOverflow != 0 {
		return 0, errors.New("INA219 math overflow")
	}
	return float64(raw>>3) * BusVoltageLSB, nil
}

// ReadCurrent returns amps; negative when the battery is charging.
// Configure must have been called.
func (m *INA219) ReadCurrent() (float64, error) {
	raw, err := m.read16(RegCurrent)
	if err != nil {
		return 0, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return float64(int16(raw)) * m.currentLSB, nil
}

func (m *INA219) ReadPower() (float64, error) {
	raw, err := m.read16(RegPower)
	if err != nil {
		return 0, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return float64(raw) * m.currentLSB * 20, nil
}

func (m *INA219) Close() error {
	return m.dev.Close()
}

func (m *INA219) read16(reg byte) (uint16, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var buf [2]byte
	if err := m.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read INA219 register %d", reg)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func CalculateCalibrationValue(currentLSB float64, shuntOhms float64) int16 {
	return int16(0.04096 / (currentLSB * shuntOhms))
}
