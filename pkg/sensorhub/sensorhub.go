// Package sensorhub drives the I2C co-processor that counts the wheel
// encoder pulses and runs the side-facing VL53L0X laser in continuous mode.
package sensorhub

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	HubAddr = 0x42
)

type Register byte

const (
	RegCtrl Register = iota
	RegStatus
	RegWatchdogTimeout
	RegFaultCount

	RegEncLeft // Free-running, wraps
	RegEncRight

	RegLaserRange // mm, RangeTooFar when no target
	RegLaserSeq   // Bumped on each new laser sample

	RegBattV // LSB=4mV
)

const (
	BattVLSB = 0.004

	// RangeTooFar is what the hub reports when the laser saw no target.
	RangeTooFar = 8190
)

const (
	RegCtrlEnable uint16 = 1 << iota
	RegCtrlLaserRun
	RegCtrlLaserReset
	RegCtrlResetEncoders
	RegCtrlWatchdogEnable
)

type StatusFlag uint16

const (
	RegStatusFault StatusFlag = 1 << iota
	RegStatusLaserOK
	RegStatusWatchdogExpired
)

const (
	writeRetries = 20
	// The laser is restarted if it hasn't produced a sample in this long.
	laserStallTimeout = 500 * time.Millisecond
)

var ErrNotReady = errors.New("sensor hub not ready")

type port interface {
	ReadReg(reg byte, buf []byte) error
	Write(buf []byte) error
	Close() error
}

type Hub struct {
	lock   sync.Mutex
	dev    port
	reopen func() (port, error)

	lastSeq     uint16
	lastRange   uint16
	lastSample  time.Time
	laserActive bool
}

func New(devPath string) (*Hub, error) {
	open := func() (port, error) {
		dev, err := i2c.Open(&i2c.Devfs{Dev: devPath}, HubAddr)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	dev, err := open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sensor hub on %s", devPath)
	}
	h := &Hub{dev: dev, reopen: open}
	if err := h.writeReg(RegCtrl, RegCtrlEnable|RegCtrlLaserRun); err != nil {
		_ = dev.Close()
		return nil, err
	}
	h.lastSample = time.Now()
	return h, nil
}

func newWithPort(dev port) *Hub {
	return &Hub{
		dev:        dev,
		reopen:     func() (port, error) { return dev, nil },
		lastSample: time.Now(),
	}
}

// RawCounts returns the encoder counters.  They are 16 bits and wrap; the
// odometry tracker unwraps them.
func (h *Hub) RawCounts() (left, right int16, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	var buf [4]byte
	if err := h.dev.ReadReg(byte(RegEncLeft), buf[:]); err != nil {
		return 0, 0, errors.Wrap(err, "failed to read encoders")
	}
	left = int16(binary.BigEndian.Uint16(buf[0:2]))
	right = int16(binary.BigEndian.Uint16(buf[2:4]))
	return left, right, nil
}

// Ready reports whether the laser has produced a new sample since the last
// call, and latches that sample for DistanceMM.
func (h *Hub) Ready() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	var buf [4]byte
	if err := h.dev.ReadReg(byte(RegLaserRange), buf[:]); err != nil {
		return false
	}
	rng := binary.BigEndian.Uint16(buf[0:2])
	seq := binary.BigEndian.Uint16(buf[2:4])
	if seq == h.lastSeq && h.laserActive {
		if time.Since(h.lastSample) > laserStallTimeout {
			fmt.Println("Hub: laser stalled, resetting")
			_ = h.writeReg(RegCtrl, RegCtrlEnable|RegCtrlLaserRun|RegCtrlLaserReset)
			h.lastSample = time.Now()
		}
		return false
	}
	h.laserActive = true
	h.lastSeq = seq
	h.lastRange = rng
	h.lastSample = time.Now()
	return true
}

func (h *Hub) DistanceMM() uint16 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.lastRange
}

func (h *Hub) BattVolts() (float64, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	raw, err := h.readReg(RegBattV)
	if err != nil {
		return 0, err
	}
	return float64(raw) * BattVLSB, nil
}

func (h *Hub) Status() (StatusFlag, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	raw, err := h.readReg(RegStatus)
	if err != nil {
		return 0, err
	}
	return StatusFlag(raw), nil
}

func (h *Hub) SetWatchdog(timeout time.Duration) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	ms := min(timeout.Milliseconds(), 0xffff)
	if err := h.writeReg(RegWatchdogTimeout, uint16(ms)); err != nil {
		return err
	}
	ctrl := RegCtrlEnable | RegCtrlLaserRun
	if timeout > 0 {
		ctrl |= RegCtrlWatchdogEnable
	}
	return h.writeReg(RegCtrl, ctrl)
}

func (h *Hub) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	_ = h.writeReg(RegCtrl, 0)
	return h.dev.Close()
}

func (h *Hub) writeWithRetries(data []byte) error {
	var err error
	for tries := 0; tries < writeRetries; tries++ {
		err = h.dev.Write(data)
		if err == nil {
			if tries > 0 {
				fmt.Println("Hub: write succeeded after retries")
			}
			return nil
		}
		fmt.Println("Hub: failed to write:", err)
		time.Sleep(1 * time.Millisecond)
		_ = h.dev.Close()
		dev, openErr := h.reopen()
		if openErr != nil {
			continue
		}
		h.dev = dev
	}
	return errors.Wrap(err, "sensor hub write failed")
}

func (h *Hub) writeReg(reg Register, value uint16) error {
	return h.writeWithRetries([]byte{byte(reg), byte(value >> 8), byte(value)})
}

func (h *Hub) readReg(reg Register) (uint16, error) {
	var buf [2]byte
	err := h.dev.ReadReg(byte(reg), buf[:])
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read register %d", reg)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
