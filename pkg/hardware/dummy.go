package hardware

import (
	"fmt"
	"sync"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
)

// Full-duty wheel speed of the simulated vehicle.
const dummyTopSpeedMmPerS = 600

// Dummy is a stand-in vehicle for running the controller without hardware.
// The wheels turn in proportion to the commanded PWM so the encoders count,
// the line stays centred and nothing is ever in range.  Tests and the API
// can move the simulated readings through its exported fields.
type Dummy struct {
	clock timeutil.Clock

	lock         sync.Mutex
	LineMask     uint8
	LaserMM      uint16
	LaserReady   bool
	UltrasonicCM float64
	ButtonDown   bool
	AlarmOn      bool
	BatteryV     float64

	bridges [2]*dummyBridge
	motors  *MotorDriver
	line    *WeightedLineSensor

	counts  [2]float64
	lastSim int64
}

func NewDummy(clock timeutil.Clock) *Dummy {
	d := &Dummy{
		clock:        clock,
		LineMask:     0x18,
		LaserMM:      2000,
		LaserReady:   true,
		UltrasonicCM: UltrasonicTimeout,
		BatteryV:     8.2,
		bridges:      [2]*dummyBridge{{}, {}},
	}
	d.motors = NewMotorDriver(d.bridges[0], d.bridges[1])
	d.line = NewWeightedLineSensor(dummyBar{d})
	return d
}

var _ Interface = (*Dummy)(nil)

func (d *Dummy) Line() LineSensor       { return d.line }
func (d *Dummy) Laser() RangeSensor     { return dummyLaser{d} }
func (d *Dummy) Ultrasonic() Ultrasonic { return dummyUltrasonic{d} }
func (d *Dummy) Encoders() Encoders     { return d }
func (d *Dummy) Motors() *MotorDriver   { return d.motors }
func (d *Dummy) Alarm() Alarm           { return d }
func (d *Dummy) Button() Button         { return d }
func (d *Dummy) Battery() Battery       { return dummyBattery{d} }

func (d *Dummy) RawCounts() (left, right int16, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	now := d.clock.Now().UnixNano()
	if d.lastSim != 0 {
		dt := float64(now-d.lastSim) / 1e9
		for i, b := range d.bridges {
			mmPerS := float64(b.signedDuty()) / MaxPWM * dummyTopSpeedMmPerS
			d.counts[i] += mmPerS * dt / chassis.MMPerPulse
		}
	}
	d.lastSim = now
	return int16(int64(d.counts[0])), int16(int64(d.counts[1])), nil
}

func (d *Dummy) SetAlarm(on bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if on != d.AlarmOn {
		fmt.Printf("DHW: SetAlarm on=%v\n", on)
	}
	d.AlarmOn = on
}

func (d *Dummy) Pressed() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.ButtonDown
}

func (d *Dummy) PlaySound(name string) {
	fmt.Printf("DHW: PlaySound name=%v\n", name)
}

func (d *Dummy) Close() error {
	fmt.Println("DHW: Close")
	return nil
}

// Set runs f with the simulated readings locked.
func (d *Dummy) Set(f func(d *Dummy)) {
	d.lock.Lock()
	defer d.lock.Unlock()
	f(d)
}

type dummyBridge struct {
	lock     sync.Mutex
	in1, in2 uint8
}

func (b *dummyBridge) Set(in1, in2 uint8) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.in1, b.in2 = in1, in2
	return nil
}

func (b *dummyBridge) signedDuty() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.in1 == b.in2 {
		return 0
	}
	return int(b.in1) - int(b.in2)
}

type dummyBar struct{ d *Dummy }

func (b dummyBar) ReadBitmask() (uint8, error) {
	b.d.lock.Lock()
	defer b.d.lock.Unlock()
	return b.d.LineMask, nil
}

type dummyLaser struct{ d *Dummy }

func (l dummyLaser) Ready() bool {
	l.d.lock.Lock()
	defer l.d.lock.Unlock()
	return l.d.LaserReady
}

func (l dummyLaser) DistanceMM() uint16 {
	l.d.lock.Lock()
	defer l.d.lock.Unlock()
	return l.d.LaserMM
}

type dummyUltrasonic struct{ d *Dummy }

func (u dummyUltrasonic) DistanceCM() float64 {
	u.d.lock.Lock()
	defer u.d.lock.Unlock()
	return u.d.UltrasonicCM
}

type dummyBattery struct{ d *Dummy }

func (b dummyBattery) Voltage() (float64, bool) {
	b.d.lock.Lock()
	defer b.d.lock.Unlock()
	return b.d.BatteryV, b.d.BatteryV > 0
}
