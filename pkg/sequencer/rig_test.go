package sequencer

import (
	"math"
	"testing"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tunable"
)

type fakeLine struct {
	ready   bool
	pos     int
	last    int
	mask    uint8
	lost    bool
	weights [hardware.NumLineSensors]int
}

func (l *fakeLine) Update() error                             { return nil }
func (l *fakeLine) DataReady() bool                           { return l.ready }
func (l *fakeLine) Position() int                             { return l.pos }
func (l *fakeLine) LastPosition() int                         { return l.last }
func (l *fakeLine) RawBitmask() uint8                         { return l.mask }
func (l *fakeLine) LostLine() bool                            { return l.lost }
func (l *fakeLine) SetWeights(w [hardware.NumLineSensors]int) { l.weights = w }

type fakeLaser struct {
	mm uint16
}

func (f *fakeLaser) Ready() bool        { return true }
func (f *fakeLaser) DistanceMM() uint16 { return f.mm }

type fakeUltrasonic struct {
	cm float64
}

func (f *fakeUltrasonic) DistanceCM() float64 { return f.cm }

type fakeEncoders struct {
	left, right int16
}

func (f *fakeEncoders) RawCounts() (int16, int16, error) { return f.left, f.right, nil }

type fakeMotors struct {
	left, right    int
	braked         bool
	deadband       int
	calibL, calibR float64
}

func (m *fakeMotors) SetLeftSpeed(v int)  { m.left = v; m.braked = false }
func (m *fakeMotors) SetRightSpeed(v int) { m.right = v; m.braked = false }
func (m *fakeMotors) Brake()              { m.left, m.right, m.braked = 0, 0, true }
func (m *fakeMotors) Stop()               { m.left, m.right, m.braked = 0, 0, false }
func (m *fakeMotors) SetDeadband(d int)   { m.deadband = d }
func (m *fakeMotors) SetCalibration(l, r float64) {
	m.calibL, m.calibR = l, r
}
func (m *fakeMotors) Speeds() (int, int) { return m.left, m.right }

type fakeAlarm struct {
	on bool
}

func (a *fakeAlarm) SetAlarm(on bool) { a.on = on }

type fakeButton struct {
	down bool
}

func (b *fakeButton) Pressed() bool { return b.down }

type fakeSpeaker struct {
	played []string
}

func (s *fakeSpeaker) PlaySound(name string) { s.played = append(s.played, name) }

const tick = 10 * time.Millisecond

type rig struct {
	t       *testing.T
	clock   *timeutil.MockClock
	params  *tunable.Params
	line    *fakeLine
	laser   *fakeLaser
	ultra   *fakeUltrasonic
	enc     *fakeEncoders
	motors  *fakeMotors
	alarm   *fakeAlarm
	button  *fakeButton
	speaker *fakeSpeaker

	leftMm, rightMm float64

	measured []measure.Result
	s        *Sequencer
}

func newRig(t *testing.T) *rig {
	r := &rig{
		t:       t,
		clock:   timeutil.NewMockClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
		params:  tunable.NewParams(),
		line:    &fakeLine{ready: true, mask: 0x18},
		laser:   &fakeLaser{mm: 2000},
		ultra:   &fakeUltrasonic{cm: hardware.UltrasonicTimeout},
		enc:     &fakeEncoders{},
		motors:  &fakeMotors{},
		alarm:   &fakeAlarm{},
		button:  &fakeButton{},
		speaker: &fakeSpeaker{},
	}
	r.s = New(Deps{
		Clock:      r.clock,
		Log:        func(string, ...any) {},
		Params:     r.params,
		Line:       r.line,
		Laser:      r.laser,
		Ultrasonic: r.ultra,
		Encoders:   r.enc,
		Motors:     r.motors,
		Alarm:      r.alarm,
		Button:     r.button,
		Speaker:    r.speaker,
		OnMeasurement: func(res measure.Result, trace []measure.Sample) {
			r.measured = append(r.measured, res)
		},
	})
	// Prime the odometry so later moves are counted.
	r.step()
	return r
}

// move adds wheel travel; it's seen at the next tick.
func (r *rig) move(left, right float64) {
	r.leftMm += left
	r.rightMm += right
	r.enc.left = int16(int64(math.Round(r.leftMm / chassis.MMPerPulse)))
	r.enc.right = int16(int64(math.Round(r.rightMm / chassis.MMPerPulse)))
}

func (r *rig) step() {
	r.clock.Advance(tick)
	r.s.Tick()
}

func (r *rig) stepFor(d time.Duration) {
	for end := r.clock.Now().Add(d); r.clock.Now().Before(end); {
		r.step()
	}
}

func (r *rig) post(cmd Command) {
	if err := r.s.Commands().Post(cmd); err != nil {
		r.t.Fatalf("post %v: %v", cmd.Kind, err)
	}
}

// settle runs the loop until an open brake pause has finished.
func (r *rig) settle() {
	for i := 0; r.s.Settling(); i++ {
		if i > 100 {
			r.t.Fatal("brake pause never ended")
		}
		r.step()
	}
}
