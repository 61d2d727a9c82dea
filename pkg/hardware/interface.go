package hardware

// LineSensor is the 8-channel reflectance bar under the front of the
// vehicle.  Update fetches a fresh reading; the other methods report on the
// most recent one.
type LineSensor interface {
	Update() error
	DataReady() bool
	// Position is in [-1000, 1000], negative when the line is to the left.
	Position() int
	LastPosition() int
	RawBitmask() uint8
	LostLine() bool
	SetWeights(w [NumLineSensors]int)
}

// RangeSensor is the side-facing laser used to measure objects.
type RangeSensor interface {
	Ready() bool
	DistanceMM() uint16
}

// Ultrasonic is the forward-facing obstacle sensor.  DistanceCM returns
// UltrasonicTimeout if no echo was received.
type Ultrasonic interface {
	DistanceCM() float64
}

// Encoders reports the free-running 16-bit wheel encoder counters.
type Encoders interface {
	RawCounts() (left, right int16, err error)
}

// Drive takes signed PWM commands in [-255, 255] for each side.
type Drive interface {
	SetLeftSpeed(speed int)
	SetRightSpeed(speed int)
	Brake()
	Stop()
}

type Alarm interface {
	SetAlarm(on bool)
}

type Button interface {
	Pressed() bool
}

// Battery reports the supply voltage, if it is known.
type Battery interface {
	Voltage() (volts float64, ok bool)
}

// HBridge is one channel of a dual H-bridge motor driver: two PWM inputs,
// each 0-255.  Both low coasts, both high brakes.
type HBridge interface {
	Set(in1, in2 uint8) error
}

// Interface is everything the control loop needs from the vehicle.
type Interface interface {
	Line() LineSensor
	Laser() RangeSensor
	Ultrasonic() Ultrasonic
	Encoders() Encoders
	Motors() *MotorDriver
	Alarm() Alarm
	Button() Button
	Battery() Battery

	PlaySound(name string)
	Close() error
}

const (
	NumLineSensors = 8

	UltrasonicTimeout = 999.9
)
