// Package status holds the point-in-time view of the vehicle that the control
// loop publishes for the API and the screen.
package status

import (
	"sync/atomic"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/pid"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tasks"
)

type Line struct {
	Position     int   `json:"position"`
	LastPosition int   `json:"lastPosition"`
	Bitmask      uint8 `json:"bitmask"`
	Lost         bool  `json:"lost"`
	Ready        bool  `json:"ready"`
}

type Ranges struct {
	LaserMm         int     `json:"laserMm"`
	FilteredLaserMm int     `json:"filteredLaserMm"`
	UltrasonicCm    float64 `json:"ultrasonicCm"`
}

type Measurement struct {
	State     measure.State  `json:"state"`
	Threshold int            `json:"threshold"`
	Result    measure.Result `json:"result"`
}

type Tasks struct {
	Executing    bool         `json:"executing"`
	CurrentIndex int          `json:"currentIndex"`
	Total        int          `json:"total"`
	Current      string       `json:"current,omitempty"`
	List         []tasks.Task `json:"list"`
}

// Snapshot is never modified once published.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Running bool      `json:"running"`
	State   string    `json:"state"`
	// SubState names the step of the active maneuver, if any.
	SubState string `json:"subState,omitempty"`
	Manual   bool   `json:"manual"`
	Settling bool   `json:"settling"`

	Line        Line              `json:"line"`
	Ranges      Ranges            `json:"ranges"`
	Odometry    odometry.Odometry `json:"odometry"`
	PID         pid.Terms         `json:"pid"`
	LeftSpeed   int               `json:"leftSpeed"`
	RightSpeed  int               `json:"rightSpeed"`
	Measurement Measurement       `json:"measurement"`
	Tasks       Tasks             `json:"tasks"`

	ObstacleCount   int           `json:"obstacleCount"`
	ObstacleArmed   bool          `json:"obstacleArmed"`
	LoopHz          int           `json:"loopHz"`
	RunTime         time.Duration `json:"runTime"`
	TotalRunTime    time.Duration `json:"totalRunTime"`
	ParamGeneration uint64        `json:"paramGeneration"`
	// Zero when the supply voltage is unknown.
	BatteryV float64 `json:"batteryV"`
}

// Publisher hands the most recent snapshot from the control loop to any
// number of readers.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&Snapshot{State: "idle"})
	return p
}

// Publish takes ownership of s.
func (p *Publisher) Publish(s *Snapshot) {
	p.current.Store(s)
}

func (p *Publisher) Latest() *Snapshot {
	return p.current.Load()
}
