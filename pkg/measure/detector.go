// Package measure estimates the length of an object travelling past a
// side-facing range sensor by correlating range edges with wheel odometry.
package measure

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/ringbuf"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
)

type State int

const (
	Idle State = iota
	Waiting
	InObject
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case InObject:
		return "in_object"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown detector state %q", string(b))
}

const (
	DefaultStableCount = 5
	DefaultTimeout     = 15 * time.Second
	DefaultFilterSize  = 5

	maxSamples       = 100
	minResultSamples = 5
	fallbackOffsetMm = 10

	minValidRawMm = 10
	maxValidRawMm = 1200
	minLengthMm   = 500
	maxLengthMm   = 1000

	debugInterval    = 500 * time.Millisecond
	notReadyInterval = 2 * time.Second
)

type Log func(string, ...any)

type RangeSensor interface {
	Ready() bool
	DistanceMM() uint16
}

// Travel reports the vehicle's accumulated forward travel.
type Travel interface {
	AverageDistanceMm() float64
}

type Config struct {
	StableCount int
	Timeout     time.Duration
	FilterSize  int
	Scale       float64
	Offset      float64
}

func DefaultConfig() Config {
	return Config{
		StableCount: DefaultStableCount,
		Timeout:     DefaultTimeout,
		FilterSize:  DefaultFilterSize,
		Scale:       1,
		Offset:      0,
	}
}

type Result struct {
	LengthMm      float64       `json:"lengthMm"`
	RawLengthMm   float64       `json:"rawLengthMm"`
	StartTravelMm float64       `json:"startTravelMm"`
	EndTravelMm   float64       `json:"endTravelMm"`
	AvgRangeMm    float64       `json:"avgRangeMm"`
	MedianRangeMm float64       `json:"medianRangeMm"`
	StdDevRangeMm float64       `json:"stdDevRangeMm"`
	Timestamp     time.Time     `json:"timestamp"`
	Duration      time.Duration `json:"duration"`
	SampleCount   int           `json:"sampleCount"`
	Valid         bool          `json:"valid"`
}

type Detector struct {
	clock  timeutil.Clock
	sensor RangeSensor
	travel Travel
	log    Log
	cfg    Config

	state          State
	threshold      int
	startTime      time.Time
	enterTime      time.Time
	stableCount    int
	baselineTravel float64

	filter  *medianFilter
	jump    jumpSuppressor
	history *ringbuf.Ring[Sample]
	samples []float64

	lastFiltered int
	lastRaw      int
	result       Result

	lastDebug    time.Time
	lastNotReady time.Time
}

func New(clock timeutil.Clock, sensor RangeSensor, travel Travel, log Log) *Detector {
	if log == nil {
		log = func(f string, a ...any) { fmt.Printf(f+"\n", a...) }
	}
	cfg := DefaultConfig()
	return &Detector{
		clock:   clock,
		sensor:  sensor,
		travel:  travel,
		log:     log,
		cfg:     cfg,
		filter:  newMedianFilter(cfg.FilterSize),
		history: ringbuf.New[Sample](HistorySize),
		samples: make([]float64, 0, maxSamples),
	}
}

// SetConfig takes effect from the next StartDetection.
func (d *Detector) SetConfig(cfg Config) {
	if cfg.StableCount < 1 {
		cfg.StableCount = 1
	}
	if cfg.FilterSize > maxMedianWindow {
		cfg.FilterSize = maxMedianWindow
	}
	d.cfg = cfg
}

func (d *Detector) Config() Config {
	return d.cfg
}

// StartDetection clears all filter and trace state and begins waiting for an
// object closer than threshold.
func (d *Detector) StartDetection(threshold int) {
	d.resetInternal()
	d.threshold = threshold
	d.state = Waiting
	d.startTime = d.clock.Now()
	d.baselineTravel = d.travel.AverageDistanceMm()
	d.log("Measurement started: threshold=%dmm baseline=%.1fmm", threshold, d.baselineTravel)
}

// StopDetection ends an in-progress measurement.  If an object is currently
// in view it is finalised with the current travel as its trailing edge.
func (d *Detector) StopDetection() {
	if d.state == InObject {
		d.log("Measurement stopped inside object, finalising")
		d.finish(d.clock.Now(), d.travel.AverageDistanceMm(), d.lastFiltered)
		return
	}
	if d.state == Waiting {
		d.state = Idle
	}
	d.log("Measurement stopped")
}

// RebaseTravel shifts every travel position held by an in-progress
// measurement down by offset.  It's called when the odometry is zeroed so
// that edges found afterwards are still measured on the same scale.
func (d *Detector) RebaseTravel(offset float64) {
	if !d.IsDetecting() || offset == 0 {
		return
	}
	d.baselineTravel -= offset
	if d.state == InObject {
		d.result.StartTravelMm -= offset
	}
	d.history.Each(func(s *Sample) { s.TravelMm -= offset })
	d.log("Measurement travel rebased by %.1fmm", -offset)
}

func (d *Detector) Reset() {
	d.resetInternal()
	d.state = Idle
	d.threshold = 0
}

func (d *Detector) resetInternal() {
	d.filter = newMedianFilter(d.cfg.FilterSize)
	d.jump.Reset()
	d.history.Reset()
	d.samples = d.samples[:0]
	d.stableCount = 0
	d.lastFiltered = 0
	d.lastRaw = 0
	d.result = Result{}
	d.enterTime = time.Time{}
}

func (d *Detector) State() State {
	return d.state
}

func (d *Detector) IsDetecting() bool {
	return d.state == Waiting || d.state == InObject
}

func (d *Detector) IsCompleted() bool {
	return d.state == Completed
}

func (d *Detector) Result() Result {
	return d.result
}

func (d *Detector) Threshold() int {
	return d.threshold
}

// Readings returns the most recent raw and filtered ranges.
func (d *Detector) Readings() (raw, filtered int) {
	return d.lastRaw, d.lastFiltered
}

// History returns a copy of the trace, oldest first.
func (d *Detector) History() []Sample {
	return d.history.Slice()
}

// Update consumes one range reading.  It must be called once per control
// tick while detecting; it's a no-op otherwise.
func (d *Detector) Update() {
	if !d.IsDetecting() {
		return
	}
	now := d.clock.Now()

	if now.Sub(d.startTime) > d.cfg.Timeout {
		d.log("Measurement timed out after %v in state %v", d.cfg.Timeout, d.state)
		d.state = Failed
		return
	}

	if !d.sensor.Ready() {
		if now.Sub(d.lastNotReady) > notReadyInterval {
			d.lastNotReady = now
			d.log("Measurement: range sensor not ready")
		}
		return
	}

	raw := int(d.sensor.DistanceMM())
	filtered := d.jump.Apply(d.filter.Add(normalizeRange(raw)))
	travel := d.travel.AverageDistanceMm()

	d.history.Push(Sample{Time: now, RangeMm: filtered, TravelMm: travel})
	d.lastRaw = raw
	d.lastFiltered = filtered

	if now.Sub(d.lastDebug) > debugInterval {
		d.lastDebug = now
		d.log("Measure: raw=%d filtered=%d travel=%.1f state=%v", raw, filtered, travel, d.state)
	}

	inRange := filtered < d.threshold

	switch d.state {
	case Waiting:
		if !inRange {
			d.stableCount = 0
			return
		}
		d.stableCount++
		if d.stableCount < d.cfg.StableCount {
			return
		}
		start, ok := findCrossing(d.history, d.threshold, true, d.log)
		if !ok {
			start = math.Max(0, travel-fallbackOffsetMm)
			d.log("Leading edge fallback: %.1fmm", start)
		}
		d.result.StartTravelMm = start
		d.enterTime = now
		d.samples = d.samples[:0]
		d.stableCount = 0
		d.state = InObject
		d.log("Object entered at %.1fmm", start)

	case InObject:
		if inRange {
			if len(d.samples) < maxSamples {
				d.samples = append(d.samples, float64(filtered))
			}
			d.stableCount = 0
			return
		}
		d.stableCount++
		if d.stableCount < d.cfg.StableCount {
			return
		}
		end, ok := findCrossing(d.history, d.threshold, false, d.log)
		if !ok {
			end = travel - fallbackOffsetMm
			if end < d.result.StartTravelMm {
				end = travel
			}
			d.log("Trailing edge fallback: %.1fmm", end)
		}
		d.finish(now, end, filtered)
	}
}

func (d *Detector) finish(now time.Time, end float64, current int) {
	r := &d.result
	r.EndTravelMm = end
	r.Timestamp = now
	r.RawLengthMm = math.Max(0, end-r.StartTravelMm)
	if r.RawLengthMm < minValidRawMm || r.RawLengthMm > maxValidRawMm {
		d.log("Raw length %.1fmm outside plausible range", r.RawLengthMm)
	}
	r.LengthMm = math.Max(minLengthMm, math.Min(maxLengthMm, r.RawLengthMm*d.cfg.Scale+d.cfg.Offset))
	if !d.enterTime.IsZero() {
		r.Duration = now.Sub(d.enterTime)
	}
	r.SampleCount = len(d.samples)
	if r.SampleCount > minResultSamples {
		r.AvgRangeMm, r.StdDevRangeMm = stat.MeanStdDev(d.samples, nil)
		r.MedianRangeMm = median(d.samples)
	} else {
		r.AvgRangeMm = float64(current)
		r.MedianRangeMm = float64(current)
		r.StdDevRangeMm = 0
	}
	r.Valid = r.RawLengthMm > minValidRawMm && r.RawLengthMm < maxValidRawMm &&
		r.SampleCount > minResultSamples
	d.state = Completed
	d.log("Measurement complete: length=%.1fmm raw=%.1fmm samples=%d valid=%v",
		r.LengthMm, r.RawLengthMm, r.SampleCount, r.Valid)
}

// median of values; the two middle values are averaged for even counts.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
