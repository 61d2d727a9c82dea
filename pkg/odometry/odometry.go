// Package odometry turns raw wheel encoder counts into accumulated travel
// and speed for each wheel.
package odometry

import (
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
)

const speedInterval = 50 * time.Millisecond

const (
	Left = iota
	Right
)

type PerWheel[T any] [2]T

// CountSource reports the free-running hardware encoder counters.  The
// counters are allowed to wrap.
type CountSource interface {
	RawCounts() (left, right int16, err error)
}

// Odometry is a snapshot of the per-wheel travel since the last reset.
type Odometry struct {
	LeftDistanceMm   float64 `json:"leftDistanceMm"`
	RightDistanceMm  float64 `json:"rightDistanceMm"`
	LeftSpeedMmPerS  float64 `json:"leftSpeedMmPerS"`
	RightSpeedMmPerS float64 `json:"rightSpeedMmPerS"`
	LeftCount        int64   `json:"leftCount"`
	RightCount       int64   `json:"rightCount"`
}

func (o Odometry) AverageMm() float64 {
	return (o.LeftDistanceMm + o.RightDistanceMm) / 2
}

type Tracker struct {
	clock timeutil.Clock
	enc   CountSource

	doneFirstPoll bool
	lastRawValues PerWheel[int16]

	accumulator PerWheel[int64]

	speedBaseline PerWheel[int64]
	speedTime     time.Time
	speed         PerWheel[float64]
}

func NewTracker(clock timeutil.Clock, enc CountSource) *Tracker {
	return &Tracker{
		clock: clock,
		enc:   enc,
	}
}

// Poll reads the encoders and folds the change since the previous poll into
// the accumulated counts.  On error the previous values are kept.
func (t *Tracker) Poll() error {
	l, r, err := t.enc.RawCounts()
	if err != nil {
		return err
	}
	raw := PerWheel[int16]{l, r}

	if t.doneFirstPoll {
		for w, newC := range raw {
			// int16 subtraction wraps, which is what we want.
			delta := newC - t.lastRawValues[w]
			t.accumulator[w] += int64(delta)
		}
	}
	t.lastRawValues = raw
	t.doneFirstPoll = true

	now := t.clock.Now()
	if t.speedTime.IsZero() {
		t.speedTime = now
		t.speedBaseline = t.accumulator
		return nil
	}
	if dt := now.Sub(t.speedTime); dt >= speedInterval {
		for w := range t.accumulator {
			delta := t.accumulator[w] - t.speedBaseline[w]
			t.speed[w] = float64(delta) * chassis.MMPerPulse / dt.Seconds()
		}
		t.speedBaseline = t.accumulator
		t.speedTime = now
	}
	return nil
}

// Reset zeroes the accumulated travel.  Anything holding a distance
// baseline must re-take it after calling this.
func (t *Tracker) Reset() {
	t.accumulator = PerWheel[int64]{}
	t.speedBaseline = PerWheel[int64]{}
}

func (t *Tracker) Odometry() Odometry {
	return Odometry{
		LeftDistanceMm:   float64(t.accumulator[Left]) * chassis.MMPerPulse,
		RightDistanceMm:  float64(t.accumulator[Right]) * chassis.MMPerPulse,
		LeftSpeedMmPerS:  t.speed[Left],
		RightSpeedMmPerS: t.speed[Right],
		LeftCount:        t.accumulator[Left],
		RightCount:       t.accumulator[Right],
	}
}

func (t *Tracker) AverageDistanceMm() float64 {
	return t.Odometry().AverageMm()
}
