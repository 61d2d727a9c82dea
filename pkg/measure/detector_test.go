package measure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/ringbuf"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
)

const (
	tick          = 20 * time.Millisecond
	testThreshold = 1050
)

type fakeRange struct {
	notReady bool
	mm       uint16
}

func (f *fakeRange) Ready() bool        { return !f.notReady }
func (f *fakeRange) DistanceMM() uint16 { return f.mm }

type fakeTravel struct {
	mm float64
}

func (f *fakeTravel) AverageDistanceMm() float64 { return f.mm }

type rig struct {
	d      *Detector
	clock  *timeutil.MockClock
	sensor *fakeRange
	travel *fakeTravel
	k      int
}

func newRig() *rig {
	r := &rig{
		clock:  timeutil.NewMockClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		sensor: &fakeRange{},
		travel: &fakeTravel{},
	}
	r.d = New(r.clock, r.sensor, r.travel, func(string, ...any) {})
	return r
}

// object returns the raw range for tick k: far, then an object spanning
// ticks [from, to), then far again.
func object(from, to int) func(k int) uint16 {
	return func(k int) uint16 {
		if k >= from && k < to {
			return 100
		}
		return 2000
	}
}

// run feeds ticks until the detector stops detecting or n ticks have passed.
func (r *rig) run(n int, rangeAt func(int) uint16, travelAt func(int) float64) {
	for i := 0; i < n && r.d.IsDetecting(); i++ {
		r.clock.Advance(tick)
		r.sensor.mm = rangeAt(r.k)
		r.travel.mm = travelAt(r.k)
		r.d.Update()
		r.k++
	}
}

// With this travel profile both edges interpolate exactly half way between
// samples that straddle the threshold, putting the leading edge at 0mm and,
// for an object spanning ticks [10, 60), the trailing edge at 500mm.
func linearTravel(k int) float64 {
	return float64(10*k - 145)
}

func TestMeasuresObjectLength(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	require.Equal(t, Waiting, r.d.State())

	r.run(200, object(10, 60), linearTravel)

	require.Equal(t, Completed, r.d.State())
	assert.True(t, r.d.IsCompleted())
	res := r.d.Result()
	assert.Equal(t, 0.0, res.StartTravelMm)
	assert.Equal(t, 500.0, res.EndTravelMm)
	assert.Equal(t, 500.0, res.RawLengthMm)
	assert.Equal(t, 500.0, res.LengthMm)
	assert.True(t, res.Valid)
	assert.Equal(t, 45, res.SampleCount)
	assert.Equal(t, 100.0, res.AvgRangeMm)
	assert.Equal(t, 100.0, res.MedianRangeMm)
	assert.Zero(t, res.StdDevRangeMm)
	assert.Equal(t, 50*tick, res.Duration)
	assert.Equal(t, 70, r.k)
}

func TestRebaseTravelInsideObject(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(30, object(10, 60), linearTravel)
	require.Equal(t, InObject, r.d.State())
	before := r.d.History()

	// The odometry is zeroed at tick 30.
	offset := linearTravel(29)
	r.d.RebaseTravel(offset)
	after := r.d.History()
	require.Len(t, after, len(before))
	for i := range after {
		assert.Equal(t, before[i].TravelMm-offset, after[i].TravelMm)
	}

	r.run(200, object(10, 60), func(k int) float64 { return linearTravel(k) - offset })

	require.Equal(t, Completed, r.d.State())
	res := r.d.Result()
	assert.Equal(t, -offset, res.StartTravelMm)
	assert.Equal(t, 500.0, res.RawLengthMm)
	assert.True(t, res.Valid)
}

func TestRebaseTravelIgnoredWhenIdle(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(200, object(10, 60), linearTravel)
	require.Equal(t, Completed, r.d.State())

	r.d.RebaseTravel(1000)
	assert.Equal(t, 0.0, r.d.Result().StartTravelMm)
	assert.Equal(t, 500.0, r.d.Result().EndTravelMm)
}

func TestScaleAndOffset(t *testing.T) {
	r := newRig()
	cfg := DefaultConfig()
	cfg.Scale = 1.5
	cfg.Offset = 20
	r.d.SetConfig(cfg)
	r.d.StartDetection(testThreshold)
	r.run(200, object(10, 60), linearTravel)

	res := r.d.Result()
	assert.Equal(t, 500.0, res.RawLengthMm)
	assert.Equal(t, 770.0, res.LengthMm)
	assert.True(t, res.Valid)
}

func TestShortObjectIsInvalid(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(200, object(10, 16), linearTravel)

	require.Equal(t, Completed, r.d.State())
	res := r.d.Result()
	assert.Equal(t, 60.0, res.RawLengthMm)
	// The displayed length is clamped but the flag says not to trust it.
	assert.Equal(t, 500.0, res.LengthMm)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.SampleCount)
	assert.Equal(t, 2000.0, res.AvgRangeMm, "too few samples: current reading is reported")
}

func TestLeadingEdgeFallback(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	// 80mm between samples is too far to interpolate over.
	r.run(20, object(10, 1000), func(k int) float64 { return float64(80 * k) })

	require.Equal(t, InObject, r.d.State())
	assert.Equal(t, 80.0*19-10, r.d.Result().StartTravelMm)
}

func TestLeadingEdgeFallbackFloorsAtZero(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(20, object(10, 1000), func(int) float64 { return 0 })

	require.Equal(t, InObject, r.d.State())
	assert.Zero(t, r.d.Result().StartTravelMm)
}

func TestTrailingEdgeFallbackNeverPrecedesStart(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(200, object(10, 30), func(int) float64 { return 5 })

	require.Equal(t, Completed, r.d.State())
	res := r.d.Result()
	assert.Zero(t, res.StartTravelMm)
	assert.Equal(t, 5.0, res.EndTravelMm)
	assert.False(t, res.Valid)
}

func TestStopInsideObjectFinalises(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(31, object(10, 1000), linearTravel)
	require.Equal(t, InObject, r.d.State())

	r.d.StopDetection()
	require.Equal(t, Completed, r.d.State())
	res := r.d.Result()
	assert.Equal(t, linearTravel(30), res.EndTravelMm)
	assert.Equal(t, linearTravel(30), res.RawLengthMm)
	assert.Equal(t, 11, res.SampleCount)
	assert.True(t, res.Valid)
}

func TestStopWhileWaitingGoesIdle(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(5, object(10, 60), linearTravel)
	r.d.StopDetection()
	assert.Equal(t, Idle, r.d.State())
	assert.False(t, r.d.IsDetecting())
}

func TestTimeout(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(5, object(1000, 2000), linearTravel)
	require.Equal(t, Waiting, r.d.State())

	r.clock.Advance(DefaultTimeout)
	r.d.Update()
	assert.Equal(t, Failed, r.d.State())
	assert.False(t, r.d.IsDetecting())
}

func TestSensorNotReadyHoldsState(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.sensor.notReady = true
	r.run(50, object(0, 1000), linearTravel)

	assert.Equal(t, Waiting, r.d.State())
	assert.Empty(t, r.d.History())

	r.sensor.notReady = false
	r.run(10, object(0, 1000), linearTravel)
	assert.Equal(t, InObject, r.d.State())
}

func TestStartClearsPreviousRun(t *testing.T) {
	r := newRig()
	r.d.StartDetection(testThreshold)
	r.run(200, object(10, 60), linearTravel)
	require.True(t, r.d.IsCompleted())
	require.NotEmpty(t, r.d.History())

	r.d.StartDetection(testThreshold)
	assert.Equal(t, Waiting, r.d.State())
	assert.Empty(t, r.d.History())
	assert.Zero(t, r.d.Result())

	r.d.Reset()
	assert.Equal(t, Idle, r.d.State())
	assert.Zero(t, r.d.Threshold())
}

func TestUpdateIgnoredWhenIdle(t *testing.T) {
	r := newRig()
	r.d.Update()
	assert.Equal(t, Idle, r.d.State())
	assert.Empty(t, r.d.History())
}

func rampHistory() *ringbuf.Ring[Sample] {
	h := ringbuf.New[Sample](HistorySize)
	start := time.Unix(100, 0)
	for i := 0; i < 10; i++ {
		h.Push(Sample{
			Time:     start.Add(time.Duration(i) * tick),
			RangeMm:  1000 - 100*i,
			TravelMm: 100 + 10*float64(i),
		})
	}
	return h
}

func TestCrossingMonotonicInThreshold(t *testing.T) {
	h := rampHistory()
	nolog := func(string, ...any) {}
	last := 1e9
	for thr := 150; thr <= 1000; thr += 25 {
		pos, ok := findCrossing(h, thr, true, nolog)
		require.True(t, ok, "threshold %d", thr)
		assert.GreaterOrEqual(t, pos, 100.0)
		assert.LessOrEqual(t, pos, 190.0)
		assert.LessOrEqual(t, pos, last, "threshold %d", thr)
		last = pos
	}
}

func TestCrossingDirection(t *testing.T) {
	h := rampHistory()
	nolog := func(string, ...any) {}
	_, ok := findCrossing(h, 550, false, nolog)
	assert.False(t, ok, "falling ramp has no exit crossing")

	pos, ok := findCrossing(h, 550, true, nolog)
	require.True(t, ok)
	assert.InDelta(t, 145.0, pos, 1e-9)
}

func TestCrossingRejectsLargeTimeGap(t *testing.T) {
	h := ringbuf.New[Sample](HistorySize)
	t0 := time.Unix(100, 0)
	h.Push(Sample{Time: t0, RangeMm: 1000, TravelMm: 100})
	h.Push(Sample{Time: t0.Add(300 * time.Millisecond), RangeMm: 100, TravelMm: 110})
	_, ok := findCrossing(h, 500, true, func(string, ...any) {})
	assert.False(t, ok)
}

func TestStateText(t *testing.T) {
	for st := Idle; st <= Failed; st++ {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, st, back)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("measuring")))
}
