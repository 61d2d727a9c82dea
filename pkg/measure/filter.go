package measure

import (
	"sort"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/ringbuf"
)

const (
	// Raw readings outside [minValidRange, maxValidRange] are replaced with
	// farRange so that "object has passed" looks the same as "never arrived".
	minValidRange = 10
	maxValidRange = 2000
	farRange      = 2000

	maxFilterBuffer = 20
	maxMedianWindow = 5
	outlierJump     = 500

	jumpTolerance = 200
	maxJumpHolds  = 2
)

func normalizeRange(raw int) int {
	if raw > maxValidRange || raw < minValidRange {
		return farRange
	}
	return raw
}

// medianFilter is a running median over the most recent few readings, fed
// through a guard that holds the previous reading for one tick when the
// input jumps by more than outlierJump.
type medianFilter struct {
	size    int
	buf     *ringbuf.Ring[int]
	lastRaw int
	// Consecutive large jumps seen by the guard.
	outliers int
}

func newMedianFilter(size int) *medianFilter {
	return &medianFilter{
		size: size,
		buf:  ringbuf.New[int](maxFilterBuffer),
	}
}

func (f *medianFilter) Reset() {
	f.buf.Reset()
	f.lastRaw = 0
	f.outliers = 0
}

func (f *medianFilter) Add(raw int) int {
	if f.size <= 1 {
		return raw
	}

	if abs(raw-f.lastRaw) > outlierJump && f.lastRaw != 0 {
		f.outliers++
		if f.outliers < 2 {
			raw = f.lastRaw
		} else {
			f.outliers = 0
		}
	} else {
		f.outliers = 0
	}
	f.lastRaw = raw

	f.buf.Push(raw)

	n := min(f.buf.Len(), f.size, maxMedianWindow)
	if n <= 1 {
		return raw
	}
	window := make([]int, 0, maxMedianWindow)
	for i := 0; i < n; i++ {
		v, _ := f.buf.Newest(i)
		window = append(window, v)
	}
	sort.Ints(window)
	if n%2 == 1 {
		return window[n/2]
	}
	return (window[n/2-1] + window[n/2]) / 2
}

// jumpSuppressor rejects short spikes in the filtered signal: a change larger
// than jumpTolerance is held off for up to maxJumpHolds ticks and accepted
// on the one after.
type jumpSuppressor struct {
	primed bool
	last   int
	count  int
}

func (j *jumpSuppressor) Reset() {
	*j = jumpSuppressor{}
}

func (j *jumpSuppressor) Apply(v int) int {
	if !j.primed {
		j.primed = true
		j.last = v
		return v
	}
	if abs(v-j.last) > jumpTolerance {
		j.count++
		if j.count <= maxJumpHolds {
			return j.last
		}
	}
	j.count = 0
	j.last = v
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
