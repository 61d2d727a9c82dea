package measure

import (
	"math"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/ringbuf"
)

const (
	HistorySize = 50
	// Only the most recent pairs are considered when looking for an edge.
	crossingSearchLimit = 20

	minInterpRangeDelta  = 5
	minInterpTravelDelta = 0.5
	maxInterpTravelDelta = 50
	maxInterpTimeGap     = 200 * time.Millisecond
)

// Sample is one entry of the measurement trace.
type Sample struct {
	Time     time.Time `json:"time"`
	RangeMm  int       `json:"rangeMm"`
	TravelMm float64   `json:"travelMm"`
}

// findCrossing searches the history backwards for the most recent pair of
// consecutive samples whose range crosses threshold, downwards if entering
// and upwards otherwise, and returns the travel position at which the
// crossing happened.  The second return is false if there is no crossing in
// range or the bracketing samples can't be trusted for interpolation.
func findCrossing(h *ringbuf.Ring[Sample], threshold int, entering bool, log Log) (float64, bool) {
	limit := min(crossingSearchLimit, h.Cap()-1)
	for i := 0; i < limit; i++ {
		curr, okC := h.Newest(i)
		prev, okP := h.Newest(i + 1)
		if !okC || !okP || curr.Time.IsZero() || prev.Time.IsZero() {
			break
		}

		var found bool
		if entering {
			found = prev.RangeMm >= threshold && curr.RangeMm < threshold
		} else {
			found = prev.RangeMm < threshold && curr.RangeMm >= threshold
		}
		if !found {
			continue
		}

		rangeDelta := float64(curr.RangeMm - prev.RangeMm)
		travelDelta := curr.TravelMm - prev.TravelMm

		if math.Abs(rangeDelta) < minInterpRangeDelta {
			log("Interpolation: range delta %.1f too small", rangeDelta)
			return 0, false
		}
		if math.Abs(travelDelta) > maxInterpTravelDelta || math.Abs(travelDelta) < minInterpTravelDelta {
			log("Interpolation: travel delta %.2fmm implausible", travelDelta)
			return 0, false
		}
		if gap := curr.Time.Sub(prev.Time); gap > maxInterpTimeGap {
			log("Interpolation: time gap %v too large", gap)
			return 0, false
		}

		p := (float64(threshold) - float64(prev.RangeMm)) / rangeDelta
		p = math.Max(0, math.Min(1, p))
		pos := prev.TravelMm + travelDelta*p

		dir := "EXIT"
		if entering {
			dir = "ENTER"
		}
		log("%s edge: prev(%d, %.1f) -> curr(%d, %.1f) p=%.2f pos=%.2fmm",
			dir, prev.RangeMm, prev.TravelMm, curr.RangeMm, curr.TravelMm, p, pos)
		return pos, true
	}
	log("Crossing not found in last %d samples", limit)
	return 0, false
}
