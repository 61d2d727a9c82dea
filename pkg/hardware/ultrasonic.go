package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	ultrasonicInterval = 50 * time.Millisecond
	maxProbeFailures   = 10
)

// Pinger takes a single blocking ultrasonic measurement.
type Pinger interface {
	Measure() (float64, error)
}

// UltrasonicPoller runs the blocking pings on its own goroutine so that the
// control loop only ever reads the cached result.
type UltrasonicPoller struct {
	open func() (Pinger, error)

	lastCM atomic.Uint64
}

func NewUltrasonicPoller(open func() (Pinger, error)) *UltrasonicPoller {
	p := &UltrasonicPoller{open: open}
	p.store(UltrasonicTimeout)
	return p
}

var _ Ultrasonic = (*UltrasonicPoller)(nil)

func (p *UltrasonicPoller) DistanceCM() float64 {
	return math.Float64frombits(p.lastCM.Load())
}

func (p *UltrasonicPoller) store(cm float64) {
	p.lastCM.Store(math.Float64bits(cm))
}

func (p *UltrasonicPoller) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	fmt.Println("Ultrasonic loop started")
	for {
		p.loopUntilSomethingBadHappens(ctx)
		if ctx.Err() != nil {
			return
		}
		fmt.Println("===== !!! WARNING !!! ULTRASONIC FAILURE; TRYING TO RECOVER =====")
		p.store(UltrasonicTimeout)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (p *UltrasonicPoller) loopUntilSomethingBadHappens(ctx context.Context) {
	sensor, err := p.open()
	if err != nil {
		fmt.Println("Failed to open ultrasonic sensor", err)
		return
	}

	ticker := time.NewTicker(ultrasonicInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cm, err := sensor.Measure()
		if err != nil {
			failures++
			if failures >= maxProbeFailures {
				fmt.Println("Failed to read ultrasonic sensor", err)
				return
			}
			continue
		}
		failures = 0
		p.store(cm)
	}
}
