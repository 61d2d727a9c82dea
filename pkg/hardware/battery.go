package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const batteryInterval = time.Second

// BatteryPoller samples the supply voltage in the background.  Voltage
// reports false until the first good reading and after any failed one.
type BatteryPoller struct {
	read func() (float64, error)

	volts atomic.Uint64
	valid atomic.Bool
}

func NewBatteryPoller(read func() (float64, error)) *BatteryPoller {
	return &BatteryPoller{read: read}
}

var _ Battery = (*BatteryPoller)(nil)

func (p *BatteryPoller) Voltage() (float64, bool) {
	if !p.valid.Load() {
		return 0, false
	}
	return math.Float64frombits(p.volts.Load()), true
}

func (p *BatteryPoller) poll() {
	v, err := p.read()
	if err != nil {
		if p.valid.Swap(false) {
			fmt.Println("Battery read failed:", err)
		}
		return
	}
	p.volts.Store(math.Float64bits(v))
	p.valid.Store(true)
}

func (p *BatteryPoller) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(batteryInterval)
	defer ticker.Stop()
	p.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}
