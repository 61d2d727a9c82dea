// Package pid implements the steering regulator used both for line following
// and, with different limits, for holding the two wheels to equal travel.
package pid

import (
	"math"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
)

const (
	// A gap longer than this is treated like a first sample: proportional
	// response only and a cleared integral.
	restartGap = time.Second
	// Calls closer together than this return the previous output.
	minSampleGap = 10 * time.Millisecond

	maxIntegral = 500

	DefaultOutputLimit   = 255
	DefaultIntegralRange = 10000
)

// Terms is a read-only view of the most recent computation.
type Terms struct {
	Error    float64 `json:"error"`
	P        float64 `json:"p"`
	I        float64 `json:"i"`
	D        float64 `json:"d"`
	Integral float64 `json:"integral"`
	Output   float64 `json:"output"`
}

type Controller struct {
	clock timeutil.Clock

	kp, ki, kd     float64
	setpoint       float64
	outMin, outMax float64
	integralRange  float64

	lastError float64
	integral  float64
	// Zero means "never sampled".
	lastTime time.Time

	p, i, d float64
}

func New(clock timeutil.Clock, kp, ki, kd float64) *Controller {
	return &Controller{
		clock:         clock,
		kp:            kp,
		ki:            ki,
		kd:            kd,
		outMin:        -DefaultOutputLimit,
		outMax:        DefaultOutputLimit,
		integralRange: DefaultIntegralRange,
	}
}

func (c *Controller) SetGains(kp, ki, kd float64) {
	c.kp, c.ki, c.kd = kp, ki, kd
}

func (c *Controller) Gains() (kp, ki, kd float64) {
	return c.kp, c.ki, c.kd
}

func (c *Controller) SetSetpoint(sp float64) {
	c.setpoint = sp
}

func (c *Controller) SetOutputLimits(min, max float64) {
	c.outMin, c.outMax = min, max
}

// SetIntegralRange sets the error magnitude at or above which the integral is
// cleared instead of accumulated.
func (c *Controller) SetIntegralRange(r float64) {
	c.integralRange = r
}

func (c *Controller) Reset() {
	c.lastError = 0
	c.integral = 0
	c.lastTime = time.Time{}
	c.p, c.i, c.d = 0, 0, 0
}

// Compute returns the correction for the given measurement.
func (c *Controller) Compute(measurement float64) float64 {
	now := c.clock.Now()
	dt := now.Sub(c.lastTime)

	if c.lastTime.IsZero() || dt > restartGap {
		c.lastTime = now
		c.lastError = c.setpoint - measurement
		c.integral = 0
		c.p = c.kp * c.lastError
		c.i, c.d = 0, 0
		return c.clamp(c.p)
	}

	if dt < minSampleGap {
		return c.clamp(c.p + c.i + c.d)
	}

	secs := dt.Seconds()
	e := c.setpoint - measurement

	c.p = c.kp * e

	if c.ki > 0 {
		if math.Abs(e) < c.integralRange {
			candidate := c.integral + e*secs
			// Conditional integration: only accept the new integral if it
			// doesn't push the output into saturation.
			if out := c.p + c.ki*candidate; out >= c.outMin && out <= c.outMax {
				c.integral = candidate
			}
		} else {
			c.integral = 0
		}
		c.integral = clamp(c.integral, -maxIntegral, maxIntegral)
		c.i = c.ki * c.integral
	} else {
		c.integral = 0
		c.i = 0
	}

	// Derivative on measurement; setpoint-lastError is the previous
	// measurement.
	c.d = c.kd * -(measurement - (c.setpoint - c.lastError)) / secs

	c.lastError = e
	c.lastTime = now

	return c.clamp(c.p + c.i + c.d)
}

func (c *Controller) Terms() Terms {
	return Terms{
		Error:    c.lastError,
		P:        c.p,
		I:        c.i,
		D:        c.d,
		Integral: c.integral,
		Output:   c.clamp(c.p + c.i + c.d),
	}
}

func (c *Controller) clamp(v float64) float64 {
	return clamp(v, c.outMin, c.outMax)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
