package hardware

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
)

const pwmFrequency = 20 * physic.KiloHertz

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no GPIO pin named %q", name)
	}
	return p, nil
}

// GPIOBridge drives one H-bridge channel from two hardware PWM pins.
type GPIOBridge struct {
	in1, in2 gpio.PinIO
}

func NewGPIOBridge(in1, in2 string) (*GPIOBridge, error) {
	p1, err := pinByName(in1)
	if err != nil {
		return nil, err
	}
	p2, err := pinByName(in2)
	if err != nil {
		return nil, err
	}
	b := &GPIOBridge{in1: p1, in2: p2}
	return b, b.Set(0, 0)
}

var _ HBridge = (*GPIOBridge)(nil)

func (b *GPIOBridge) Set(in1, in2 uint8) error {
	if err := setDuty(b.in1, in1); err != nil {
		return err
	}
	return setDuty(b.in2, in2)
}

func setDuty(p gpio.PinIO, v uint8) error {
	switch v {
	case 0:
		return p.Out(gpio.Low)
	case MaxPWM:
		return p.Out(gpio.High)
	}
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(v) / MaxPWM)
	return errors.Wrapf(p.PWM(duty, pwmFrequency), "PWM on %s", p.Name())
}

// HCSR04 is an ultrasonic ranger with separate trigger and echo pins.
type HCSR04 struct {
	trig, echo gpio.PinIO
}

const (
	echoTimeout   = 30 * time.Millisecond
	speedOfSoundC = 0.034 // cm per µs
)

func NewHCSR04(trig, echo string) (*HCSR04, error) {
	t, err := pinByName(trig)
	if err != nil {
		return nil, err
	}
	e, err := pinByName(echo)
	if err != nil {
		return nil, err
	}
	if err := t.Out(gpio.Low); err != nil {
		return nil, errors.Wrap(err, "failed to configure trigger pin")
	}
	if err := e.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, errors.Wrap(err, "failed to configure echo pin")
	}
	return &HCSR04{trig: t, echo: e}, nil
}

// Measure fires one ping and returns the distance in cm, or
// UltrasonicTimeout if the echo didn't come back in time.
func (s *HCSR04) Measure() (float64, error) {
	if err := s.echo.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return 0, err
	}
	if err := s.trig.Out(gpio.High); err != nil {
		return 0, err
	}
	time.Sleep(10 * time.Microsecond)
	if err := s.trig.Out(gpio.Low); err != nil {
		return 0, err
	}

	if !s.echo.WaitForEdge(echoTimeout) {
		return UltrasonicTimeout, nil
	}
	start := time.Now()
	if err := s.echo.In(gpio.PullDown, gpio.FallingEdge); err != nil {
		return 0, err
	}
	if !s.echo.WaitForEdge(echoTimeout) {
		return UltrasonicTimeout, nil
	}
	return EchoToCM(time.Since(start)), nil
}

func EchoToCM(d time.Duration) float64 {
	return float64(d.Microseconds()) * speedOfSoundC / 2
}

type GPIOAlarm struct {
	pin gpio.PinIO
}

func NewGPIOAlarm(name string) (*GPIOAlarm, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, err
	}
	return &GPIOAlarm{pin: p}, p.Out(gpio.Low)
}

func (a *GPIOAlarm) SetAlarm(on bool) {
	if err := a.pin.Out(gpio.Level(on)); err != nil {
		fmt.Println("HW: Failed to set alarm pin:", err)
	}
}

// GPIOButton is an active-low push button with the internal pull-up
// enabled.
type GPIOButton struct {
	pin gpio.PinIO
}

func NewGPIOButton(name string) (*GPIOButton, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, errors.Wrap(err, "failed to configure button pin")
	}
	return &GPIOButton{pin: p}, nil
}

func (b *GPIOButton) Pressed() bool {
	return b.pin.Read() == gpio.Low
}
