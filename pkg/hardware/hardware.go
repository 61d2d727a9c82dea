package hardware

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sensorhub"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sound"
)

type Config struct {
	I2CDev   string
	LinePort string

	LeftIn1, LeftIn2   string
	RightIn1, RightIn2 string

	UltrasonicTrig, UltrasonicEcho string

	AlarmPin  string
	ButtonPin string

	// BatteryMonitorAddr is the INA219's I2C address; zero falls back to
	// the sensor hub's own battery reading.
	BatteryMonitorAddr int
	ShuntOhms          float64
	MaxCurrentA        float64

	SoundsDir string
}

func DefaultConfig() Config {
	return Config{
		I2CDev:         "/dev/i2c-1",
		LinePort:       "/dev/ttyAMA0",
		LeftIn1:        "GPIO12",
		LeftIn2:        "GPIO13",
		RightIn1:       "GPIO18",
		RightIn2:       "GPIO19",
		UltrasonicTrig: "GPIO23",
		UltrasonicEcho: "GPIO24",
		AlarmPin:       "GPIO25",
		ButtonPin:      "GPIO17",

		BatteryMonitorAddr: ina219.DefaultAddr,
		ShuntOhms:          0.1,
		MaxCurrentA:        2.0,

		SoundsDir: "/sounds",
	}
}

// Hardware is the real vehicle.
type Hardware struct {
	hub        *sensorhub.Hub
	bar        *SerialLineBar
	line       *WeightedLineSensor
	motors     *MotorDriver
	ultrasonic *UltrasonicPoller
	alarm      *GPIOAlarm
	button     *GPIOButton
	ina        *ina219.INA219
	battery    *BatteryPoller
	sounds     *sound.Player

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Interface = (*Hardware)(nil)

func New(cfg Config) (h *Hardware, err error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph")
	}

	h = &Hardware{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, h.closeDevices())
			h = nil
		}
	}()

	if h.hub, err = sensorhub.New(cfg.I2CDev); err != nil {
		return
	}
	if h.bar, err = OpenSerialLineBar(cfg.LinePort); err != nil {
		return
	}
	h.line = NewWeightedLineSensor(h.bar)

	left, err := NewGPIOBridge(cfg.LeftIn1, cfg.LeftIn2)
	if err != nil {
		return
	}
	right, err := NewGPIOBridge(cfg.RightIn1, cfg.RightIn2)
	if err != nil {
		return
	}
	h.motors = NewMotorDriver(left, right)

	if h.alarm, err = NewGPIOAlarm(cfg.AlarmPin); err != nil {
		return
	}
	if h.button, err = NewGPIOButton(cfg.ButtonPin); err != nil {
		return
	}

	h.ultrasonic = NewUltrasonicPoller(func() (Pinger, error) {
		return NewHCSR04(cfg.UltrasonicTrig, cfg.UltrasonicEcho)
	})
	readBattery := h.hub.BattVolts
	if cfg.BatteryMonitorAddr != 0 {
		if h.ina, err = ina219.Open(cfg.I2CDev, cfg.BatteryMonitorAddr); err != nil {
			return
		}
		if err = h.ina.Configure(cfg.ShuntOhms, cfg.MaxCurrentA); err != nil {
			return
		}
		readBattery = h.ina.ReadBusVoltage
	}
	h.battery = NewBatteryPoller(readBattery)

	h.sounds = sound.NewPlayer(cfg.SoundsDir)
	return h, nil
}

// Start runs the background sensor loops until Close.
func (h *Hardware) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(2)
	go h.ultrasonic.Loop(ctx, &h.wg)
	go h.battery.Loop(ctx, &h.wg)
}

func (h *Hardware) Line() LineSensor       { return h.line }
func (h *Hardware) Laser() RangeSensor     { return h.hub }
func (h *Hardware) Ultrasonic() Ultrasonic { return h.ultrasonic }
func (h *Hardware) Encoders() Encoders     { return h.hub }
func (h *Hardware) Motors() *MotorDriver   { return h.motors }
func (h *Hardware) Alarm() Alarm           { return h.alarm }
func (h *Hardware) Button() Button         { return h.button }
func (h *Hardware) Battery() Battery       { return h.battery }

func (h *Hardware) PlaySound(name string) {
	h.sounds.Play(name)
}

func (h *Hardware) Close() error {
	fmt.Println("HW: Shutting down")
	if h.cancel != nil {
		h.cancel()
		h.wg.Wait()
	}
	if h.motors != nil {
		h.motors.Stop()
	}
	if h.alarm != nil {
		h.alarm.SetAlarm(false)
	}
	if h.sounds != nil {
		h.sounds.Close()
	}
	return h.closeDevices()
}

func (h *Hardware) closeDevices() error {
	var err error
	if h.hub != nil {
		err = multierr.Append(err, h.hub.Close())
	}
	if h.bar != nil {
		err = multierr.Append(err, h.bar.Close())
	}
	if h.ina != nil {
		err = multierr.Append(err, h.ina.Close())
	}
	return err
}
