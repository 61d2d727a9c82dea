// Package screen draws the vehicle status on the 128x128 RGB565 panel
// exposed as a framebuffer device.
package screen

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/fogleman/gg"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/status"
)

const (
	Size            = 128
	FrameBytes      = Size * Size * 2
	DefaultDevice   = "/dev/fb1"
	refreshInterval = 500 * time.Millisecond
)

type Log func(string, ...any)

type Source interface {
	Latest() *status.Snapshot
}

type Screen struct {
	device string
	source Source
	log    Log
}

func New(device string, source Source, log Log) *Screen {
	if log == nil {
		log = func(f string, a ...any) { fmt.Printf("Screen: "+f+"\n", a...) }
	}
	return &Screen{device: device, source: source, log: log}
}

// Loop redraws the panel from the latest snapshot until ctx is done, then
// blanks it.  A missing device is not an error: the vehicle runs headless.
func (s *Screen) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	f, err := os.OpenFile(s.device, os.O_RDWR, 0666)
	if err != nil {
		s.log("Failed to open %s, ignoring: %v", s.device, err)
		return
	}
	defer f.Close()

	var buf [FrameBytes]byte
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			clear(buf[:])
			_ = writeFrame(f, buf[:])
			return
		case <-ticker.C:
		}
		Encode(Render(s.source.Latest()), buf[:])
		if err := writeFrame(f, buf[:]); err != nil {
			s.log("Screen failure: %v", err)
			return
		}
	}
}

func writeFrame(w io.WriteSeeker, buf []byte) error {
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	// The panel driver drops data if a whole frame is written at once.
	const row = Size * 2
	for i := 0; i < Size; i++ {
		if _, err := w.Write(buf[i*row : i*row+row]); err != nil {
			return err
		}
		time.Sleep(10 * time.Microsecond)
	}
	return nil
}

// Encode packs img into buf as RGB565, little endian, in the panel's
// rotated column order.
func Encode(img image.Image, buf []byte) {
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, b, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			i := (Size-1-y)*2 + x*Size*2
			buf[i+1] = (rb << 3) | (gb >> 3)
			buf[i] = bb | (gb << 5)
		}
	}
}

func rateLabel(hz int) string {
	return fmt.Sprintf("%dHz", hz)
}

// Render draws one frame for snap.
func Render(snap *status.Snapshot) image.Image {
	dc := gg.NewContext(Size, Size)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(stateLabel(snap), 4, 12)
	dc.DrawString(fmt.Sprintf("T %s", formatRunTime(snap.RunTime)), 4, 26)
	dc.DrawString(fmt.Sprintf("OBS %d", snap.ObstacleCount), 76, 26)

	dc.SetRGB(1, 1, 1)
	dc.DrawString(measurementLabel(snap.Measurement), 4, 44)
	dc.DrawString(fmt.Sprintf("US %.0fcm", snap.Ranges.UltrasonicCm), 4, 58)
	dc.DrawString(rateLabel(snap.LoopHz), 80, 58)

	dc.Push()
	dc.Translate(4, 70)
	drawSensorBar(dc, snap.Line)
	dc.Pop()

	if snap.BatteryV > 0 {
		dc.Push()
		dc.Translate(4, 104)
		drawPowerBar(dc, snap.BatteryV)
		dc.Pop()
	}

	if snap.Line.Lost && snap.Running {
		dc.Push()
		dc.Translate(100, 112)
		DrawWarning(dc)
		dc.Pop()
	}
	return dc.Image()
}

func stateLabel(snap *status.Snapshot) string {
	label := snap.State
	if snap.SubState != "" {
		label += " " + snap.SubState
	}
	if snap.Manual {
		label += " (M)"
	}
	return label
}

func formatRunTime(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	return fmt.Sprintf("%d:%04.1f", int(d.Minutes()), (d % time.Minute).Seconds())
}

func measurementLabel(m status.Measurement) string {
	switch m.State {
	case measure.Completed:
		if m.Result.Valid {
			return fmt.Sprintf("LEN %.0fmm", m.Result.LengthMm)
		}
		return "LEN invalid"
	case measure.Idle:
		return "LEN -"
	}
	return "LEN " + m.State.String()
}

const (
	cellWidth  = 12
	cellPitch  = 15
	cellHeight = 16
)

// drawSensorBar draws one cell per line sensor, filled where the sensor
// sees the line, with a tick under the estimated line position.
func drawSensorBar(dc *gg.Context, line status.Line) {
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(1)
	for i := 0; i < hardware.NumLineSensors; i++ {
		x := float64(i * cellPitch)
		dc.DrawRectangle(x+0.5, 0.5, cellWidth-1, cellHeight-1)
		if line.Bitmask&(1<<i) != 0 {
			dc.Fill()
		} else {
			dc.Stroke()
		}
	}
	if line.Lost {
		return
	}
	// Position runs from -1000 (first sensor) to 1000 (last).
	span := float64((hardware.NumLineSensors-1)*cellPitch) + cellWidth
	x := (float64(line.Position) + 1000) / 2000 * span
	dc.SetRGB(0, 1, 0)
	dc.DrawRectangle(x-1, cellHeight+3, 3, 5)
	dc.Fill()
}

const (
	minCellVoltage = 3
	maxCellVoltage = 4.2

	powerBarSegments = 12
)

// Charge returns the estimated state of charge in [0, 1], guessing the
// pack's cell count from its voltage.
func Charge(voltage float64) float64 {
	var cellVoltage float64
	if voltage > 9 {
		// assume the 4-cell pack
		cellVoltage = voltage / 4
	} else {
		// assume the 2-cell pack
		cellVoltage = voltage / 2
	}
	charge := (cellVoltage - minCellVoltage) / (maxCellVoltage - minCellVoltage)
	return math.Max(0, math.Min(1, charge))
}

func drawPowerBar(dc *gg.Context, voltage float64) {
	charge := Charge(voltage)
	dc.SetRGBA(1, 0.9, 0, 1)
	if charge < 0.1 {
		dc.SetRGBA(1, 0.2, 0, 1)
	}
	dc.SetLineWidth(1)
	dc.DrawRectangle(0.5, 0.5, 4*powerBarSegments+3, 10)
	dc.Stroke()
	for n := 0; n < powerBarSegments; n++ {
		if charge >= float64(n+1)/powerBarSegments {
			dc.DrawRectangle(2+float64(n*4), 2, 3, 7)
		}
	}
	dc.Fill()
	dc.DrawString(fmt.Sprintf("%.1fv", voltage), 4*powerBarSegments+8, 10)
}

func DrawWarning(dc *gg.Context) {
	dc.SetRGB(1, 0.2, 0)
	dc.DrawRegularPolygon(3, 0, 0, 14, 0)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawString("!", -3, 3)
}
