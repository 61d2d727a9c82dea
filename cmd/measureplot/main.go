// measureplot renders the range traces behind recorded object measurements
// as range-vs-travel PNGs, one per measurement.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/runlog"
)

var (
	edgeColor  = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	traceColor = color.RGBA{R: 30, G: 90, B: 200, A: 255}
)

func main() {
	dbPath := flag.String("db", "/cfg/runs.db", "run log database")
	outDir := flag.String("out", ".", "directory for the PNGs")
	count := flag.Int("n", 10, "number of most recent measurements to plot")
	id := flag.String("id", "", "plot only this measurement ID")
	flag.Parse()

	if err := run(context.Background(), *dbPath, *outDir, *count, *id); err != nil {
		fmt.Fprintln(os.Stderr, "measureplot:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, outDir string, count int, only string) error {
	store, err := runlog.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var want uuid.UUID
	if only != "" {
		if want, err = uuid.Parse(only); err != nil {
			return errors.Wrapf(err, "bad measurement ID %q", only)
		}
		// The ID could be anywhere in the history; sqlite reads a negative
		// LIMIT as no limit.
		count = -1
	}
	measurements, err := store.Recent(ctx, count)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	plotted := 0
	for _, m := range measurements {
		if only != "" && m.ID != want {
			continue
		}
		trace, err := store.Trace(ctx, m.ID)
		if err != nil {
			return err
		}
		if len(trace) == 0 {
			fmt.Printf("%v: no trace recorded, skipping\n", m.ID)
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("measurement_%s.png", m.ID))
		if err := plotTrace(m, trace, path); err != nil {
			return err
		}
		fmt.Printf("%v: %.1fmm valid=%v -> %s\n", m.ID, m.Result.LengthMm, m.Result.Valid, path)
		plotted++
	}
	if only != "" && plotted == 0 {
		return errors.Errorf("measurement %v not found", want)
	}
	return nil
}

func plotTrace(m runlog.Measurement, trace []measure.Sample, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s  %s  length %.0fmm", m.Result.Timestamp.Format("2006-01-02 15:04:05"),
		validLabel(m.Result.Valid), m.Result.LengthMm)
	p.X.Label.Text = "Travel (mm)"
	p.Y.Label.Text = "Range (mm)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(trace))
	maxRange := 0.0
	for _, s := range trace {
		pts = append(pts, plotter.XY{X: s.TravelMm, Y: float64(s.RangeMm)})
		maxRange = max(maxRange, float64(s.RangeMm))
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return errors.Wrap(err, "failed to build trace")
	}
	line.Color = traceColor
	line.Width = vg.Points(1)
	points.Color = traceColor
	points.Radius = vg.Points(1.5)
	p.Add(line, points)
	p.Legend.Add("range", line, points)

	// Mark where the object's edges were detected.
	if m.Result.EndTravelMm > m.Result.StartTravelMm {
		var edge *plotter.Line
		for _, x := range []float64{m.Result.StartTravelMm, m.Result.EndTravelMm} {
			edge, err = plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: maxRange}})
			if err != nil {
				return errors.Wrap(err, "failed to build edge marker")
			}
			edge.Color = edgeColor
			edge.Width = vg.Points(1)
			edge.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(edge)
		}
		p.Legend.Add(fmt.Sprintf("edges (%.0fmm raw)", m.Result.RawLengthMm), edge)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

func validLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "INVALID"
}
