// Package report renders closed-loop trajectories as charts.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/affect-mpc/internal/replay"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Chart size in inches.
const (
	Width  = 8.0
	Height = 5.0
)

// PlotTrajectory draws arousal, valence and habituation against the tick,
// with the target arousal as a dashed line and a marker at every tick where
// an event fired. The format follows the file extension (.png, .svg, .pdf).
func PlotTrajectory(results []replay.TickResult, target float64, path string) error {
	if len(results) == 0 {
		return fmt.Errorf("plot trajectory: no ticks")
	}

	p := plot.New()
	p.Title.Text = "Affect trajectory"
	p.X.Label.Text = "tick"
	p.Y.Label.Text = "value"
	p.Y.Min = -1
	p.Y.Max = 1
	p.Legend.Top = true

	arousal := make(plotter.XYs, len(results))
	valence := make(plotter.XYs, len(results))
	habituation := make(plotter.XYs, len(results))
	var events plotter.XYs
	for i, r := range results {
		x := float64(r.Tick)
		arousal[i] = plotter.XY{X: x, Y: r.State.Arousal}
		valence[i] = plotter.XY{X: x, Y: r.State.Valence}
		habituation[i] = plotter.XY{X: x, Y: r.State.Habituation}
		if len(r.Events) > 0 {
			events = append(events, plotter.XY{X: x, Y: r.State.Arousal})
		}
	}

	if err := plotutil.AddLines(p,
		"arousal", arousal,
		"valence", valence,
		"habituation", habituation,
	); err != nil {
		return fmt.Errorf("plot trajectory: %w", err)
	}

	setpoint := plotter.NewFunction(func(float64) float64 { return target })
	setpoint.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	setpoint.Color = plotutil.Color(3)
	p.Add(setpoint)
	p.Legend.Add("target", setpoint)

	if len(events) > 0 {
		sc, err := plotter.NewScatter(events)
		if err != nil {
			return fmt.Errorf("plot trajectory: %w", err)
		}
		sc.GlyphStyle.Shape = plotutil.Shape(1)
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("event", sc)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("plot trajectory: %w", err)
		}
	}
	if err := p.Save(vg.Length(Width)*vg.Inch, vg.Length(Height)*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
