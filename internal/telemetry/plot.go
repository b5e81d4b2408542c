package telemetry

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoWindows is returned when there is nothing to plot.
var ErrNoWindows = errors.New("no telemetry windows to plot")

// Plot file names written by SavePlots.
const (
	FPSPlotFile      = "pacing_fps.png"
	IntervalPlotFile = "pacing_interval.png"
)

var (
	fpsColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	jankColor   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	meanColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	maxColor    = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	targetColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

// SavePlots writes the fps/jank and interval plots for windows into dir
// and returns the file paths. targetFPS draws a reference line when > 0.
func SavePlots(windows []Window, dir string, targetFPS float64) ([]string, error) {
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	pFPS := plot.New()
	pFPS.Title.Text = "Frames per window"
	pFPS.X.Label.Text = "Window"
	pFPS.Y.Label.Text = "FPS"

	pInt := plot.New()
	pInt.Title.Text = "Inter-frame interval"
	pInt.X.Label.Text = "Window"
	pInt.Y.Label.Text = "Interval (ms)"

	fpsPts := make(plotter.XYs, 0, len(windows))
	jankPts := make(plotter.XYs, 0)
	meanPts := make(plotter.XYs, 0, len(windows))
	maxPts := make(plotter.XYs, 0, len(windows))
	for _, w := range windows {
		x := float64(w.Index)
		fpsPts = append(fpsPts, plotter.XY{X: x, Y: w.FPS})
		if w.JankCount() > 0 {
			jankPts = append(jankPts, plotter.XY{X: x, Y: w.FPS})
		}
		meanPts = append(meanPts, plotter.XY{X: x, Y: w.MeanIntervalNs / 1e6})
		maxPts = append(maxPts, plotter.XY{X: x, Y: float64(w.MaxIntervalNs) / 1e6})
	}

	fpsLine, err := plotter.NewLine(fpsPts)
	if err != nil {
		return nil, err
	}
	fpsLine.Color = fpsColor
	fpsLine.Width = vg.Points(1)
	pFPS.Add(fpsLine)
	pFPS.Legend.Add("fps", fpsLine)

	if targetFPS > 0 {
		first, last := fpsPts[0].X, fpsPts[len(fpsPts)-1].X
		target, err := plotter.NewLine(plotter.XYs{{X: first, Y: targetFPS}, {X: last, Y: targetFPS}})
		if err != nil {
			return nil, err
		}
		target.Color = targetColor
		target.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		pFPS.Add(target)
		pFPS.Legend.Add("target", target)
	}

	if len(jankPts) > 0 {
		jank, err := plotter.NewScatter(jankPts)
		if err != nil {
			return nil, err
		}
		jank.Color = jankColor
		pFPS.Add(jank)
		pFPS.Legend.Add("jank", jank)
	}

	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return nil, err
	}
	meanLine.Color = meanColor
	meanLine.Width = vg.Points(1)
	pInt.Add(meanLine)
	pInt.Legend.Add("mean", meanLine)

	maxLine, err := plotter.NewLine(maxPts)
	if err != nil {
		return nil, err
	}
	maxLine.Color = maxColor
	maxLine.Width = vg.Points(1)
	pInt.Add(maxLine)
	pInt.Legend.Add("max", maxLine)

	for _, p := range []*plot.Plot{pFPS, pInt} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	fpsFile := filepath.Join(dir, FPSPlotFile)
	if err := pFPS.Save(14*vg.Inch, 6*vg.Inch, fpsFile); err != nil {
		return nil, fmt.Errorf("save fps plot: %w", err)
	}
	intFile := filepath.Join(dir, IntervalPlotFile)
	if err := pInt.Save(14*vg.Inch, 6*vg.Inch, intFile); err != nil {
		return nil, fmt.Errorf("save interval plot: %w", err)
	}
	diagf("saved plots %s, %s", fpsFile, intFile)
	return []string{fpsFile, intFile}, nil
}
