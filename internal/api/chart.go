package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/passthrough/internal/httputil"
	"github.com/banshee-data/passthrough/internal/telemetry"
)

// showChart renders recent windows as an HTML dashboard: frame rate and
// interval spread over time, and jank totals by kind.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 120, maxWindowLimit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	windows, err := s.windows(limit, r.URL.Query().Get("source"))
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve windows: %v", err))
		return
	}

	page := components.NewPage()
	page.PageTitle = "Passthrough pacing"
	page.AddCharts(
		s.fpsChart(windows),
		jankChart(windows),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// fpsChart plots windows oldest first.
func (s *Server) fpsChart(windows []telemetry.Window) *charts.Line {
	x := make([]string, 0, len(windows))
	fps := make([]opts.LineData, 0, len(windows))
	stddev := make([]opts.LineData, 0, len(windows))
	target := make([]opts.LineData, 0, len(windows))
	for i := len(windows) - 1; i >= 0; i-- {
		win := windows[i]
		x = append(x, strconv.FormatUint(win.Index, 10))
		fps = append(fps, opts.LineData{Value: win.FPS})
		stddev = append(stddev, opts.LineData{Value: win.StddevIntervalNs / 1e6})
		target = append(target, opts.LineData{Value: s.cfg.GetRefreshHz()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Frame rate per window",
			Subtitle: fmt.Sprintf("target %.1f Hz, %d windows", s.cfg.GetRefreshHz(), len(windows)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "window", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "fps / ms"}),
	)
	line.SetXAxis(x).
		AddSeries("fps", fps).
		AddSeries("interval stddev (ms)", stddev).
		AddSeries("target", target, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
	return line
}

func jankChart(windows []telemetry.Window) *charts.Bar {
	var midpoint, vsync, overrun, skipped, latency int
	for _, win := range windows {
		midpoint += win.MidpointMisses
		vsync += win.VsyncCorrections
		overrun += win.EyeOverruns
		skipped += win.Skipped
		latency += win.LatencyWarnings
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Jank and skipped frames"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{
		telemetry.JankMidpointMiss.String(),
		telemetry.JankVsyncCorrection.String(),
		telemetry.JankEyeOverrun.String(),
		"skipped",
		"latency_warning",
	}).AddSeries("count", []opts.BarData{
		{Value: midpoint},
		{Value: vsync},
		{Value: overrun},
		{Value: skipped},
		{Value: latency},
	}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}
