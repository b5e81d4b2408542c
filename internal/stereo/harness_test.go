package stereo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/passthrough/internal/camera"
	"github.com/banshee-data/passthrough/internal/config"
	"github.com/banshee-data/passthrough/internal/render"
	"github.com/banshee-data/passthrough/internal/telemetry"
	"github.com/banshee-data/passthrough/internal/timeutil"
)

var testSurface = render.Surface{Name: "test", Width: 64, Height: 32}

type harness struct {
	clock     *timeutil.MockClock
	cameras   *camera.SyntheticOpener
	display   *render.HeadlessDisplay
	collector *telemetry.Collector
	pipeline  *Pipeline
	period    int64
}

type harnessOptions struct {
	meshOrder        string
	delayBetweenEyes bool
	display          render.HeadlessOptions
	// wrap lets a test replace the display the pipeline sees.
	wrap func(*render.HeadlessDisplay) render.Display
}

func testConfig(opts harnessOptions) *config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	w, h := 8, 4
	cfg.CameraWidth = &w
	cfg.CameraHeight = &h
	if opts.meshOrder != "" {
		cfg.MeshOrder = &opts.meshOrder
	}
	delay := opts.delayBetweenEyes
	cfg.DelayBetweenEyes = &delay
	return cfg
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	cfg := testConfig(opts)
	h := &harness{
		clock:   timeutil.NewMockClock(testStart),
		cameras: camera.NewSyntheticOpener(),
		period:  int64(cfg.GetFramePeriod()),
	}

	collector, err := telemetry.NewCollector(telemetry.CollectorConfig{
		Window:                 cfg.GetTelemetryWindow(),
		CommitLatencyThreshold: cfg.GetCommitLatencyThreshold(),
	})
	require.NoError(t, err)
	h.collector = collector

	displayOpts := opts.display
	if displayOpts.Clock == nil {
		displayOpts.Clock = h.clock
	}
	open := func(s render.Surface) (render.Display, error) {
		h.display = render.NewHeadlessDisplay(s, displayOpts)
		if opts.wrap != nil {
			return opts.wrap(h.display), nil
		}
		return h.display, nil
	}

	p, err := NewPipeline(cfg, Deps{
		Clock:     h.clock,
		Cameras:   h.cameras,
		Displays:  open,
		Telemetry: collector,
	})
	require.NoError(t, err)
	require.NoError(t, p.Init(testSurface))
	t.Cleanup(func() { _ = p.Destroy() })
	h.pipeline = p
	return h
}

// runDisplay delivers a vsync and a camera frame on both eyes at every
// period boundary as virtual time passes.
func (h *harness) runDisplay() {
	next := int64(0)
	fc := h.pipeline.FrameClock()
	h.clock.OnAdvance(func(now int64) {
		for next <= now {
			fc.OnVsync(next)
			h.cameras.EmitAll(next)
			next += h.period
		}
	})
}

func (h *harness) tick(t *testing.T, i uint64) TickResult {
	t.Helper()
	res, err := h.pipeline.scheduler.Tick(i)
	require.NoError(t, err)
	return res
}

var (
	testStart  = time.Unix(1700000000, 0)
	testPeriod = time.Second / 90
)

// fixedStream hands out the same frame forever.
type fixedStream struct {
	f *camera.Frame
}

func (s *fixedStream) Latest() (*camera.Frame, error) { return s.f, nil }
func (s *fixedStream) Release(*camera.Frame)          {}
func (s *fixedStream) Close() error                   { return nil }
