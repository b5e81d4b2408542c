package stereo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/passthrough/internal/camera"
	"github.com/banshee-data/passthrough/internal/config"
	"github.com/banshee-data/passthrough/internal/render"
	"github.com/banshee-data/passthrough/internal/timeutil"
)

func TestPipeline_SteadyState90Hz(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{display: render.HeadlessOptions{VsyncPeriod: testPeriod}})
	h.runDisplay()

	require.NoError(t, h.pipeline.Run(context.Background(), 300))

	status := h.pipeline.Status()
	assert.Equal(t, uint64(300), status.FramesProcessed)
	assert.Equal(t, OutcomeSuccess, status.LastOutcome)
	assert.Zero(t, status.VsyncCorrections)
	assert.Equal(t, uint64(300), status.Pacing.VsyncCount)

	snap := h.collector.Snapshot()
	assert.Equal(t, map[string]uint64{"success": 300}, snap.Outcomes)
	assert.Empty(t, snap.Jank)
	assert.Zero(t, snap.LatencyWarnings)
	assert.Equal(t, uint64(300), snap.TotalFrames)

	windows := h.collector.Windows()
	require.GreaterOrEqual(t, len(windows), 3)
	for _, w := range windows {
		assert.InDelta(t, 90, w.FrameCount, 1, "window %d", w.Index)
		assert.Zero(t, w.JankCount(), "window %d", w.Index)
		assert.InDelta(t, float64(testPeriod), w.MeanIntervalNs, 1)
	}

	// Every tick woke at the middle of its period.
	for i, d := range h.clock.Sleeps() {
		if i%2 == 0 {
			assert.Equal(t, testPeriod/2, d, "midpoint sleep %d", i/2)
		}
	}

	rings := status.Rings
	assert.Zero(t, rings["left"].Failed)
	assert.Equal(t, uint64(300), rings["left"].Acquired)
	assert.Equal(t, uint64(300), rings["right"].Acquired)
}

func TestPipeline_StallCorrectsVsync(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.pipeline.FrameClock().OnVsync(0)
	h.cameras.EmitAll(0)
	h.clock.Advance(3*testPeriod + testPeriod/4)

	res := h.tick(t, 0)
	assert.True(t, res.VsyncCorrected)
	assert.Equal(t, uint64(1), h.collector.Snapshot().Jank["vsync_correction"])
}

func TestPipeline_MidpointMissIsJank(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.pipeline.FrameClock().OnVsync(0)
	h.cameras.EmitAll(0)
	h.clock.Advance(testPeriod * 7 / 10)

	res := h.tick(t, 0)
	assert.True(t, res.Plan.Jank)
	assert.Equal(t, uint64(1), h.collector.Snapshot().Jank["midpoint_miss"])
}

func TestPipeline_ProcessFrame(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	running, err := h.pipeline.ProcessFrame(0)
	require.NoError(t, err)
	assert.True(t, running)

	h.pipeline.Stop()
	running, err = h.pipeline.ProcessFrame(1)
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, uint64(1), h.pipeline.Status().FramesProcessed)
}

func TestPipeline_ProcessFrameFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.cameras.EmitAll(0)
	h.display.FailNext(render.OpDraw, errors.New("device lost"))

	running, err := h.pipeline.ProcessFrame(0)
	assert.False(t, running)
	assert.ErrorIs(t, err, ErrDevice)
}

func TestPipeline_RunStopsOnContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.pipeline.Run(ctx, 0))
	assert.Zero(t, h.pipeline.Status().FramesProcessed)
}

func TestPipeline_NotInitialized(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(nil, Deps{
		Cameras:  camera.NewSyntheticOpener(),
		Displays: render.HeadlessOpener(render.HeadlessOptions{}),
	})
	require.NoError(t, err)
	_, err = p.ProcessFrame(0)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, p.Status().Initialized)
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	bad := config.DefaultPipelineConfig()
	hz := -1.0
	bad.RefreshHz = &hz
	_, err := NewPipeline(bad, Deps{Cameras: camera.NewSyntheticOpener(), Displays: render.HeadlessOpener(render.HeadlessOptions{})})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewPipeline(nil, Deps{})
	assert.Error(t, err)
}

// trackingOpener records the order streams are closed in.
type trackingOpener struct {
	inner *camera.SyntheticOpener
	fail  map[camera.Eye]error
	order *[]string
}

type trackedStream struct {
	camera.Stream
	eye   camera.Eye
	owner *trackingOpener
}

func (s trackedStream) Close() error {
	*s.owner.order = append(*s.owner.order, s.eye.String())
	return s.Stream.Close()
}

func (o *trackingOpener) OpenStream(eye camera.Eye, cfg camera.StreamConfig) (camera.Stream, error) {
	if err := o.fail[eye]; err != nil {
		return nil, err
	}
	s, err := o.inner.OpenStream(eye, cfg)
	if err != nil {
		return nil, err
	}
	return trackedStream{Stream: s, eye: eye, owner: o}, nil
}

type trackedDisplay struct {
	*render.HeadlessDisplay
	order *[]string
}

func (d trackedDisplay) Close() error {
	*d.order = append(*d.order, "display")
	return d.HeadlessDisplay.Close()
}

func TestPipeline_DestroyReleasesInReverse(t *testing.T) {
	t.Parallel()

	var order []string
	cams := &trackingOpener{inner: camera.NewSyntheticOpener(), order: &order}
	p, err := NewPipeline(testConfig(harnessOptions{}), Deps{
		Clock:   timeutil.NewMockClock(testStart),
		Cameras: cams,
		Displays: func(s render.Surface) (render.Display, error) {
			return trackedDisplay{render.NewHeadlessDisplay(s, render.HeadlessOptions{}), &order}, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.Init(testSurface))
	assert.Error(t, p.Init(testSurface))

	require.NoError(t, p.Destroy())
	assert.Equal(t, []string{"display", "right", "left"}, order)

	require.NoError(t, p.Destroy())
	assert.Len(t, order, 3)

	left, _ := cams.inner.Stream(camera.Left)
	assert.Equal(t, camera.StreamBufferCount(4), left.Free())
}

func TestPipeline_InitFailureUnwinds(t *testing.T) {
	t.Parallel()

	var order []string
	cams := &trackingOpener{
		inner: camera.NewSyntheticOpener(),
		order: &order,
		fail:  map[camera.Eye]error{camera.Right: errors.New("camera busy")},
	}
	p, err := NewPipeline(testConfig(harnessOptions{}), Deps{
		Clock:    timeutil.NewMockClock(testStart),
		Cameras:  cams,
		Displays: render.HeadlessOpener(render.HeadlessOptions{}),
	})
	require.NoError(t, err)

	err = p.Init(testSurface)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera busy")
	assert.Equal(t, []string{"left"}, order)
	assert.False(t, p.Status().Initialized)
}

func TestPipeline_DisplayOpenFailure(t *testing.T) {
	t.Parallel()

	var order []string
	cams := &trackingOpener{inner: camera.NewSyntheticOpener(), order: &order}
	p, err := NewPipeline(testConfig(harnessOptions{}), Deps{
		Clock:    timeutil.NewMockClock(testStart),
		Cameras:  cams,
		Displays: render.HeadlessOpener(render.HeadlessOptions{}),
	})
	require.NoError(t, err)

	err = p.Init(render.Surface{})
	assert.ErrorIs(t, err, ErrDevice)
	assert.Equal(t, []string{"right", "left"}, order)
}
