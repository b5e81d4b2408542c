package stereo

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/passthrough/internal/camera"
	"github.com/banshee-data/passthrough/internal/pacing"
	"github.com/banshee-data/passthrough/internal/render"
	"github.com/banshee-data/passthrough/internal/telemetry"
	"github.com/banshee-data/passthrough/internal/timeutil"
)

var (
	// ErrDevice wraps a failure reported by the display collaborator.
	ErrDevice = errors.New("display device error")
	// ErrBadFrame is returned when a camera frame lacks a plane the
	// renderer samples.
	ErrBadFrame = errors.New("malformed camera frame")
)

// Outcome is how a tick ended.
type Outcome string

const (
	OutcomeSuccess               Outcome = "success"
	OutcomeSkippedNoFrame        Outcome = "skipped_no_frame"
	OutcomeSkippedSwapchainStale Outcome = "skipped_swapchain_stale"
)

// TickResult describes one tick.
type TickResult struct {
	FrameIndex     uint64
	Outcome        Outcome
	Plan           pacing.MidpointPlan
	VsyncCorrected bool
	InterEyeWaitNs int64
	EyeOverrun     bool
	Draws          int
	FirstEyeDoneNs int64
	PresentedNs    int64
}

// SchedulerDeps are the collaborators a Scheduler drives.
type SchedulerDeps struct {
	Clock      timeutil.Clock
	FrameClock *pacing.FrameClock
	Pacer      *pacing.FramePacer
	Left       *camera.FrameRing
	Right      *camera.FrameRing
	Display    render.Display
	// Telemetry may be nil.
	Telemetry *telemetry.Collector
}

// SchedulerConfig holds the per-run choices fixed at construction.
type SchedulerConfig struct {
	MeshOrder        render.MeshOrder
	DelayBetweenEyes bool
	TraceEnabled     bool
}

// Scheduler sequences one stereo frame per Tick. It is not safe for
// concurrent use.
type Scheduler struct {
	deps   SchedulerDeps
	cfg    SchedulerConfig
	first  render.Pass
	second render.Pass
	extent render.Extent
}

// NewScheduler checks deps and resolves the mesh order's passes.
func NewScheduler(cfg SchedulerConfig, deps SchedulerDeps) (*Scheduler, error) {
	switch {
	case deps.Clock == nil:
		return nil, fmt.Errorf("scheduler: nil clock")
	case deps.FrameClock == nil || deps.Pacer == nil:
		return nil, fmt.Errorf("scheduler: nil frame clock or pacer")
	case deps.Left == nil || deps.Right == nil:
		return nil, fmt.Errorf("scheduler: both eye rings are required")
	case deps.Display == nil:
		return nil, fmt.Errorf("scheduler: nil display")
	}
	if !cfg.MeshOrder.Valid() {
		return nil, fmt.Errorf("scheduler: %w: %v", render.ErrUnknownMeshOrder, cfg.MeshOrder)
	}
	first, second := cfg.MeshOrder.Passes()
	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		first:  first,
		second: second,
		extent: deps.Display.Extent(),
	}, nil
}

// Tick renders frame frameIndex. Skipped frames are not errors; an error
// means the display or a frame is unusable and the loop must stop.
func (s *Scheduler) Tick(frameIndex uint64) (TickResult, error) {
	res := TickResult{FrameIndex: frameIndex}
	clock := s.deps.Clock

	now := clock.NowNanos()
	est, corrected := s.deps.FrameClock.CurrentVsyncEstimate(now)
	if corrected {
		res.VsyncCorrected = true
		s.jank(telemetry.JankVsyncCorrection, frameIndex, now)
	}
	res.Plan = s.deps.Pacer.WaitForMidpoint(now, est)
	if res.Plan.Jank {
		s.jank(telemetry.JankMidpointMiss, frameIndex, res.Plan.PostWaitNs)
	}

	left := s.deps.Left.AcquireLatest()
	right := s.deps.Right.AcquireLatest()
	if left == nil || right == nil {
		diagf("frame %d: waiting for camera frames (left=%t right=%t)", frameIndex, left != nil, right != nil)
		return s.finish(res, OutcomeSkippedNoFrame), nil
	}

	if s.deps.Display.IsSurfaceStale() {
		opsf("frame %d: surface stale before render, skipping", frameIndex)
		return s.finish(res, OutcomeSkippedSwapchainStale), nil
	}

	frames := [2]*camera.Frame{camera.Left: left, camera.Right: right}
	for _, eye := range camera.Eyes {
		if err := s.upload(eye, frames[eye]); err != nil {
			return res, err
		}
	}

	if err := s.renderPass(s.first, &res); err != nil {
		return res, err
	}
	res.FirstEyeDoneNs = clock.NowNanos()

	if s.cfg.DelayBetweenEyes {
		res.InterEyeWaitNs, res.EyeOverrun = s.deps.Pacer.WaitBetweenEyes(res.FirstEyeDoneNs, res.Plan.PostWaitNs)
		if res.EyeOverrun {
			s.jank(telemetry.JankEyeOverrun, frameIndex, res.FirstEyeDoneNs)
		}
	}

	if err := s.renderPass(s.second, &res); err != nil {
		return res, err
	}

	if err := s.deps.Display.Present(); err != nil {
		if s.deps.Display.IsSurfaceStale() {
			opsf("frame %d: surface stale at present: %v", frameIndex, err)
			return s.finish(res, OutcomeSkippedSwapchainStale), nil
		}
		return res, fmt.Errorf("%w: present frame %d: %v", ErrDevice, frameIndex, err)
	}
	res.PresentedNs = clock.NowNanos()

	if t := s.deps.Telemetry; t != nil {
		t.RecordFrame(res.PresentedNs)
	}
	if s.cfg.TraceEnabled {
		tracef("frame %d: wait=%v first=%v interEye=%v present=%v left=%d right=%d",
			frameIndex,
			time.Duration(res.Plan.WaitNs),
			time.Duration(res.FirstEyeDoneNs-res.Plan.PostWaitNs),
			time.Duration(res.InterEyeWaitNs),
			time.Duration(res.PresentedNs-res.FirstEyeDoneNs),
			left.Seq, right.Seq)
	}
	return s.finish(res, OutcomeSuccess), nil
}

func (s *Scheduler) finish(res TickResult, o Outcome) TickResult {
	res.Outcome = o
	if t := s.deps.Telemetry; t != nil {
		t.RecordOutcome(string(o))
	}
	return res
}

func (s *Scheduler) jank(kind telemetry.JankKind, frameIndex uint64, atNs int64) {
	if t := s.deps.Telemetry; t != nil {
		t.RecordJank(kind, frameIndex, atNs)
	}
}

func (s *Scheduler) upload(eye camera.Eye, f *camera.Frame) error {
	for _, idx := range [...]int{camera.PlaneLuma, camera.PlaneChroma} {
		plane, ok := f.Plane(idx)
		if !ok {
			return fmt.Errorf("%w: %s eye %s has no plane %d", ErrBadFrame, eye, f, idx)
		}
		if err := s.deps.Display.UploadPlane(eye, idx, plane); err != nil {
			return fmt.Errorf("%w: upload %s plane %d: %v", ErrDevice, eye, idx, err)
		}
	}
	return nil
}

func (s *Scheduler) renderPass(pass render.Pass, res *TickResult) error {
	for _, a := range pass {
		rect := a.Area.Rect(s.extent)
		if err := s.deps.Display.BeginSubArea(rect, a.Area.ClearColor()); err != nil {
			return fmt.Errorf("%w: begin %s: %v", ErrDevice, a.Area, err)
		}
		if err := s.deps.Display.Draw(a.Eye); err != nil {
			return fmt.Errorf("%w: draw %s eye into %s: %v", ErrDevice, a.Eye, a.Area, err)
		}
		res.Draws++
	}
	return nil
}
