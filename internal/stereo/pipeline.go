package stereo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/passthrough/internal/camera"
	"github.com/banshee-data/passthrough/internal/config"
	"github.com/banshee-data/passthrough/internal/pacing"
	"github.com/banshee-data/passthrough/internal/render"
	"github.com/banshee-data/passthrough/internal/telemetry"
	"github.com/banshee-data/passthrough/internal/timeutil"
)

// ErrNotInitialized is returned by ProcessFrame before Init succeeds.
var ErrNotInitialized = errors.New("pipeline not initialized")

// Deps are the platform collaborators a Pipeline opens in Init.
type Deps struct {
	Clock    timeutil.Clock
	Cameras  camera.Opener
	Displays render.Opener
	// Telemetry may be nil.
	Telemetry *telemetry.Collector
}

// Status is a point-in-time view of a running pipeline.
type Status struct {
	Initialized      bool                        `json:"initialized"`
	FramesProcessed  uint64                      `json:"frames_processed"`
	LastOutcome      Outcome                     `json:"last_outcome,omitempty"`
	MeshOrder        string                      `json:"mesh_order"`
	DelayBetweenEyes bool                        `json:"delay_between_eyes"`
	Pacing           pacing.PacingState          `json:"pacing"`
	VsyncObserved    uint64                      `json:"vsync_observed"`
	VsyncCorrections uint64                      `json:"vsync_corrections"`
	Rings            map[string]camera.RingStats `json:"rings"`
}

type release struct {
	name string
	fn   func() error
}

// Pipeline is the host-facing passthrough context: it owns the camera
// rings, the display and the scheduler for one surface.
type Pipeline struct {
	cfg  *config.PipelineConfig
	deps Deps

	frameClock *pacing.FrameClock
	pacer      *pacing.FramePacer

	rings     [2]*camera.FrameRing
	scheduler *Scheduler
	releases  []release

	mu          sync.Mutex
	processed   uint64
	lastOutcome Outcome
	stop        bool
}

// NewPipeline validates cfg and builds the timing components. No platform
// resources are opened until Init.
func NewPipeline(cfg *config.PipelineConfig, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Cameras == nil || deps.Displays == nil {
		return nil, fmt.Errorf("pipeline: camera and display openers are required")
	}

	fc, err := pacing.NewFrameClock(cfg.GetFramePeriod())
	if err != nil {
		return nil, err
	}
	pacer, err := pacing.NewFramePacer(pacing.PacerConfig{
		FramePeriod:     cfg.GetFramePeriod(),
		HalfwayFraction: cfg.GetHalfwayFraction(),
	}, deps.Clock)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, deps: deps, frameClock: fc, pacer: pacer}, nil
}

// FrameClock returns the vsync mailbox; vsync sources deliver to it.
func (p *Pipeline) FrameClock() *pacing.FrameClock {
	return p.frameClock
}

// Init opens both camera streams and the display for surface. On failure
// everything opened so far is released.
func (p *Pipeline) Init(surface render.Surface) error {
	if p.scheduler != nil {
		return fmt.Errorf("pipeline already initialized")
	}
	if err := p.init(surface); err != nil {
		if derr := p.Destroy(); derr != nil {
			opsf("cleanup after failed init: %v", derr)
		}
		return err
	}
	diagf("initialized: surface %q %dx%d, mesh=%s delayBetweenEyes=%t ring=%d",
		surface.Name, surface.Width, surface.Height, p.cfg.GetMeshOrder(), p.cfg.GetDelayBetweenEyes(), p.cfg.GetRingCapacity())
	return nil
}

func (p *Pipeline) init(surface render.Surface) error {
	capacity := p.cfg.GetRingCapacity()
	ids := [2]string{camera.Left: p.cfg.GetLeftCameraID(), camera.Right: p.cfg.GetRightCameraID()}

	for _, eye := range camera.Eyes {
		stream, err := p.deps.Cameras.OpenStream(eye, camera.StreamConfig{
			CameraID:    ids[eye],
			Width:       p.cfg.GetCameraWidth(),
			Height:      p.cfg.GetCameraHeight(),
			Format:      camera.PixelFormatYUV420,
			BufferCount: camera.StreamBufferCount(capacity),
		})
		if err != nil {
			return fmt.Errorf("open %s camera %q: %w", eye, ids[eye], err)
		}
		ring, err := camera.NewFrameRing(eye, stream, capacity)
		if err != nil {
			if cerr := stream.Close(); cerr != nil {
				opsf("close %s stream: %v", eye, cerr)
			}
			return err
		}
		p.mu.Lock()
		p.rings[eye] = ring
		p.mu.Unlock()
		p.push(eye.String()+" ring", ring.Close)
	}

	display, err := p.deps.Displays(surface)
	if err != nil {
		return fmt.Errorf("%w: open display: %v", ErrDevice, err)
	}
	p.push("display", display.Close)

	sched, err := NewScheduler(SchedulerConfig{
		MeshOrder:        p.cfg.GetMeshOrder(),
		DelayBetweenEyes: p.cfg.GetDelayBetweenEyes(),
		TraceEnabled:     p.cfg.GetTraceEnabled(),
	}, SchedulerDeps{
		Clock:      p.deps.Clock,
		FrameClock: p.frameClock,
		Pacer:      p.pacer,
		Left:       p.rings[camera.Left],
		Right:      p.rings[camera.Right],
		Display:    display,
		Telemetry:  p.deps.Telemetry,
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.scheduler = sched
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) push(name string, fn func() error) {
	p.releases = append(p.releases, release{name: name, fn: fn})
}

// ProcessFrame runs one tick. It reports false once Stop has been called
// or a fatal error occurred.
func (p *Pipeline) ProcessFrame(frameIndex uint64) (bool, error) {
	if p.scheduler == nil {
		return false, ErrNotInitialized
	}
	p.mu.Lock()
	stop := p.stop
	p.mu.Unlock()
	if stop {
		return false, nil
	}

	res, err := p.scheduler.Tick(frameIndex)
	if err != nil {
		opsf("frame %d: %v", frameIndex, err)
		return false, err
	}

	p.mu.Lock()
	p.processed++
	p.lastOutcome = res.Outcome
	p.mu.Unlock()
	return true, nil
}

// Run calls ProcessFrame until ctx is done, Stop is called, a fatal error
// occurs, or maxFrames ticks have run (0 means no limit).
func (p *Pipeline) Run(ctx context.Context, maxFrames uint64) error {
	for i := uint64(0); maxFrames == 0 || i < maxFrames; i++ {
		if ctx.Err() != nil {
			return nil
		}
		running, err := p.ProcessFrame(i)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
	}
	return nil
}

// Stop asks the loop to end after the current tick.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop = true
}

// Destroy releases every resource Init acquired, most recent first. It
// may be called more than once.
func (p *Pipeline) Destroy() error {
	var errs []error
	for i := len(p.releases) - 1; i >= 0; i-- {
		r := p.releases[i]
		if err := r.fn(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
		}
		diagf("released %s", r.name)
	}
	p.releases = nil
	p.mu.Lock()
	p.scheduler = nil
	p.rings = [2]*camera.FrameRing{}
	p.mu.Unlock()
	return errors.Join(errs...)
}

// Status returns the pipeline's current counters.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		FramesProcessed: p.processed,
		LastOutcome:     p.lastOutcome,
	}
	s.Initialized = p.scheduler != nil
	s.MeshOrder = p.cfg.GetMeshOrder().String()
	s.DelayBetweenEyes = p.cfg.GetDelayBetweenEyes()
	s.Pacing = p.pacer.State()
	s.VsyncObserved = p.frameClock.Observed()
	s.VsyncCorrections = p.frameClock.Corrections()
	s.Rings = make(map[string]camera.RingStats, 2)
	for _, eye := range camera.Eyes {
		if r := p.rings[eye]; r != nil {
			s.Rings[eye.String()] = r.Stats()
		}
	}
	return s
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() *config.PipelineConfig {
	return p.cfg
}
