package pacing

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/passthrough/internal/timeutil"
)

// DefaultLateFraction is the share of a period added to the target when the
// midpoint of the current period has already passed: the frame starts
// at the midpoint of the next period less a tenth.
const DefaultLateFraction = 0.9

// PacerConfig configures a FramePacer.
type PacerConfig struct {
	FramePeriod     time.Duration
	HalfwayFraction float64
	// LateFraction defaults to DefaultLateFraction when zero.
	LateFraction float64
}

// PacingState is the pacer's view of the display timeline.
type PacingState struct {
	LastVsyncTimeNs int64  `json:"last_vsync_time_ns"`
	VsyncCount      uint64 `json:"vsync_count"`
	LastFrameTimeNs int64  `json:"last_frame_time_ns"`
	FramePeriodNs   int64  `json:"frame_period_ns"`
}

// MidpointPlan is the outcome of one midpoint computation.
type MidpointPlan struct {
	NowNs       int64
	VsyncDiffNs int64
	FramePct    float64
	FractFrame  float64
	WaitNs      int64
	// Jank is set when the target point had already passed and the wait
	// was pushed into the next period.
	Jank bool
	// PostWaitNs is the clock reading after the wait; zero from Plan.
	PostWaitNs int64
}

// FramePacer computes and performs the waits that align frame starts with
// the display's refresh period.
//
// Plan and the Wait methods belong to the render goroutine; State may be
// called from any goroutine.
type FramePacer struct {
	clock    timeutil.Clock
	periodNs int64
	halfway  float64
	late     float64

	mu    sync.Mutex
	state PacingState
}

// NewFramePacer validates cfg and returns a pacer sleeping on clock.
func NewFramePacer(cfg PacerConfig, clock timeutil.Clock) (*FramePacer, error) {
	if cfg.FramePeriod <= 0 {
		return nil, fmt.Errorf("frame pacer: period must be positive, got %v", cfg.FramePeriod)
	}
	if !(cfg.HalfwayFraction > 0 && cfg.HalfwayFraction < 1) {
		return nil, fmt.Errorf("frame pacer: halfway fraction %v outside (0,1)", cfg.HalfwayFraction)
	}
	late := cfg.LateFraction
	if late == 0 {
		late = DefaultLateFraction
	}
	if late < 0 || late > 1 {
		return nil, fmt.Errorf("frame pacer: late fraction %v outside [0,1]", late)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := &FramePacer{
		clock:    clock,
		periodNs: int64(cfg.FramePeriod),
		halfway:  cfg.HalfwayFraction,
		late:     late,
	}
	p.state.FramePeriodNs = p.periodNs
	diagf("pacer: period=%v halfway=%.2f late=%.2f", cfg.FramePeriod, p.halfway, p.late)
	return p, nil
}

// Plan counts a vsync and computes the wait from nowNs to the target point
// in the refresh period that contains it.
func (p *FramePacer) Plan(nowNs, vsyncEstimateNs int64) MidpointPlan {
	p.mu.Lock()
	p.state.VsyncCount++
	p.state.LastVsyncTimeNs = vsyncEstimateNs
	count := p.state.VsyncCount
	p.mu.Unlock()

	period := float64(p.periodNs)
	diff := nowNs - vsyncEstimateNs
	framePct := float64(count) + float64(diff)/period
	fract := framePct - math.Floor(framePct)

	plan := MidpointPlan{
		NowNs:       nowNs,
		VsyncDiffNs: diff,
		FramePct:    framePct,
		FractFrame:  fract,
	}
	if fract < p.halfway {
		plan.WaitNs = int64((p.halfway - fract) * period)
	} else {
		plan.WaitNs = int64((p.late + p.halfway - fract) * period)
		// A small halfway fraction can put the late target behind now;
		// aim for the same point one period on.
		if plan.WaitNs <= 0 {
			plan.WaitNs += p.periodNs
		}
		plan.Jank = true
	}
	return plan
}

// WaitForMidpoint plans and sleeps until the target point.
func (p *FramePacer) WaitForMidpoint(nowNs, vsyncEstimateNs int64) MidpointPlan {
	plan := p.Plan(nowNs, vsyncEstimateNs)
	if plan.Jank {
		opsf("midpoint missed: %.1f%% into period, waiting %.3fms", plan.FractFrame*100, float64(plan.WaitNs)/1e6)
	}
	p.clock.Sleep(time.Duration(plan.WaitNs))
	plan.PostWaitNs = p.clock.NowNanos()

	p.mu.Lock()
	p.state.LastFrameTimeNs = plan.PostWaitNs
	p.mu.Unlock()

	tracef("midpoint wait: diff=%dns fract=%.3f wait=%dns woke=%d", plan.VsyncDiffNs, plan.FractFrame, plan.WaitNs, plan.PostWaitNs)
	return plan
}

// InterEyeDelay returns how long to wait after the first eye so the second
// eye starts half a period (plus an eighth of margin) after postWaitNs.
// overran reports that the first eye took half a period or more, in which
// case no wait is inserted.
func (p *FramePacer) InterEyeDelay(firstEyeDoneNs, postWaitNs int64) (waitNs int64, overran bool) {
	delta := firstEyeDoneNs - postWaitNs
	half := p.periodNs / 2
	if delta < half {
		return half - delta + p.periodNs/8, false
	}
	return 0, true
}

// WaitBetweenEyes computes the inter-eye delay and sleeps for it.
func (p *FramePacer) WaitBetweenEyes(firstEyeDoneNs, postWaitNs int64) (waitNs int64, overran bool) {
	waitNs, overran = p.InterEyeDelay(firstEyeDoneNs, postWaitNs)
	if overran {
		opsf("first eye overran half period: %.3fms", float64(firstEyeDoneNs-postWaitNs)/1e6)
		return 0, true
	}
	p.clock.Sleep(time.Duration(waitNs))
	tracef("inter-eye wait: %dns", waitNs)
	return waitNs, false
}

// Period returns the frame period.
func (p *FramePacer) Period() time.Duration {
	return time.Duration(p.periodNs)
}

// State returns a copy of the pacing state.
func (p *FramePacer) State() PacingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
