package pacing

import (
	"fmt"
	"sync/atomic"
	"time"
)

// FrameClock holds the most recent vsync timestamp in a single-slot
// mailbox. OnVsync may be called from any goroutine and never blocks.
type FrameClock struct {
	periodNs int64

	last        atomic.Int64
	observed    atomic.Uint64
	corrections atomic.Uint64
}

// NewFrameClock returns a clock for a display refreshing every period.
func NewFrameClock(period time.Duration) (*FrameClock, error) {
	if period <= 0 {
		return nil, fmt.Errorf("frame clock: period must be positive, got %v", period)
	}
	return &FrameClock{periodNs: int64(period)}, nil
}

// OnVsync records a vsync timestamp in monotonic nanoseconds.
func (c *FrameClock) OnVsync(timestampNs int64) {
	c.last.Store(timestampNs)
	c.observed.Add(1)
}

// CurrentVsyncEstimate returns the best estimate of the last vsync at or
// before nowNs. The estimate is never after nowNs and never more than one
// period before it. corrected reports that vsync delivery had stalled and
// the estimate was advanced by whole periods.
//
// Until the first vsync arrives the clock free-runs on a period grid
// anchored at zero.
func (c *FrameClock) CurrentVsyncEstimate(nowNs int64) (estimateNs int64, corrected bool) {
	p := c.periodNs
	if c.observed.Load() == 0 {
		return nowNs - floorMod(nowNs, p), false
	}

	last := c.last.Load()
	if last > nowNs {
		last = nowNs
	}
	elapsed := nowNs - last
	if elapsed <= p {
		return last, false
	}

	periods := elapsed / p
	last += periods * p
	n := c.corrections.Add(1)
	opsf("vsync stalled: %.3fms since last vsync, advanced %d period(s) (%d corrections)",
		float64(elapsed)/1e6, periods, n)
	return last, true
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Period returns the frame period.
func (c *FrameClock) Period() time.Duration {
	return time.Duration(c.periodNs)
}

// Observed returns the number of vsync events received.
func (c *FrameClock) Observed() uint64 {
	return c.observed.Load()
}

// Corrections returns the number of estimates that had to be advanced.
func (c *FrameClock) Corrections() uint64 {
	return c.corrections.Load()
}
