package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// JankKind classifies a pacing miss.
type JankKind int

const (
	// JankMidpointMiss is a frame that started after the target point of
	// its period.
	JankMidpointMiss JankKind = iota
	// JankVsyncCorrection is a vsync estimate advanced by dead reckoning.
	JankVsyncCorrection
	// JankEyeOverrun is a first eye that took half a period or more.
	JankEyeOverrun
)

func (k JankKind) String() string {
	switch k {
	case JankMidpointMiss:
		return "midpoint_miss"
	case JankVsyncCorrection:
		return "vsync_correction"
	case JankEyeOverrun:
		return "eye_overrun"
	default:
		return fmt.Sprintf("JankKind(%d)", int(k))
	}
}

// ParseJankKind is the inverse of JankKind.String.
func ParseJankKind(s string) (JankKind, error) {
	for _, k := range [...]JankKind{JankMidpointMiss, JankVsyncCorrection, JankEyeOverrun} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown jank kind %q", s)
}

// JankEvent is a single pacing miss.
type JankEvent struct {
	Kind       JankKind `json:"-"`
	KindName   string   `json:"kind"`
	FrameIndex uint64   `json:"frame_index"`
	AtNs       int64    `json:"at_ns"`
}

// Window summarises one telemetry window.
type Window struct {
	Index            uint64  `json:"index"`
	StartNs          int64   `json:"start_ns"`
	EndNs            int64   `json:"end_ns"`
	FrameCount       int     `json:"frame_count"`
	DurationNs       int64   `json:"duration_ns"`
	FPS              float64 `json:"fps"`
	MeanIntervalNs   float64 `json:"mean_interval_ns"`
	StddevIntervalNs float64 `json:"stddev_interval_ns"`
	MaxIntervalNs    int64   `json:"max_interval_ns"`
	MidpointMisses   int     `json:"midpoint_misses"`
	VsyncCorrections int     `json:"vsync_corrections"`
	EyeOverruns      int     `json:"eye_overruns"`
	Skipped          int     `json:"skipped"`
	LatencyWarnings  int     `json:"latency_warnings"`
}

// JankCount returns the total pacing misses in the window.
func (w Window) JankCount() int {
	return w.MidpointMisses + w.VsyncCorrections + w.EyeOverruns
}

// Sink receives completed windows and jank events. Implementations are
// called on the render goroutine and must not block; wrap slow sinks in
// an AsyncSink.
type Sink interface {
	OnWindow(w Window)
	OnJank(e JankEvent)
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Window                 time.Duration
	CommitLatencyThreshold time.Duration
	// KeepWindows bounds the in-memory window history; 0 keeps 120.
	KeepWindows int
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	TotalFrames     uint64            `json:"total_frames"`
	WindowFrames    int               `json:"window_frames"`
	WindowsClosed   uint64            `json:"windows_closed"`
	LastWindow      *Window           `json:"last_window,omitempty"`
	Jank            map[string]uint64 `json:"jank"`
	Outcomes        map[string]uint64 `json:"outcomes"`
	LatencyWarnings uint64            `json:"latency_warnings"`
}

// Collector accumulates per-frame commits into fixed-duration windows.
// It is safe for concurrent use; the render goroutine writes and status
// handlers read.
type Collector struct {
	mu          sync.Mutex
	windowNs    int64
	thresholdNs int64
	keep        int
	sinks       []Sink

	totalFrames uint64
	started     bool
	hasCommit   bool
	lastCommit  int64
	cur         Window
	intervals   []float64

	windowIndex     uint64
	history         []Window
	jankTotals      map[JankKind]uint64
	outcomes        map[string]uint64
	latencyWarnings uint64
}

// NewCollector returns a collector publishing to sinks.
func NewCollector(cfg CollectorConfig, sinks ...Sink) (*Collector, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("telemetry window must be positive, got %v", cfg.Window)
	}
	if cfg.CommitLatencyThreshold <= 0 {
		return nil, fmt.Errorf("commit latency threshold must be positive, got %v", cfg.CommitLatencyThreshold)
	}
	keep := cfg.KeepWindows
	if keep <= 0 {
		keep = 120
	}
	return &Collector{
		windowNs:    int64(cfg.Window),
		thresholdNs: int64(cfg.CommitLatencyThreshold),
		keep:        keep,
		sinks:       sinks,
		intervals:   make([]float64, 0, 256),
		jankTotals:  make(map[JankKind]uint64),
		outcomes:    make(map[string]uint64),
	}, nil
}

// AddSink registers another sink.
func (c *Collector) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// RecordFrame records a frame committed to the display at nowNs. Windows
// are half-open: the first frame at or past the window's end closes it
// and is counted in the next one, so FPS is frames over duration.
func (c *Collector) RecordFrame(nowNs int64) {
	c.mu.Lock()

	c.totalFrames++
	if !c.started {
		c.started = true
		c.cur.StartNs = nowNs
	}

	if c.hasCommit {
		interval := nowNs - c.lastCommit
		c.intervals = append(c.intervals, float64(interval))
		if interval > c.cur.MaxIntervalNs {
			c.cur.MaxIntervalNs = interval
		}
		if interval > c.thresholdNs {
			c.cur.LatencyWarnings++
			c.latencyWarnings++
			opsf("commit latency %.3fms exceeds %.3fms (frame %d)",
				float64(interval)/1e6, float64(c.thresholdNs)/1e6, c.totalFrames)
		}
	}
	c.hasCommit = true
	c.lastCommit = nowNs
	tracef("commit frame=%d t=%d", c.totalFrames, nowNs)

	var closed *Window
	if c.cur.FrameCount > 0 && nowNs-c.cur.StartNs >= c.windowNs {
		w := c.closeWindow(nowNs)
		closed = &w
	}
	c.cur.FrameCount++
	sinks := c.sinks
	c.mu.Unlock()

	if closed == nil {
		return
	}
	w := *closed
	diagf("window %d: fps=%.1f frames=%d interval=%.3f±%.3fms max=%.3fms jank=%d skipped=%d",
		w.Index, w.FPS, w.FrameCount, w.MeanIntervalNs/1e6, w.StddevIntervalNs/1e6,
		float64(w.MaxIntervalNs)/1e6, w.JankCount(), w.Skipped)
	for _, s := range sinks {
		s.OnWindow(w)
	}
}

// closeWindow finalises the current window ending at nowNs and starts the
// next one. Callers hold c.mu.
func (c *Collector) closeWindow(nowNs int64) Window {
	w := c.cur
	w.Index = c.windowIndex
	w.EndNs = nowNs
	w.DurationNs = nowNs - w.StartNs
	if w.DurationNs > 0 {
		w.FPS = float64(w.FrameCount) / (float64(w.DurationNs) / 1e9)
	}
	switch len(c.intervals) {
	case 0:
	case 1:
		w.MeanIntervalNs = c.intervals[0]
	default:
		w.MeanIntervalNs, w.StddevIntervalNs = stat.MeanStdDev(c.intervals, nil)
	}

	c.windowIndex++
	c.history = append(c.history, w)
	if len(c.history) > c.keep {
		c.history = c.history[len(c.history)-c.keep:]
	}
	c.cur = Window{StartNs: nowNs}
	c.intervals = c.intervals[:0]
	return w
}

// RecordJank counts a pacing miss in frame frameIndex against the current
// window.
func (c *Collector) RecordJank(kind JankKind, frameIndex uint64, nowNs int64) {
	c.mu.Lock()
	switch kind {
	case JankMidpointMiss:
		c.cur.MidpointMisses++
	case JankVsyncCorrection:
		c.cur.VsyncCorrections++
	case JankEyeOverrun:
		c.cur.EyeOverruns++
	}
	c.jankTotals[kind]++
	e := JankEvent{Kind: kind, KindName: kind.String(), FrameIndex: frameIndex, AtNs: nowNs}
	sinks := c.sinks
	c.mu.Unlock()

	for _, s := range sinks {
		s.OnJank(e)
	}
}

// RecordOutcome counts a tick outcome. Any outcome other than "success"
// counts as a skipped frame in the current window.
func (c *Collector) RecordOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
	if outcome != "success" {
		c.cur.Skipped++
	}
}

// TotalFrames returns the number of frames recorded.
func (c *Collector) TotalFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalFrames
}

// Windows returns the retained window history, oldest first.
func (c *Collector) Windows() []Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Window(nil), c.history...)
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalFrames:     c.totalFrames,
		WindowFrames:    c.cur.FrameCount,
		WindowsClosed:   c.windowIndex,
		Jank:            make(map[string]uint64, len(c.jankTotals)),
		Outcomes:        make(map[string]uint64, len(c.outcomes)),
		LatencyWarnings: c.latencyWarnings,
	}
	if n := len(c.history); n > 0 {
		last := c.history[n-1]
		s.LastWindow = &last
	}
	for k, v := range c.jankTotals {
		s.Jank[k.String()] = v
	}
	for k, v := range c.outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// OutcomeNames returns the recorded outcome names in sorted order.
func (s Snapshot) OutcomeNames() []string {
	names := make([]string, 0, len(s.Outcomes))
	for k := range s.Outcomes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
