// Package timeutil provides a testable abstraction over the clocks the
// render loop depends on.
//
// Two timebases are exposed. Now is wall-clock time for logs and storage.
// NowNanos is a monotonic nanosecond counter on the same timebase the
// display reports vsync timestamps in, and is what all pacing arithmetic uses.
package timeutil

import (
	"slices"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// NowNanos returns the current monotonic time in nanoseconds.
	NowNanos() int64

	// Sleep pauses for the specified duration. Non-positive durations
	// return immediately.
	Sleep(d time.Duration)

	// NewTicker returns a new Ticker containing a channel that will
	// send the time with a period specified by the duration argument.
	NewTicker(d time.Duration) Ticker
}

// Ticker holds a channel that delivers "ticks" of a clock at intervals.
type Ticker interface {
	// C returns the channel on which the ticks are delivered.
	C() <-chan time.Time

	// Stop turns off a ticker.
	Stop()

	// Reset stops a ticker and resets its period to the specified duration.
	Reset(d time.Duration)
}

// RealClock implements Clock using the standard time package and the
// platform monotonic clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// NowNanos returns the platform monotonic clock in nanoseconds.
func (RealClock) NowNanos() int64 {
	return monotonicNanos()
}

// Sleep pauses the current goroutine for at least the duration d.
func (RealClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// NewTicker returns a new Ticker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }
func (t *realTicker) Reset(d time.Duration) {
	t.ticker.Reset(d)
}

// MockClock is a manually controlled clock for testing. Both timebases
// move together: NowNanos starts at zero and Now is the start time plus
// the elapsed virtual nanoseconds.
//
// Sleep advances virtual time by the requested duration, so a render loop
// driven by a MockClock runs its full schedule without real waiting.
type MockClock struct {
	mu      sync.Mutex
	start   time.Time
	nanos   int64
	sleeps  []time.Duration
	tickers []*MockTicker
	hooks   []func(nowNanos int64)
}

// NewMockClock creates a new MockClock whose wall clock reads t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{start: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.nanos))
}

// NowNanos returns the mocked monotonic time.
func (c *MockClock) NowNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nanos
}

// SetNanos moves the monotonic clock to an absolute value without firing
// tickers or hooks. Moving backwards is allowed so tests can model a
// misbehaving clock source.
func (c *MockClock) SetNanos(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nanos = n
}

// OnAdvance registers fn to be called with the new monotonic time after
// every Advance and Sleep. Tests use it to deliver vsync events and camera
// frames as virtual time passes.
func (c *MockClock) OnAdvance(fn func(nowNanos int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Advance moves the mock clock forward by the given duration, fires any
// expired tickers and runs the OnAdvance hooks.
func (c *MockClock) Advance(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.nanos += int64(d)
	now := c.nanos
	wall := c.start.Add(time.Duration(now))
	tickers := append([]*MockTicker(nil), c.tickers...)
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()

	for _, t := range tickers {
		t.checkAndFire(now, wall)
	}
	for _, fn := range hooks {
		fn(now)
	}
}

// Sleep records the sleep duration and advances virtual time by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	if d > 0 {
		c.Advance(d)
	}
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// NewTicker creates a MockTicker that fires when virtual time crosses each
// multiple of d after now.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		periodNs: int64(d),
		nextNs:   c.nanos + int64(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// MockTicker is a ticker driven by MockClock.Advance. Like time.Ticker it
// buffers one tick and drops ticks the reader is too slow for, but keeps
// its phase.
type MockTicker struct {
	clock *MockClock

	mu       sync.Mutex
	ch       chan time.Time
	periodNs int64
	nextNs   int64
	stopped  bool
}

// C returns the ticker channel.
func (t *MockTicker) C() <-chan time.Time {
	return t.ch
}

// Stop turns off the ticker.
func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Reset restarts the ticker with period d from the current virtual time.
func (t *MockTicker) Reset(d time.Duration) {
	now := t.clock.NowNanos()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = false
	t.periodNs = int64(d)
	t.nextNs = now + int64(d)
}

func (t *MockTicker) checkAndFire(nowNs int64, wall time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || nowNs < t.nextNs {
		return
	}
	select {
	case t.ch <- wall:
	default:
	}
	for t.nextNs <= nowNs {
		t.nextNs += t.periodNs
	}
}
