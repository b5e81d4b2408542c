// Package vsync delivers display vsync timestamps to the frame clock.
//
// A source stamps each vsync with the host monotonic clock and calls
// Sink.OnVsync from its own goroutine. TickerSource models the display in
// software; SerialSource reads pulses from a UART wired to the panel's
// vsync line.
package vsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/passthrough/internal/timeutil"
)

// Sink receives vsync timestamps in monotonic nanoseconds. OnVsync must
// not block.
type Sink interface {
	OnVsync(timestampNs int64)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(timestampNs int64)

// OnVsync implements Sink.
func (f SinkFunc) OnVsync(timestampNs int64) { f(timestampNs) }

// Source produces vsync events until its context ends.
type Source interface {
	Run(ctx context.Context) error
}

// TickerSource emits a vsync every period on clock.
type TickerSource struct {
	clock  timeutil.Clock
	period time.Duration
	sink   Sink
	count  atomic.Uint64
}

// NewTickerSource returns a software vsync source.
func NewTickerSource(clock timeutil.Clock, period time.Duration, sink Sink) *TickerSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &TickerSource{clock: clock, period: period, sink: sink}
}

// Run ticks until ctx is done. It returns ctx.Err().
func (s *TickerSource) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()
	diagf("ticker source: period %v", s.period)
	for {
		select {
		case <-ctx.Done():
			diagf("ticker source stopped after %d pulses", s.count.Load())
			return ctx.Err()
		case <-ticker.C():
			ts := s.clock.NowNanos()
			n := s.count.Add(1)
			tracef("vsync %d at %d", n, ts)
			s.sink.OnVsync(ts)
		}
	}
}

// Count returns the number of vsyncs delivered.
func (s *TickerSource) Count() uint64 {
	return s.count.Load()
}
