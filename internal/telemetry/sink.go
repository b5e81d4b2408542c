package telemetry

import (
	"sync"
	"sync/atomic"
)

type sinkEvent struct {
	window *Window
	jank   *JankEvent
}

// AsyncSink forwards events to a slower sink on its own goroutine. Events
// arriving while the buffer is full are dropped and counted.
type AsyncSink struct {
	next    Sink
	ch      chan sinkEvent
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsyncSink starts forwarding to next with the given buffer size.
func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 64
	}
	a := &AsyncSink{
		next: next,
		ch:   make(chan sinkEvent, buffer),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncSink) loop() {
	defer close(a.done)
	for ev := range a.ch {
		switch {
		case ev.window != nil:
			a.next.OnWindow(*ev.window)
		case ev.jank != nil:
			a.next.OnJank(*ev.jank)
		}
	}
}

func (a *AsyncSink) enqueue(ev sinkEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		n := a.dropped.Add(1)
		opsf("async sink full, event dropped (%d total)", n)
	}
}

// OnWindow implements Sink.
func (a *AsyncSink) OnWindow(w Window) { a.enqueue(sinkEvent{window: &w}) }

// OnJank implements Sink.
func (a *AsyncSink) OnJank(e JankEvent) { a.enqueue(sinkEvent{jank: &e}) }

// Dropped returns the number of events dropped.
func (a *AsyncSink) Dropped() uint64 { return a.dropped.Load() }

// Close drains pending events and stops the goroutine.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are ignored.
type SinkFuncs struct {
	Window func(Window)
	Jank   func(JankEvent)
}

// OnWindow implements Sink.
func (f SinkFuncs) OnWindow(w Window) {
	if f.Window != nil {
		f.Window(w)
	}
}

// OnJank implements Sink.
func (f SinkFuncs) OnJank(e JankEvent) {
	if f.Jank != nil {
		f.Jank(e)
	}
}
