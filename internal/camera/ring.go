package camera

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrRingCapacity is returned when a ring is built with fewer than two slots.
var ErrRingCapacity = errors.New("frame ring capacity must be at least 2")

// StreamBufferCount returns the number of buffers to request from a camera
// feeding a ring of the given capacity. The two extra buffers cover the
// frame the producer is writing and the completed frame waiting to be
// acquired, so the producer never has to touch a slot the ring holds.
func StreamBufferCount(capacity int) int {
	return capacity + 2
}

// RingStats counts AcquireLatest results.
type RingStats struct {
	Acquired uint64 `json:"acquired"` // a new frame was taken from the stream
	Reused   uint64 `json:"reused"`   // no new frame, the held frame was returned again
	Empty    uint64 `json:"empty"`    // no frame has ever been received
	Failed   uint64 `json:"failed"`   // the stream reported an error
}

// FrameRing holds the last Capacity frames acquired from one stream.
//
// FrameRing is not safe for concurrent use; it belongs to the render
// goroutine. Stats may be read from any goroutine.
type FrameRing struct {
	eye    Eye
	stream Stream
	slots  []*Frame
	cur    int
	closed bool

	acquired atomic.Uint64
	reused   atomic.Uint64
	empty    atomic.Uint64
	failed   atomic.Uint64
}

// NewFrameRing creates a ring of the given capacity over stream.
func NewFrameRing(eye Eye, stream Stream, capacity int) (*FrameRing, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrRingCapacity, capacity)
	}
	if stream == nil {
		return nil, fmt.Errorf("frame ring for %s eye: nil stream", eye)
	}
	return &FrameRing{
		eye:    eye,
		stream: stream,
		slots:  make([]*Frame, capacity),
		// The first acquisition wraps to slot 0.
		cur: capacity - 1,
	}, nil
}

// Capacity returns the number of slots.
func (r *FrameRing) Capacity() int {
	return len(r.slots)
}

// Current returns the frame in the current slot without acquiring.
func (r *FrameRing) Current() *Frame {
	return r.slots[r.cur]
}

// AcquireLatest makes the stream's newest frame current and returns it.
// When the stream has nothing new, or fails, the current frame is
// returned again; that is nil until the first frame arrives.
func (r *FrameRing) AcquireLatest() *Frame {
	if r.closed {
		return nil
	}

	f, err := r.stream.Latest()
	if err != nil {
		n := r.failed.Add(1)
		opsf("%s: acquire failed (%d total), re-using frame: %v", r.eye, n, err)
		return r.slots[r.cur]
	}

	if f == nil || f == r.slots[r.cur] {
		if r.slots[r.cur] == nil {
			r.empty.Add(1)
		} else {
			r.reused.Add(1)
		}
		return r.slots[r.cur]
	}

	r.cur++
	if r.cur == len(r.slots) {
		r.cur = 0
	}
	if old := r.slots[r.cur]; old != nil {
		r.stream.Release(old)
	}
	r.slots[r.cur] = f
	r.acquired.Add(1)
	tracef("%s: slot %d <- %s", r.eye, r.cur, f)
	return f
}

// Stats returns a snapshot of the acquisition counters.
func (r *FrameRing) Stats() RingStats {
	return RingStats{
		Acquired: r.acquired.Load(),
		Reused:   r.reused.Load(),
		Empty:    r.empty.Load(),
		Failed:   r.failed.Load(),
	}
}

// Close releases every held frame, oldest first, and closes the stream.
// It is safe to call more than once.
func (r *FrameRing) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	n := len(r.slots)
	for i := 1; i <= n; i++ {
		idx := (r.cur + i) % n
		if f := r.slots[idx]; f != nil {
			r.stream.Release(f)
			r.slots[idx] = nil
		}
	}
	diagf("%s: ring closed after %d acquisitions", r.eye, r.acquired.Load())
	return r.stream.Close()
}
