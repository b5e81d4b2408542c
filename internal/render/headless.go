package render

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/passthrough/internal/camera"
	"github.com/banshee-data/passthrough/internal/timeutil"
)

// Op names a Display call for error injection.
type Op string

const (
	OpUpload       Op = "upload"
	OpBeginSubArea Op = "begin_sub_area"
	OpDraw         Op = "draw"
	OpPresent      Op = "present"
)

// SubAreaCall is one recorded BeginSubArea/Draw pair.
type SubAreaCall struct {
	Rect  Rect
	Color Color
	Eye   camera.Eye
	Drawn bool
}

// HeadlessCounts summarises the calls a HeadlessDisplay has seen.
type HeadlessCounts struct {
	Uploads  int
	SubAreas int
	Draws    int
	Presents int
	Stale    int
}

// HeadlessDisplay is a Display that draws nothing. It records every call,
// can charge simulated GPU time to a clock on Draw and Present, and can be
// told to fail or go stale.
type HeadlessDisplay struct {
	mu      sync.Mutex
	extent  Extent
	clock   timeutil.Clock
	gpuTime time.Duration
	vsyncNs int64

	counts   HeadlessCounts
	calls    []SubAreaCall
	keep     int
	stale    bool
	failures map[Op]error
	closed   bool
}

// HeadlessOptions configure a HeadlessDisplay.
type HeadlessOptions struct {
	// Clock and DrawTime charge simulated GPU time per Draw. Zero disables.
	Clock    timeutil.Clock
	DrawTime time.Duration

	// VsyncPeriod makes Present block on Clock until the next multiple of
	// the period, like a FIFO swapchain. Zero returns immediately.
	VsyncPeriod time.Duration

	// KeepCalls bounds the recorded sub-area log; 0 keeps 64.
	KeepCalls int
}

// NewHeadlessDisplay returns a display of the surface's extent.
func NewHeadlessDisplay(s Surface, opts HeadlessOptions) *HeadlessDisplay {
	keep := opts.KeepCalls
	if keep <= 0 {
		keep = 64
	}
	return &HeadlessDisplay{
		extent:   s.Extent(),
		clock:    opts.Clock,
		gpuTime:  opts.DrawTime,
		vsyncNs:  int64(opts.VsyncPeriod),
		keep:     keep,
		failures: make(map[Op]error),
	}
}

// HeadlessOpener returns an Opener producing HeadlessDisplays.
func HeadlessOpener(opts HeadlessOptions) Opener {
	return func(s Surface) (Display, error) {
		if s.Width <= 0 || s.Height <= 0 {
			return nil, fmt.Errorf("headless display: invalid surface %dx%d", s.Width, s.Height)
		}
		return NewHeadlessDisplay(s, opts), nil
	}
}

// Extent implements Display.
func (d *HeadlessDisplay) Extent() Extent {
	return d.extent
}

// UploadPlane implements Display.
func (d *HeadlessDisplay) UploadPlane(eye camera.Eye, index int, plane camera.Plane) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(OpUpload); err != nil {
		return err
	}
	if plane.LengthBytes > len(plane.Data) {
		return fmt.Errorf("upload %s plane %d: length %d exceeds data %d", eye, index, plane.LengthBytes, len(plane.Data))
	}
	d.counts.Uploads++
	return nil
}

// BeginSubArea implements Display.
func (d *HeadlessDisplay) BeginSubArea(r Rect, c Color) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(OpBeginSubArea); err != nil {
		return err
	}
	if r.X < 0 || r.Y < 0 || r.X+r.Width > d.extent.Width || r.Y+r.Height > d.extent.Height {
		return fmt.Errorf("sub-area %s outside %dx%d", r, d.extent.Width, d.extent.Height)
	}
	d.counts.SubAreas++
	d.calls = append(d.calls, SubAreaCall{Rect: r, Color: c})
	if len(d.calls) > d.keep {
		d.calls = d.calls[len(d.calls)-d.keep:]
	}
	return nil
}

// Draw implements Display.
func (d *HeadlessDisplay) Draw(eye camera.Eye) error {
	d.mu.Lock()
	if err := d.takeFailure(OpDraw); err != nil {
		d.mu.Unlock()
		return err
	}
	if n := len(d.calls); n > 0 && !d.calls[n-1].Drawn {
		d.calls[n-1].Eye = eye
		d.calls[n-1].Drawn = true
	}
	d.counts.Draws++
	clock, gpu := d.clock, d.gpuTime
	d.mu.Unlock()

	if clock != nil && gpu > 0 {
		clock.Sleep(gpu)
	}
	return nil
}

// Present implements Display.
func (d *HeadlessDisplay) Present() error {
	d.mu.Lock()
	if err := d.takeFailure(OpPresent); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.stale {
		d.counts.Stale++
		d.mu.Unlock()
		return ErrSurfaceStale
	}
	d.counts.Presents++
	clock, period := d.clock, d.vsyncNs
	d.mu.Unlock()

	if clock != nil && period > 0 {
		now := clock.NowNanos()
		next := (now/period + 1) * period
		clock.Sleep(time.Duration(next - now))
	}
	return nil
}

// IsSurfaceStale implements Display.
func (d *HeadlessDisplay) IsSurfaceStale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stale
}

// Close implements Display.
func (d *HeadlessDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SetStale marks the surface stale or fresh.
func (d *HeadlessDisplay) SetStale(stale bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stale = stale
}

// FailNext makes the next call of op return err.
func (d *HeadlessDisplay) FailNext(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

func (d *HeadlessDisplay) takeFailure(op Op) error {
	err, ok := d.failures[op]
	if !ok {
		return nil
	}
	delete(d.failures, op)
	return err
}

// Counts returns the call counters.
func (d *HeadlessDisplay) Counts() HeadlessCounts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// SubAreas returns the most recent sub-area calls, oldest first.
func (d *HeadlessDisplay) SubAreas() []SubAreaCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SubAreaCall(nil), d.calls...)
}

// Reset clears the recorded calls and counters.
func (d *HeadlessDisplay) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts = HeadlessCounts{}
	d.calls = nil
}

// Closed reports whether Close has been called.
func (d *HeadlessDisplay) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
