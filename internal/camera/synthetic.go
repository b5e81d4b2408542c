package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/passthrough/internal/timeutil"
)

// SyntheticStream is a camera stream backed by a fixed pool of frames.
// A producer calls Emit at the camera rate; each emitted frame is
// published through an atomic pointer, so the consumer's Latest only
// ever swaps a pointer. Frames are filled with a luma gradient that
// moves one row per frame.
type SyntheticStream struct {
	eye  Eye
	cfg  StreamConfig
	free chan *Frame

	pending atomic.Pointer[Frame]
	seq     atomic.Uint64
	emitted atomic.Uint64
	dropped atomic.Uint64
	closed  atomic.Bool
}

// NewSyntheticStream allocates cfg.BufferCount frames for eye.
func NewSyntheticStream(eye Eye, cfg StreamConfig) (*SyntheticStream, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic %s stream: invalid size %dx%d", eye, cfg.Width, cfg.Height)
	}
	if cfg.BufferCount < 1 {
		return nil, fmt.Errorf("synthetic %s stream: buffer count %d", eye, cfg.BufferCount)
	}
	if cfg.Format == 0 {
		cfg.Format = PixelFormatYUV420
	}
	if cfg.Format != PixelFormatYUV420 {
		return nil, fmt.Errorf("synthetic %s stream: unsupported format %s", eye, cfg.Format)
	}

	s := &SyntheticStream{
		eye:  eye,
		cfg:  cfg,
		free: make(chan *Frame, cfg.BufferCount),
	}
	for i := 0; i < cfg.BufferCount; i++ {
		s.free <- newYUV420Frame(cfg.Width, cfg.Height)
	}
	diagf("%s: synthetic stream %q %dx%d, %d buffers", eye, cfg.CameraID, cfg.Width, cfg.Height, cfg.BufferCount)
	return s, nil
}

func newYUV420Frame(w, h int) *Frame {
	cw, ch := (w+1)/2, (h+1)/2
	luma := w * h
	cb := cw * ch
	crcb := cw * 2 * ch
	return &Frame{
		Width:  w,
		Height: h,
		Format: PixelFormatYUV420,
		Planes: []Plane{
			{Data: make([]byte, luma), StrideBytes: w, LengthBytes: luma},
			{Data: make([]byte, cb), StrideBytes: cw, LengthBytes: cb},
			{Data: make([]byte, crcb), StrideBytes: cw * 2, LengthBytes: crcb},
		},
	}
}

// Emit publishes a new frame captured at nowNs. It reports false when
// every buffer is held by the consumer and the frame had to be dropped.
// A published frame that was never taken is recycled.
func (s *SyntheticStream) Emit(nowNs int64) bool {
	if s.closed.Load() {
		return false
	}
	var f *Frame
	select {
	case f = <-s.free:
	default:
		n := s.dropped.Add(1)
		opsf("%s: no free buffer, frame dropped (%d total)", s.eye, n)
		return false
	}

	seq := s.seq.Add(1)
	f.Seq = seq
	f.CaptureTimestampNs = nowNs
	fillGradient(f, seq)

	if old := s.pending.Swap(f); old != nil {
		s.recycle(old)
	}
	s.emitted.Add(1)
	return true
}

func fillGradient(f *Frame, seq uint64) {
	luma := f.Planes[PlaneLuma]
	for y := 0; y < f.Height; y++ {
		v := byte(uint64(y) + seq)
		row := luma.Data[y*luma.StrideBytes : y*luma.StrideBytes+f.Width]
		for x := range row {
			row[x] = v
		}
	}
	chroma := f.Planes[PlaneChroma].Data
	for i := range chroma {
		chroma[i] = 128
	}
}

// Latest implements Stream.
func (s *SyntheticStream) Latest() (*Frame, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	return s.pending.Swap(nil), nil
}

// Release implements Stream.
func (s *SyntheticStream) Release(f *Frame) {
	if f == nil {
		return
	}
	s.recycle(f)
}

func (s *SyntheticStream) recycle(f *Frame) {
	select {
	case s.free <- f:
	default:
		// More releases than buffers means a frame was released twice.
		opsf("%s: release of frame seq=%d overflowed the pool", s.eye, f.Seq)
	}
}

// Close implements Stream.
func (s *SyntheticStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if f := s.pending.Swap(nil); f != nil {
		s.recycle(f)
	}
	diagf("%s: synthetic stream closed, emitted=%d dropped=%d", s.eye, s.emitted.Load(), s.dropped.Load())
	return nil
}

// Emitted returns the number of frames published.
func (s *SyntheticStream) Emitted() uint64 { return s.emitted.Load() }

// Dropped returns the number of frames dropped for lack of a free buffer.
func (s *SyntheticStream) Dropped() uint64 { return s.dropped.Load() }

// Free returns the number of buffers currently in the pool.
func (s *SyntheticStream) Free() int { return len(s.free) }

// Run emits a frame every period until ctx is done or the stream is closed.
func (s *SyntheticStream) Run(ctx context.Context, clock timeutil.Clock, period time.Duration) {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if s.closed.Load() {
				return
			}
			s.Emit(clock.NowNanos())
		}
	}
}

// SyntheticOpener opens SyntheticStreams and remembers them so a host can
// drive them.
type SyntheticOpener struct {
	mu      sync.Mutex
	streams map[Eye]*SyntheticStream
}

// NewSyntheticOpener returns an empty opener.
func NewSyntheticOpener() *SyntheticOpener {
	return &SyntheticOpener{streams: make(map[Eye]*SyntheticStream)}
}

// OpenStream implements Opener.
func (o *SyntheticOpener) OpenStream(eye Eye, cfg StreamConfig) (Stream, error) {
	s, err := NewSyntheticStream(eye, cfg)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.streams[eye] = s
	o.mu.Unlock()
	return s, nil
}

// Stream returns the stream opened for eye, if any.
func (o *SyntheticOpener) Stream(eye Eye) (*SyntheticStream, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.streams[eye]
	return s, ok
}

// EmitAll emits one frame on every open stream.
func (o *SyntheticOpener) EmitAll(nowNs int64) {
	for _, eye := range Eyes {
		if s, ok := o.Stream(eye); ok {
			s.Emit(nowNs)
		}
	}
}

// Run drives every open stream at period until ctx is done.
func (o *SyntheticOpener) Run(ctx context.Context, clock timeutil.Clock, period time.Duration) {
	var wg sync.WaitGroup
	for _, eye := range Eyes {
		s, ok := o.Stream(eye)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(ctx, clock, period)
		}()
	}
	wg.Wait()
}
