package camera

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptStream returns queued results from Latest and records releases.
type scriptStream struct {
	queue    []result
	released []*Frame
	closed   int
}

type result struct {
	frame *Frame
	err   error
}

func (s *scriptStream) push(f *Frame)       { s.queue = append(s.queue, result{frame: f}) }
func (s *scriptStream) pushErr(err error)   { s.queue = append(s.queue, result{err: err}) }
func (s *scriptStream) Release(f *Frame)    { s.released = append(s.released, f) }
func (s *scriptStream) Close() error        { s.closed++; return nil }
func (s *scriptStream) Latest() (*Frame, error) {
	if len(s.queue) == 0 {
		return nil, nil
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return r.frame, r.err
}

func frame(seq uint64) *Frame {
	return &Frame{Seq: seq, CaptureTimestampNs: int64(seq) * 1000, Width: 4, Height: 4}
}

func TestNewFrameRing_Capacity(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{-1, 0, 1} {
		_, err := NewFrameRing(Left, &scriptStream{}, capacity)
		assert.ErrorIs(t, err, ErrRingCapacity, "capacity %d", capacity)
	}

	r, err := NewFrameRing(Left, &scriptStream{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Capacity())

	_, err = NewFrameRing(Right, nil, 4)
	assert.Error(t, err)
}

func TestStreamBufferCount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 6, StreamBufferCount(4))
	assert.Equal(t, 4, StreamBufferCount(2))
}

func TestFrameRing_EmptyReturnsNil(t *testing.T) {
	t.Parallel()

	r, err := NewFrameRing(Left, &scriptStream{}, 4)
	require.NoError(t, err)

	assert.Nil(t, r.AcquireLatest())
	assert.Nil(t, r.AcquireLatest())
	assert.Equal(t, RingStats{Empty: 2}, r.Stats())
}

func TestFrameRing_LatestWins(t *testing.T) {
	t.Parallel()

	s := &scriptStream{}
	r, err := NewFrameRing(Left, s, 4)
	require.NoError(t, err)

	f1 := frame(1)
	s.push(f1)
	assert.Same(t, f1, r.AcquireLatest())

	// No new frame: same frame again, repeatedly.
	assert.Same(t, f1, r.AcquireLatest())
	assert.Same(t, f1, r.AcquireLatest())

	f2 := frame(2)
	s.push(f2)
	assert.Same(t, f2, r.AcquireLatest())
	assert.Same(t, f2, r.Current())

	assert.Equal(t, RingStats{Acquired: 2, Reused: 2}, r.Stats())
	assert.Empty(t, s.released)
}

func TestFrameRing_SameFrameTwiceIsReuse(t *testing.T) {
	t.Parallel()

	s := &scriptStream{}
	r, err := NewFrameRing(Left, s, 2)
	require.NoError(t, err)

	f := frame(1)
	s.push(f)
	s.push(f)
	r.AcquireLatest()
	assert.Same(t, f, r.AcquireLatest())
	assert.Equal(t, uint64(1), r.Stats().Reused)
	assert.Empty(t, s.released)
}

func TestFrameRing_ReleasesOverwrittenSlot(t *testing.T) {
	t.Parallel()

	s := &scriptStream{}
	r, err := NewFrameRing(Right, s, 3)
	require.NoError(t, err)

	frames := make([]*Frame, 5)
	for i := range frames {
		frames[i] = frame(uint64(i + 1))
		s.push(frames[i])
		assert.Same(t, frames[i], r.AcquireLatest())
	}

	// Capacity 3: the fourth and fifth acquisitions displace the first two.
	require.Len(t, s.released, 2)
	assert.Same(t, frames[0], s.released[0])
	assert.Same(t, frames[1], s.released[1])
}

func TestFrameRing_FailedAcquireKeepsCurrent(t *testing.T) {
	t.Parallel()

	s := &scriptStream{}
	r, err := NewFrameRing(Left, s, 2)
	require.NoError(t, err)

	s.pushErr(errors.New("image unavailable"))
	assert.Nil(t, r.AcquireLatest())

	f := frame(7)
	s.push(f)
	s.pushErr(errors.New("image unavailable"))
	r.AcquireLatest()
	assert.Same(t, f, r.AcquireLatest())

	assert.Equal(t, RingStats{Acquired: 1, Failed: 2}, r.Stats())
}

func TestFrameRing_CloseReleasesAll(t *testing.T) {
	t.Parallel()

	s := &scriptStream{}
	r, err := NewFrameRing(Left, s, 4)
	require.NoError(t, err)

	f1, f2, f3 := frame(1), frame(2), frame(3)
	for _, f := range []*Frame{f1, f2, f3} {
		s.push(f)
		r.AcquireLatest()
	}

	require.NoError(t, r.Close())
	assert.Equal(t, []*Frame{f1, f2, f3}, s.released)
	assert.Equal(t, 1, s.closed)

	// Idempotent.
	require.NoError(t, r.Close())
	assert.Len(t, s.released, 3)
	assert.Equal(t, 1, s.closed)

	assert.Nil(t, r.AcquireLatest())
}
