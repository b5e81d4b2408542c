package camera

import "errors"

// ErrStreamClosed is returned by a stream used after Close.
var ErrStreamClosed = errors.New("camera stream closed")

// StreamConfig describes the stream requested from a camera.
type StreamConfig struct {
	CameraID    string
	Width       int
	Height      int
	Format      PixelFormat
	BufferCount int
}

// Stream is the camera collaborator's per-eye frame source.
type Stream interface {
	// Latest returns the most recently completed frame not yet handed
	// out, or nil if no new frame has completed. It never blocks.
	Latest() (*Frame, error)

	// Release returns a frame previously returned by Latest.
	Release(f *Frame)

	// Close stops the stream. Frames still held by the caller must be
	// released before Close.
	Close() error
}

// Opener opens camera streams.
type Opener interface {
	OpenStream(eye Eye, cfg StreamConfig) (Stream, error)
}
