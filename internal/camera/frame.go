package camera

import "fmt"

// Eye identifies one of the two passthrough cameras.
type Eye int

const (
	Left Eye = iota
	Right
)

// Eyes lists both eyes in index order.
var Eyes = [2]Eye{Left, Right}

func (e Eye) String() string {
	switch e {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Eye(%d)", int(e))
	}
}

// PixelFormat is the camera output format.
type PixelFormat int

const (
	// PixelFormatYUV420 is 8-bit YUV 4:2:0 with three planes: plane 0 is
	// luma, plane 1 is Cb and plane 2 is interleaved CrCb at half
	// resolution in both axes.
	PixelFormatYUV420 PixelFormat = iota + 1
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYUV420:
		return "yuv420"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Plane indices the renderer samples from a YUV420 frame.
const (
	PlaneLuma   = 0
	PlaneChroma = 2
)

// Plane is one image plane of a camera frame.
type Plane struct {
	Data        []byte
	StrideBytes int
	LengthBytes int
}

// Frame is one decoded camera image. It is owned by the stream that
// produced it and is only borrowed by the pipeline.
type Frame struct {
	Seq                uint64
	CaptureTimestampNs int64
	Width              int
	Height             int
	Format             PixelFormat
	Planes             []Plane
}

// PlaneCount returns the number of planes in the frame.
func (f *Frame) PlaneCount() int {
	return len(f.Planes)
}

// Plane returns plane i, or false if the frame has no such plane.
func (f *Frame) Plane(i int) (Plane, bool) {
	if i < 0 || i >= len(f.Planes) {
		return Plane{}, false
	}
	return f.Planes[i], true
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame seq=%d ts=%d %dx%d %s planes=%d",
		f.Seq, f.CaptureTimestampNs, f.Width, f.Height, f.Format, len(f.Planes))
}
