package render

import (
	"errors"

	"github.com/banshee-data/passthrough/internal/camera"
)

// ErrSurfaceStale is returned by Present when the presentation surface no
// longer matches the display and must be recreated.
var ErrSurfaceStale = errors.New("presentation surface out of date")

// Surface identifies the window the display presents to.
type Surface struct {
	Name   string
	Width  int
	Height int
}

// Extent returns the surface size.
func (s Surface) Extent() Extent {
	return Extent{Width: s.Width, Height: s.Height}
}

// Display is the GPU/display collaborator. Calls for one frame arrive in
// the order UploadPlane, BeginSubArea/Draw per assignment, Present.
type Display interface {
	Extent() Extent

	// UploadPlane makes plane index of eye's current frame available to
	// the shader.
	UploadPlane(eye camera.Eye, index int, plane camera.Plane) error

	// BeginSubArea restricts drawing to r and clears it to c.
	BeginSubArea(r Rect, c Color) error

	// Draw samples eye's uploaded planes into the current sub-area.
	Draw(eye camera.Eye) error

	// Present submits the frame. A stale surface is reported as an error
	// together with IsSurfaceStale returning true.
	Present() error

	// IsSurfaceStale reports whether the surface is out of date.
	IsSurfaceStale() bool

	Close() error
}

// Opener creates a Display for a surface.
type Opener func(s Surface) (Display, error)
