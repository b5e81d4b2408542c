package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/passthrough/internal/camera"
)

// ErrUnknownMeshOrder is returned by ParseMeshOrder for unrecognised names.
var ErrUnknownMeshOrder = errors.New("unknown mesh order")

// MeshOrder selects the order in which display sub-areas are drawn.
type MeshOrder int

const (
	LeftToRight MeshOrder = iota
	RightToLeft
	TopToBottom
	BottomToTop
)

var meshOrderNames = map[MeshOrder]string{
	LeftToRight: "left_to_right",
	RightToLeft: "right_to_left",
	TopToBottom: "top_to_bottom",
	BottomToTop: "bottom_to_top",
}

func (m MeshOrder) String() string {
	if s, ok := meshOrderNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MeshOrder(%d)", int(m))
}

// Valid reports whether m is one of the four defined orders.
func (m MeshOrder) Valid() bool {
	_, ok := meshOrderNames[m]
	return ok
}

// ParseMeshOrder parses a snake_case mesh order name. Case is ignored.
func ParseMeshOrder(s string) (MeshOrder, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range meshOrderNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMeshOrder, s)
}

// Area is a named sub-area of the display.
type Area int

const (
	AreaLeft Area = iota
	AreaRight
	AreaUpperLeft
	AreaUpperRight
	AreaLowerLeft
	AreaLowerRight
)

func (a Area) String() string {
	switch a {
	case AreaLeft:
		return "left"
	case AreaRight:
		return "right"
	case AreaUpperLeft:
		return "upper_left"
	case AreaUpperRight:
		return "upper_right"
	case AreaLowerLeft:
		return "lower_left"
	case AreaLowerRight:
		return "lower_right"
	default:
		return fmt.Sprintf("Area(%d)", int(a))
	}
}

// Extent is the size of the display surface in pixels.
type Extent struct {
	Width  int
	Height int
}

// Rect is a pixel rectangle on the display.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Rect returns the rectangle the area covers on a display of extent e.
func (a Area) Rect(e Extent) Rect {
	hw, hh := e.Width/2, e.Height/2
	switch a {
	case AreaLeft:
		return Rect{0, 0, hw, e.Height}
	case AreaRight:
		return Rect{hw, 0, hw, e.Height}
	case AreaUpperLeft:
		return Rect{0, 0, hw, hh}
	case AreaUpperRight:
		return Rect{hw, 0, hw, hh}
	case AreaLowerLeft:
		return Rect{0, hh, hw, hh}
	case AreaLowerRight:
		return Rect{hw, hh, hw, hh}
	default:
		return Rect{}
	}
}

// Color is an RGBA clear colour with components in [0,1].
type Color struct {
	R, G, B, A float32
}

var (
	Red    = Color{1, 0, 0, 1}
	Green  = Color{0, 1, 0, 1}
	Yellow = Color{1, 1, 0, 1}
	Cyan   = Color{0, 1, 1, 1}
)

// ClearColor returns the colour an area is cleared to before drawing, so
// uncovered pixels identify the area on screen.
func (a Area) ClearColor() Color {
	switch a {
	case AreaLeft, AreaUpperLeft:
		return Red
	case AreaRight, AreaUpperRight:
		return Green
	case AreaLowerLeft:
		return Yellow
	case AreaLowerRight:
		return Cyan
	default:
		return Color{}
	}
}

// Assignment maps a display area to the eye whose image it shows.
type Assignment struct {
	Area Area
	Eye  camera.Eye
}

// Pass is the set of assignments drawn together in one render pass.
type Pass []Assignment

var passTable = map[MeshOrder][2]Pass{
	LeftToRight: {
		{{AreaLeft, camera.Left}},
		{{AreaRight, camera.Right}},
	},
	RightToLeft: {
		{{AreaRight, camera.Right}},
		{{AreaLeft, camera.Left}},
	},
	TopToBottom: {
		{{AreaUpperLeft, camera.Left}, {AreaUpperRight, camera.Right}},
		{{AreaLowerLeft, camera.Left}, {AreaLowerRight, camera.Right}},
	},
	BottomToTop: {
		{{AreaLowerLeft, camera.Left}, {AreaLowerRight, camera.Right}},
		{{AreaUpperLeft, camera.Left}, {AreaUpperRight, camera.Right}},
	},
}

// Passes returns the first and second render passes for m. An invalid
// order yields two empty passes.
func (m MeshOrder) Passes() (first, second Pass) {
	p := passTable[m]
	return p[0], p[1]
}
