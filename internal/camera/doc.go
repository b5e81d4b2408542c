// Package camera owns the camera side of the passthrough pipeline: the
// frame model, the stream contract a camera collaborator implements, and
// FrameRing, the fixed-capacity ring that decides which camera buffer each
// eye renders from.
//
// Frames are borrowed, never copied. A stream hands a completed frame to
// the ring, the ring keeps it until it has been displaced by newer frames,
// and then returns it to the stream with Release. Nothing on the render
// path allocates or blocks.
package camera
