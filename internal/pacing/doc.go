// Package pacing decides when each frame starts.
//
// FrameClock turns vsync timestamps, delivered from any goroutine, into an
// estimate of the most recent vsync that never lies in the future.
// FramePacer uses that estimate to sleep until the configured point in the
// refresh period (the midpoint by default) and, optionally, to space the
// two eyes half a period apart.
package pacing
