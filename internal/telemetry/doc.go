// Package telemetry measures what the display actually received: frame
// commits per window, inter-frame interval jitter, jank and skipped frames.
//
// The Collector is fed from the render goroutine and never influences
// scheduling. Completed windows and jank events fan out to Sinks: the
// SQLite store, the gRPC Publisher and anything else that wants them.
package telemetry
