//go:build linux

package timeutil

import "golang.org/x/sys/unix"

// monotonicNanos reads CLOCK_MONOTONIC, the clock display vsync
// timestamps are reported in.
func monotonicNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNanos()
	}
	return ts.Nano()
}
