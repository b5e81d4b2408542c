package timeutil

import "time"

var processStart = time.Now()

// fallbackNanos derives a monotonic nanosecond counter from the Go
// runtime's monotonic reading, anchored at process start.
func fallbackNanos() int64 {
	return int64(time.Since(processStart))
}
