//go:build !linux

package timeutil

func monotonicNanos() int64 {
	return fallbackNanos()
}
