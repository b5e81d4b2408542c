// Package monitoring holds the process-wide logging setup for the
// passthrough binary.
//
// Core packages log through three streams (ops, diag, trace), each
// configured with SetLogWriters in that package. Writers maps a single
// --log-level flag onto the three writers so the binary can configure every
// package the same way.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level selects which log streams are enabled. Each level includes the
// streams of the levels before it.
type Level int

const (
	LevelOff Level = iota
	LevelOps
	LevelDiag
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelOps:
		return "ops"
	case LevelDiag:
		return "diag"
	case LevelTrace:
		return "trace"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel parses a --log-level value.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LevelOff, nil
	case "ops", "":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelOff, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", s)
}

// Streams are the three writers handed to each package's SetLogWriters.
// A nil writer disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Writers returns the streams enabled at level, all routed to w.
func Writers(level Level, w io.Writer) Streams {
	var s Streams
	if level >= LevelOps {
		s.Ops = w
	}
	if level >= LevelDiag {
		s.Diag = w
	}
	if level >= LevelTrace {
		s.Trace = w
	}
	return s
}
