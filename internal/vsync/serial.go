package vsync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/passthrough/internal/timeutil"
)

// Port is the part of a serial port SerialSource uses.
type Port interface {
	io.Reader
	io.Closer
}

// PortOptions describes the UART the vsync pulses arrive on.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// ParseLine parses one pulse line: "V", "VSYNC" or "VSYNC <seq>". ok is
// false for anything else; hasSeq reports whether a sequence number was
// present.
func ParseLine(line string) (seq uint64, hasSeq bool, ok bool) {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) == 0 || (fields[0] != "V" && fields[0] != "VSYNC") {
		return 0, false, false
	}
	switch len(fields) {
	case 1:
		return 0, false, true
	case 2:
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false, false
		}
		return n, true, true
	default:
		return 0, false, false
	}
}

// SerialStats counts SerialSource activity.
type SerialStats struct {
	Pulses  uint64 `json:"pulses"`
	Missed  uint64 `json:"missed"`
	Ignored uint64 `json:"ignored"`
}

// SerialSource reads vsync pulses from a serial port. Each pulse is
// stamped with the host monotonic clock when its line is read.
type SerialSource struct {
	port  Port
	clock timeutil.Clock
	sink  Sink

	lastSeq   uint64
	haveSeq   bool
	pulses    atomic.Uint64
	missed    atomic.Uint64
	ignored   atomic.Uint64
	closeOnce sync.Once
}

// NewSerialSource reads pulses from port.
func NewSerialSource(port Port, clock timeutil.Clock, sink Sink) *SerialSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialSource{port: port, clock: clock, sink: sink}
}

// OpenSerialSource opens the UART at path.
func OpenSerialSource(path string, opts PortOptions, clock timeutil.Clock, sink Sink) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open vsync port %s: %w", path, err)
	}
	diagf("serial source on %s at %d baud", path, mode.BaudRate)
	return NewSerialSource(port, clock, sink), nil
}

// Run reads lines until ctx is done or the port reaches EOF.
func (s *SerialSource) Run(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	lineCh := make(chan string)
	scanErrCh := make(chan error, 1)

	// The blocking scan runs on its own goroutine so cancellation is not
	// held up by a quiet port.
	go func() {
		defer close(lineCh)
		for scan.Scan() {
			select {
			case lineCh <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrCh <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrCh:
			opsf("vsync port read failed: %v", err)
			return err
		case line, ok := <-lineCh:
			if !ok {
				select {
				case err := <-scanErrCh:
					return err
				default:
				}
				diagf("vsync port closed after %d pulses", s.pulses.Load())
				return nil
			}
			s.handleLine(line)
		}
	}
}

func (s *SerialSource) handleLine(line string) {
	ts := s.clock.NowNanos()
	seq, hasSeq, ok := ParseLine(line)
	if !ok {
		s.ignored.Add(1)
		tracef("ignored line %q", line)
		return
	}
	if hasSeq {
		if s.haveSeq && seq > s.lastSeq+1 {
			gap := seq - s.lastSeq - 1
			n := s.missed.Add(gap)
			opsf("missed %d vsync pulse(s) before seq %d (%d total)", gap, seq, n)
		}
		s.lastSeq = seq
		s.haveSeq = true
	}
	n := s.pulses.Add(1)
	tracef("vsync %d at %d", n, ts)
	s.sink.OnVsync(ts)
}

// Stats returns the source counters.
func (s *SerialSource) Stats() SerialStats {
	return SerialStats{
		Pulses:  s.pulses.Load(),
		Missed:  s.missed.Load(),
		Ignored: s.ignored.Load(),
	}
}

// Close closes the port.
func (s *SerialSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.port.Close()
	})
	return err
}
