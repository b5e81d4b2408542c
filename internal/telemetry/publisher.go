package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages on the stream are structpb.Structs with a "type" field of
// "window" or "jank" and the remaining fields named as in the JSON
// encoding of Window and JankEvent. Monotonic timestamps (start_ns, end_ns,
// at_ns) are decimal strings since structpb numbers are float64.
const (
	telemetryServiceName = "passthrough.Telemetry"
	streamWindowsMethod  = "/" + telemetryServiceName + "/StreamWindows"
)

type telemetryServer interface {
	StreamWindows(req *structpb.Struct, stream grpc.ServerStream) error
}

func streamWindowsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(telemetryServer).StreamWindows(req, stream)
}

var telemetryServiceDesc = grpc.ServiceDesc{
	ServiceName: telemetryServiceName,
	HandlerType: (*telemetryServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamWindows",
			Handler:       streamWindowsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "passthrough/telemetry.proto",
}

// PublisherConfig configures the gRPC telemetry stream.
type PublisherConfig struct {
	// ListenAddr is the address to listen on, e.g. "localhost:50061".
	ListenAddr string
	// MaxClients caps concurrent streams; 0 means unlimited.
	MaxClients int
	// ClientBuffer is the per-client queue length; 0 means 16.
	ClientBuffer int
}

// DefaultPublisherConfig returns the default configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		ClientBuffer: 16,
	}
}

// Publisher streams telemetry windows and jank events to gRPC clients.
// It implements Sink; publishing never blocks the caller.
type Publisher struct {
	config   PublisherConfig
	server   *grpc.Server
	listener net.Listener

	eventCh   chan *structpb.Struct
	clients   map[string]chan *structpb.Struct
	clientsMu sync.RWMutex

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// PublisherStats reports publisher counters.
type PublisherStats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"clients"`
	Running     bool   `json:"running"`
}

// NewPublisher returns a stopped publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 16
	}
	return &Publisher{
		config:  cfg,
		eventCh: make(chan *structpb.Struct, 64),
		clients: make(map[string]chan *structpb.Struct),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.server.RegisterService(&telemetryServiceDesc, p)

	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Telemetry] gRPC stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Telemetry] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	log.Printf("[Telemetry] gRPC stream stopped")
}

// OnWindow implements Sink.
func (p *Publisher) OnWindow(w Window) {
	p.publish(windowToStruct(w))
}

// OnJank implements Sink.
func (p *Publisher) OnJank(e JankEvent) {
	p.publish(jankToStruct(e))
}

func (p *Publisher) publish(msg *structpb.Struct) {
	if !p.running.Load() || msg == nil {
		return
	}
	select {
	case p.eventCh <- msg:
		p.published.Add(1)
	default:
		n := p.dropped.Add(1)
		opsf("publisher queue full, event dropped (%d total)", n)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.eventCh:
			p.clientsMu.RLock()
			for _, ch := range p.clients {
				select {
				case ch <- msg:
				default:
					// Slow client.
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// StreamWindows serves one client until it disconnects or the publisher
// stops.
func (p *Publisher) StreamWindows(_ *structpb.Struct, stream grpc.ServerStream) error {
	if limit := p.config.MaxClients; limit > 0 && int(p.clientCount.Load()) >= limit {
		return fmt.Errorf("telemetry stream: client limit %d reached", limit)
	}

	id := uuid.NewString()
	ch := make(chan *structpb.Struct, p.config.ClientBuffer)
	p.clientsMu.Lock()
	p.clients[id] = ch
	p.clientsMu.Unlock()
	n := p.clientCount.Add(1)
	log.Printf("[Telemetry] Client connected: %s (total: %d)", id, n)

	defer func() {
		p.clientsMu.Lock()
		delete(p.clients, id)
		p.clientsMu.Unlock()
		n := p.clientCount.Add(-1)
		log.Printf("[Telemetry] Client disconnected: %s (remaining: %d)", id, n)
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case msg := <-ch:
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// StreamWindows subscribes to a publisher over conn and calls onWindow for
// each window received. It returns when ctx is cancelled, the server ends
// the stream, or onWindow returns an error. Jank events are skipped.
func StreamWindows(ctx context.Context, conn grpc.ClientConnInterface, onWindow func(Window) error) error {
	stream, err := conn.NewStream(ctx, &telemetryServiceDesc.Streams[0], streamWindowsMethod)
	if err != nil {
		return fmt.Errorf("open telemetry stream: %w", err)
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return fmt.Errorf("send telemetry request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close telemetry request: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		w, ok := WindowFromStruct(msg)
		if !ok {
			continue
		}
		if err := onWindow(w); err != nil {
			return err
		}
	}
}

func windowToStruct(w Window) *structpb.Struct {
	s, err := structpb.NewStruct(map[string]interface{}{
		"type":               "window",
		"index":              w.Index,
		"start_ns":           formatNanos(w.StartNs),
		"end_ns":             formatNanos(w.EndNs),
		"frame_count":        w.FrameCount,
		"duration_ns":        w.DurationNs,
		"fps":                w.FPS,
		"mean_interval_ns":   w.MeanIntervalNs,
		"stddev_interval_ns": w.StddevIntervalNs,
		"max_interval_ns":    w.MaxIntervalNs,
		"midpoint_misses":    w.MidpointMisses,
		"vsync_corrections":  w.VsyncCorrections,
		"eye_overruns":       w.EyeOverruns,
		"skipped":            w.Skipped,
		"latency_warnings":   w.LatencyWarnings,
	})
	if err != nil {
		opsf("encode window %d: %v", w.Index, err)
		return nil
	}
	return s
}

func jankToStruct(e JankEvent) *structpb.Struct {
	s, err := structpb.NewStruct(map[string]interface{}{
		"type":        "jank",
		"kind":        e.Kind.String(),
		"frame_index": e.FrameIndex,
		"at_ns":       formatNanos(e.AtNs),
	})
	if err != nil {
		opsf("encode jank event: %v", err)
		return nil
	}
	return s
}

// WindowFromStruct decodes a window message. ok is false for other
// message types.
func WindowFromStruct(s *structpb.Struct) (w Window, ok bool) {
	f := s.GetFields()
	if f["type"].GetStringValue() != "window" {
		return Window{}, false
	}
	num := func(k string) float64 { return f[k].GetNumberValue() }
	return Window{
		Index:            uint64(num("index")),
		StartNs:          parseNanos(f["start_ns"]),
		EndNs:            parseNanos(f["end_ns"]),
		FrameCount:       int(num("frame_count")),
		DurationNs:       int64(num("duration_ns")),
		FPS:              num("fps"),
		MeanIntervalNs:   num("mean_interval_ns"),
		StddevIntervalNs: num("stddev_interval_ns"),
		MaxIntervalNs:    int64(num("max_interval_ns")),
		MidpointMisses:   int(num("midpoint_misses")),
		VsyncCorrections: int(num("vsync_corrections")),
		EyeOverruns:      int(num("eye_overruns")),
		Skipped:          int(num("skipped")),
		LatencyWarnings:  int(num("latency_warnings")),
	}, true
}

// JankFromStruct decodes a jank message. ok is false for other message
// types.
func JankFromStruct(s *structpb.Struct) (e JankEvent, ok bool) {
	f := s.GetFields()
	if f["type"].GetStringValue() != "jank" {
		return JankEvent{}, false
	}
	name := f["kind"].GetStringValue()
	kind, _ := ParseJankKind(name)
	return JankEvent{
		Kind:       kind,
		KindName:   name,
		FrameIndex: uint64(f["frame_index"].GetNumberValue()),
		AtNs:       parseNanos(f["at_ns"]),
	}, true
}

func formatNanos(ns int64) string {
	return strconv.FormatInt(ns, 10)
}

func parseNanos(v *structpb.Value) int64 {
	ns, err := strconv.ParseInt(v.GetStringValue(), 10, 64)
	if err != nil {
		return 0
	}
	return ns
}
