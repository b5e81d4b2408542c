package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/passthrough/internal/api"
	"github.com/banshee-data/passthrough/internal/camera"
	"github.com/banshee-data/passthrough/internal/config"
	"github.com/banshee-data/passthrough/internal/db"
	"github.com/banshee-data/passthrough/internal/monitoring"
	"github.com/banshee-data/passthrough/internal/pacing"
	"github.com/banshee-data/passthrough/internal/render"
	"github.com/banshee-data/passthrough/internal/stereo"
	"github.com/banshee-data/passthrough/internal/telemetry"
	"github.com/banshee-data/passthrough/internal/timeutil"
	"github.com/banshee-data/passthrough/internal/version"
	"github.com/banshee-data/passthrough/internal/vsync"
)

var (
	configPath   = flag.String("config", "", "Path to a pipeline config JSON file (defaults built in)")
	listen       = flag.String("listen", ":8080", "HTTP listen address for the status API (empty disables)")
	grpcListen   = flag.String("grpc-listen", "localhost:50061", "gRPC listen address for the telemetry stream (empty disables)")
	dbPath       = flag.String("db", "passthrough.db", "Telemetry database path (empty disables)")
	vsyncSerial  = flag.String("vsync-serial", "", "Serial port delivering vsync pulses (empty uses a software ticker)")
	vsyncBaud    = flag.Int("vsync-baud", 115200, "Baud rate for --vsync-serial")
	cameraFPS    = flag.Float64("camera-fps", 0, "Synthetic camera frame rate (0 matches the display refresh)")
	drawTime     = flag.Duration("draw-time", 0, "Simulated GPU time per eye draw")
	surfaceW     = flag.Int("surface-width", 2560, "Display surface width in pixels")
	surfaceH     = flag.Int("surface-height", 1440, "Display surface height in pixels")
	plotOut      = flag.String("plot-out", "", "Directory to write pacing plots to on exit (empty disables)")
	logLevel     = flag.String("log-level", "ops", "Log level: off, ops, diag or trace")
	maxFrames    = flag.Uint64("frames", 0, "Stop after this many frames (0 runs until interrupted)")
	versionFlag  = flag.Bool("version", false, "Print version and exit")
	shutdownWait = flag.Duration("shutdown-timeout", 5*time.Second, "Grace period for HTTP shutdown")
)

// options is the resolved command line.
type options struct {
	cfg         *config.PipelineConfig
	level       monitoring.Level
	surface     render.Surface
	cameraEvery time.Duration
}

func resolveOptions() (options, error) {
	var o options

	cfg := config.DefaultPipelineConfig()
	if *configPath != "" {
		loaded, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			return o, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return o, err
	}
	o.cfg = cfg

	level, err := monitoring.ParseLevel(*logLevel)
	if err != nil {
		return o, err
	}
	o.level = level

	if *surfaceW <= 0 || *surfaceH <= 0 {
		return o, fmt.Errorf("surface must be positive, got %dx%d", *surfaceW, *surfaceH)
	}
	o.surface = render.Surface{Name: "passthrough", Width: *surfaceW, Height: *surfaceH}

	o.cameraEvery = cfg.GetFramePeriod()
	if *cameraFPS < 0 {
		return o, fmt.Errorf("camera-fps must not be negative, got %v", *cameraFPS)
	}
	if *cameraFPS > 0 {
		o.cameraEvery = time.Duration(float64(time.Second) / *cameraFPS)
	}
	if *vsyncSerial != "" && *vsyncBaud <= 0 {
		return o, fmt.Errorf("vsync-baud must be positive, got %d", *vsyncBaud)
	}
	return o, nil
}

func configureLogging(level monitoring.Level) {
	s := monitoring.Writers(level, os.Stderr)
	camera.SetLogWriters(s.Ops, s.Diag, s.Trace)
	pacing.SetLogWriters(s.Ops, s.Diag, s.Trace)
	stereo.SetLogWriters(s.Ops, s.Diag, s.Trace)
	telemetry.SetLogWriters(s.Ops, s.Diag, s.Trace)
	vsync.SetLogWriters(s.Ops, s.Diag, s.Trace)
	if level == monitoring.LevelOff {
		monitoring.SetLogger(nil)
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if *dbPath == "" {
			log.Fatal("--db is required for migrate")
		}
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	opts, err := resolveOptions()
	if err != nil {
		log.Fatalf("invalid options: %v", err)
	}
	configureLogging(opts.level)

	if err := run(opts); err != nil {
		log.Fatalf("passthrough: %v", err)
	}
}

func run(opts options) error {
	cfg := opts.cfg
	clock := timeutil.RealClock{}

	collector, err := telemetry.NewCollector(telemetry.CollectorConfig{
		Window:                 cfg.GetTelemetryWindow(),
		CommitLatencyThreshold: cfg.GetCommitLatencyThreshold(),
	})
	if err != nil {
		return err
	}

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()

		id, err := store.StartSession(cfg)
		if err != nil {
			return err
		}
		monitoring.Logf("telemetry session %s recording to %s", id, *dbPath)

		storeSink := telemetry.NewAsyncSink(store, 256)
		defer storeSink.Close()
		collector.AddSink(storeSink)
	}

	if *grpcListen != "" {
		pubCfg := telemetry.DefaultPublisherConfig()
		pubCfg.ListenAddr = *grpcListen
		pub := telemetry.NewPublisher(pubCfg)
		if err := pub.Start(); err != nil {
			return fmt.Errorf("failed to start telemetry publisher: %w", err)
		}
		defer pub.Stop()
		collector.AddSink(pub)
	}

	cameras := camera.NewSyntheticOpener()
	pipeline, err := stereo.NewPipeline(cfg, stereo.Deps{
		Clock:   clock,
		Cameras: cameras,
		Displays: render.HeadlessOpener(render.HeadlessOptions{
			Clock:       clock,
			DrawTime:    *drawTime,
			VsyncPeriod: cfg.GetFramePeriod(),
		}),
		Telemetry: collector,
	})
	if err != nil {
		return err
	}
	if err := pipeline.Init(opts.surface); err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Destroy(); err != nil {
			log.Printf("pipeline teardown: %v", err)
		}
	}()

	// Create a wait group for the vsync, camera and HTTP routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := openVsyncSource(clock, cfg.GetFramePeriod(), pipeline.FrameClock())
	if err != nil {
		return err
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("vsync source stopped: %v", err)
		}
		log.Print("vsync routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		cameras.Run(ctx, clock, opts.cameraEvery)
		log.Print("camera routine terminated")
	}()

	if *listen != "" {
		mux := http.NewServeMux()
		apiServer := api.NewServer(pipeline, collector, windowStore(store), cfg)
		mux.Handle("/api/", apiServer.ServeMux())
		var debug *tsweb.DebugHandler
		if store != nil {
			debug = store.AttachAdminRoutes(mux)
		} else {
			debug = tsweb.Debugger(mux)
		}
		debug.KVFunc("Frames processed", func() any { return pipeline.Status().FramesProcessed })
		debug.KVFunc("Telemetry windows", func() any { return collector.Snapshot().WindowsClosed })
		srv := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownWait)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server forced to shutdown: %v", err)
			}
			log.Printf("HTTP server routine stopped")
		}()
		monitoring.Logf("status API listening on %s", *listen)
	}

	monitoring.Logf("%s: pacing %s at %.2f Hz, mesh %s", version.String(), opts.surface.Name, cfg.GetRefreshHz(), cfg.GetMeshOrder())
	runErr := pipeline.Run(ctx, *maxFrames)
	stop()
	wg.Wait()

	status := pipeline.Status()
	snap := collector.Snapshot()
	monitoring.Logf("processed %d frames, %d windows, jank %v", status.FramesProcessed, snap.WindowsClosed, snap.Jank)

	if store != nil {
		if err := store.EndSession(snap.TotalFrames); err != nil {
			log.Printf("failed to close session: %v", err)
		}
	}
	if *plotOut != "" {
		files, err := telemetry.SavePlots(collector.Windows(), *plotOut, cfg.GetRefreshHz())
		switch {
		case errors.Is(err, telemetry.ErrNoWindows):
			log.Printf("no telemetry windows closed; skipping plots")
		case err != nil:
			log.Printf("failed to write plots: %v", err)
		default:
			monitoring.Logf("wrote %v", files)
		}
	}
	return runErr
}

func openVsyncSource(clock timeutil.Clock, period time.Duration, sink vsync.Sink) (vsync.Source, error) {
	if *vsyncSerial == "" {
		return vsync.NewTickerSource(clock, period, sink), nil
	}
	src, err := vsync.OpenSerialSource(*vsyncSerial, vsync.PortOptions{BaudRate: *vsyncBaud}, clock, sink)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// windowStore avoids handing the API a typed nil.
func windowStore(store *db.DB) api.WindowStore {
	if store == nil {
		return nil
	}
	return store
}
