package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/passthrough/internal/config"
	"github.com/banshee-data/passthrough/internal/db"
	"github.com/banshee-data/passthrough/internal/httputil"
	"github.com/banshee-data/passthrough/internal/stereo"
	"github.com/banshee-data/passthrough/internal/telemetry"
	"github.com/banshee-data/passthrough/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const maxWindowLimit = 1000

// StatusSource reports pipeline counters.
type StatusSource interface {
	Status() stereo.Status
}

// TelemetrySource reports the in-memory telemetry state.
type TelemetrySource interface {
	Snapshot() telemetry.Snapshot
	Windows() []telemetry.Window
}

// WindowStore is the persisted telemetry history.
type WindowStore interface {
	RecentWindows(limit int) ([]telemetry.Window, error)
	Sessions(limit int) ([]db.Session, error)
}

// Server serves the pacing status API.
type Server struct {
	status    StatusSource
	telemetry TelemetrySource
	store     WindowStore
	cfg       *config.PipelineConfig
}

// NewServer returns a Server. store may be nil when no database is
// configured.
func NewServer(status StatusSource, tel TelemetrySource, store WindowStore, cfg *config.PipelineConfig) *Server {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	return &Server{
		status:    status,
		telemetry: tel,
		store:     store,
		cfg:       cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pacing/status", s.showStatus)
	mux.HandleFunc("/api/pacing/windows", s.listWindows)
	mux.HandleFunc("/api/pacing/chart", s.showChart)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// StatusResponse is the body of /api/pacing/status.
type StatusResponse struct {
	Pipeline  stereo.Status      `json:"pipeline"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	var resp StatusResponse
	if s.status != nil {
		resp.Pipeline = s.status.Status()
	}
	if s.telemetry != nil {
		resp.Telemetry = s.telemetry.Snapshot()
	}
	httputil.WriteJSONOK(w, resp)
}

// windows returns up to limit windows, newest first. source "memory"
// forces the collector history; otherwise the store is preferred.
func (s *Server) windows(limit int, source string) ([]telemetry.Window, error) {
	if s.store != nil && source != "memory" {
		windows, err := s.store.RecentWindows(limit)
		if !errors.Is(err, db.ErrNoSession) {
			return windows, err
		}
	}
	if s.telemetry == nil {
		return []telemetry.Window{}, nil
	}
	all := s.telemetry.Windows()
	out := make([]telemetry.Window, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Server) listWindows(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 60, maxWindowLimit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	windows, err := s.windows(limit, r.URL.Query().Get("source"))
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve windows: %v", err))
		return
	}
	httputil.WriteJSONOK(w, windows)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no telemetry database configured")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 20, 200)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.store.Sessions(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"config":                   s.cfg,
		"frame_period_ns":          s.cfg.GetFramePeriod().Nanoseconds(),
		"commit_latency_threshold": s.cfg.GetCommitLatencyThreshold().String(),
		"telemetry_window":         s.cfg.GetTelemetryWindow().String(),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
