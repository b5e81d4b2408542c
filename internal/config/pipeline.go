package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/passthrough/internal/render"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default pacing values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// ErrInvalidConfig marks a configuration that must stop the pipeline
// before it starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// PipelineConfig represents the root configuration for the passthrough
// pipeline. Unset fields fall back to the defaults returned by the Get*
// accessors, so partial JSON files are safe.
type PipelineConfig struct {
	// Display pacing
	RefreshHz        *float64 `json:"refresh_hz,omitempty"`
	HalfwayFraction  *float64 `json:"halfway_fraction,omitempty"`
	DelayBetweenEyes *bool    `json:"delay_between_eyes,omitempty"`
	MeshOrder        *string  `json:"mesh_order,omitempty"` // left_to_right, right_to_left, top_to_bottom, bottom_to_top

	// Camera
	RingCapacity  *int    `json:"ring_capacity,omitempty"`
	CameraWidth   *int    `json:"camera_width,omitempty"`
	CameraHeight  *int    `json:"camera_height,omitempty"`
	LeftCameraID  *string `json:"left_camera_id,omitempty"`
	RightCameraID *string `json:"right_camera_id,omitempty"`

	// Telemetry
	CommitLatencyThreshold *string `json:"commit_latency_threshold,omitempty"` // duration string like "11.764ms"
	TelemetryWindow        *string `json:"telemetry_window,omitempty"`         // duration string like "1s"
	TraceEnabled           *bool   `json:"trace_enabled,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultPipelineConfig returns a PipelineConfig with every field set to
// its default value.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		RefreshHz:              ptrFloat64(90),
		HalfwayFraction:        ptrFloat64(0.5),
		DelayBetweenEyes:       ptrBool(false),
		MeshOrder:              ptrString("top_to_bottom"),
		RingCapacity:           ptrInt(4),
		CameraWidth:            ptrInt(1920),
		CameraHeight:           ptrInt(1440),
		LeftCameraID:           ptrString("2"),
		RightCameraID:          ptrString("3"),
		CommitLatencyThreshold: ptrString("11.764ms"),
		TelemetryWindow:        ptrString("1s"),
		TraceEnabled:           ptrBool(false),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/passthrough/ and deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Every error
// wraps ErrInvalidConfig.
func (c *PipelineConfig) Validate() error {
	if c.RefreshHz != nil && (*c.RefreshHz <= 0 || *c.RefreshHz > 1000) {
		return invalid("refresh_hz must be in (0, 1000], got %g", *c.RefreshHz)
	}

	if c.HalfwayFraction != nil && (*c.HalfwayFraction <= 0 || *c.HalfwayFraction >= 1) {
		return invalid("halfway_fraction must be in (0, 1), got %g", *c.HalfwayFraction)
	}

	if c.MeshOrder != nil {
		if _, err := render.ParseMeshOrder(*c.MeshOrder); err != nil {
			return invalid("mesh_order: %v", err)
		}
	}

	if c.RingCapacity != nil && *c.RingCapacity < 2 {
		return invalid("ring_capacity must be at least 2, got %d", *c.RingCapacity)
	}

	if c.CameraWidth != nil && *c.CameraWidth <= 0 {
		return invalid("camera_width must be positive, got %d", *c.CameraWidth)
	}
	if c.CameraHeight != nil && *c.CameraHeight <= 0 {
		return invalid("camera_height must be positive, got %d", *c.CameraHeight)
	}

	if c.LeftCameraID != nil && c.RightCameraID != nil &&
		strings.TrimSpace(*c.LeftCameraID) == strings.TrimSpace(*c.RightCameraID) {
		return invalid("left_camera_id and right_camera_id must differ, both are %q", *c.LeftCameraID)
	}

	if c.CommitLatencyThreshold != nil && *c.CommitLatencyThreshold != "" {
		if d, err := time.ParseDuration(*c.CommitLatencyThreshold); err != nil || d <= 0 {
			return invalid("invalid commit_latency_threshold '%s'", *c.CommitLatencyThreshold)
		}
	}

	if c.TelemetryWindow != nil && *c.TelemetryWindow != "" {
		if d, err := time.ParseDuration(*c.TelemetryWindow); err != nil || d <= 0 {
			return invalid("invalid telemetry_window '%s'", *c.TelemetryWindow)
		}
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// GetRefreshHz returns the refresh_hz value or the default.
func (c *PipelineConfig) GetRefreshHz() float64 {
	if c.RefreshHz == nil {
		return 90
	}
	return *c.RefreshHz
}

// GetFramePeriod returns the display refresh period derived from refresh_hz.
func (c *PipelineConfig) GetFramePeriod() time.Duration {
	return time.Duration(1e9 / c.GetRefreshHz())
}

// GetHalfwayFraction returns the halfway_fraction value or the default.
func (c *PipelineConfig) GetHalfwayFraction() float64 {
	if c.HalfwayFraction == nil {
		return 0.5
	}
	return *c.HalfwayFraction
}

// GetDelayBetweenEyes returns the delay_between_eyes value or the default.
func (c *PipelineConfig) GetDelayBetweenEyes() bool {
	if c.DelayBetweenEyes == nil {
		return false
	}
	return *c.DelayBetweenEyes
}

// GetMeshOrder returns the parsed mesh_order, falling back to TopToBottom
// when unset or unparsable. Validate reports unparsable values.
func (c *PipelineConfig) GetMeshOrder() render.MeshOrder {
	if c.MeshOrder == nil {
		return render.TopToBottom
	}
	order, err := render.ParseMeshOrder(*c.MeshOrder)
	if err != nil {
		return render.TopToBottom
	}
	return order
}

// GetRingCapacity returns the ring_capacity value or the default.
func (c *PipelineConfig) GetRingCapacity() int {
	if c.RingCapacity == nil {
		return 4
	}
	return *c.RingCapacity
}

// GetCameraWidth returns the camera_width value or the default.
func (c *PipelineConfig) GetCameraWidth() int {
	if c.CameraWidth == nil {
		return 1920
	}
	return *c.CameraWidth
}

// GetCameraHeight returns the camera_height value or the default.
func (c *PipelineConfig) GetCameraHeight() int {
	if c.CameraHeight == nil {
		return 1440
	}
	return *c.CameraHeight
}

// GetLeftCameraID returns the left_camera_id value or the default.
func (c *PipelineConfig) GetLeftCameraID() string {
	if c.LeftCameraID == nil {
		return "2"
	}
	return *c.LeftCameraID
}

// GetRightCameraID returns the right_camera_id value or the default.
func (c *PipelineConfig) GetRightCameraID() string {
	if c.RightCameraID == nil {
		return "3"
	}
	return *c.RightCameraID
}

// GetCommitLatencyThreshold parses and returns the commit latency threshold.
func (c *PipelineConfig) GetCommitLatencyThreshold() time.Duration {
	def := time.Second / 85
	if c.CommitLatencyThreshold == nil || *c.CommitLatencyThreshold == "" {
		return def
	}
	d, err := time.ParseDuration(*c.CommitLatencyThreshold)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetTelemetryWindow parses and returns the telemetry reporting window.
func (c *PipelineConfig) GetTelemetryWindow() time.Duration {
	if c.TelemetryWindow == nil || *c.TelemetryWindow == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.TelemetryWindow)
	if err != nil || d <= 0 {
		return time.Second // default on parse error
	}
	return d
}

// GetTraceEnabled returns the trace_enabled value or the default.
func (c *PipelineConfig) GetTraceEnabled() bool {
	if c.TraceEnabled == nil {
		return false
	}
	return *c.TraceEnabled
}
