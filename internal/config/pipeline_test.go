package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/passthrough/internal/render"
	"github.com/google/go-cmp/cmp"
)

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.GetRefreshHz() != 90 {
		t.Errorf("GetRefreshHz() = %v, want 90", cfg.GetRefreshHz())
	}
	if got, want := cfg.GetFramePeriod(), time.Duration(11111111); got != want {
		t.Errorf("GetFramePeriod() = %v, want %v", got, want)
	}
	if cfg.GetHalfwayFraction() != 0.5 {
		t.Errorf("GetHalfwayFraction() = %v, want 0.5", cfg.GetHalfwayFraction())
	}
	if cfg.GetDelayBetweenEyes() {
		t.Error("GetDelayBetweenEyes() = true, want false")
	}
	if cfg.GetMeshOrder() != render.TopToBottom {
		t.Errorf("GetMeshOrder() = %v, want TopToBottom", cfg.GetMeshOrder())
	}
	if cfg.GetRingCapacity() != 4 {
		t.Errorf("GetRingCapacity() = %d, want 4", cfg.GetRingCapacity())
	}
	if cfg.GetCameraWidth() != 1920 || cfg.GetCameraHeight() != 1440 {
		t.Errorf("camera size = %dx%d, want 1920x1440", cfg.GetCameraWidth(), cfg.GetCameraHeight())
	}
	if cfg.GetLeftCameraID() != "2" || cfg.GetRightCameraID() != "3" {
		t.Errorf("camera ids = %q/%q, want 2/3", cfg.GetLeftCameraID(), cfg.GetRightCameraID())
	}
	if got, want := cfg.GetCommitLatencyThreshold(), 11764*time.Microsecond; got != want {
		t.Errorf("GetCommitLatencyThreshold() = %v, want %v", got, want)
	}
	if cfg.GetTelemetryWindow() != time.Second {
		t.Errorf("GetTelemetryWindow() = %v, want 1s", cfg.GetTelemetryWindow())
	}
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	empty := &PipelineConfig{}
	def := DefaultPipelineConfig()

	if err := empty.Validate(); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}

	type view struct {
		Hz        float64
		Halfway   float64
		Delay     bool
		Order     render.MeshOrder
		Capacity  int
		Width     int
		Height    int
		Left      string
		Right     string
		Window    time.Duration
		Trace     bool
		Threshold time.Duration
	}
	project := func(c *PipelineConfig) view {
		return view{
			c.GetRefreshHz(), c.GetHalfwayFraction(), c.GetDelayBetweenEyes(), c.GetMeshOrder(),
			c.GetRingCapacity(), c.GetCameraWidth(), c.GetCameraHeight(), c.GetLeftCameraID(),
			c.GetRightCameraID(), c.GetTelemetryWindow(), c.GetTraceEnabled(),
			c.GetCommitLatencyThreshold().Truncate(time.Millisecond),
		}
	}
	if diff := cmp.Diff(project(def), project(empty)); diff != "" {
		t.Errorf("empty config getters differ from defaults (-default +empty):\n%s", diff)
	}
}

func TestLoadPipelineConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pipeline.json")

	testJSON := `{
  "refresh_hz": 72,
  "delay_between_eyes": true,
  "mesh_order": "right_to_left",
  "ring_capacity": 6,
  "telemetry_window": "500ms"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPipelineConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetRefreshHz() != 72 {
		t.Errorf("GetRefreshHz() = %v, want 72", cfg.GetRefreshHz())
	}
	if !cfg.GetDelayBetweenEyes() {
		t.Error("GetDelayBetweenEyes() = false, want true")
	}
	if cfg.GetMeshOrder() != render.RightToLeft {
		t.Errorf("GetMeshOrder() = %v, want RightToLeft", cfg.GetMeshOrder())
	}
	if cfg.GetRingCapacity() != 6 {
		t.Errorf("GetRingCapacity() = %d, want 6", cfg.GetRingCapacity())
	}
	if cfg.GetTelemetryWindow() != 500*time.Millisecond {
		t.Errorf("GetTelemetryWindow() = %v, want 500ms", cfg.GetTelemetryWindow())
	}
	// Omitted fields keep their defaults.
	if cfg.GetHalfwayFraction() != 0.5 {
		t.Errorf("GetHalfwayFraction() = %v, want 0.5", cfg.GetHalfwayFraction())
	}
}

func TestUnsetDurationsUseBuiltInDefaults(t *testing.T) {
	cfg := &PipelineConfig{}
	if got, want := cfg.GetCommitLatencyThreshold(), time.Duration(11764705); got != want {
		t.Errorf("GetCommitLatencyThreshold() = %v, want %v", got, want)
	}
	bad := "soon"
	cfg.CommitLatencyThreshold = &bad
	if got, want := cfg.GetCommitLatencyThreshold(), time.Second/85; got != want {
		t.Errorf("GetCommitLatencyThreshold() with bad value = %v, want %v", got, want)
	}
	if got, want := cfg.GetFramePeriod(), time.Duration(11111111); got != want {
		t.Errorf("GetFramePeriod() = %v, want %v", got, want)
	}
}

func TestLoadPipelineConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadPipelineConfig("/nonexistent/path/to/config.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}

	yamlPath := filepath.Join(tmpDir, "pipeline.yaml")
	if err := os.WriteFile(yamlPath, []byte("refresh_hz: 90"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPipelineConfig(yamlPath); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}

	badPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"refresh_hz": "fast"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPipelineConfig(badPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}

	invalidPath := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(invalidPath, []byte(`{"ring_capacity": 1}`), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadPipelineConfig(invalidPath)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadPipelineConfig(ring_capacity=1) error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *PipelineConfig
		wantErr bool
	}{
		{"valid config", DefaultPipelineConfig(), false},
		{"empty config is valid", &PipelineConfig{}, false},
		{"zero refresh", &PipelineConfig{RefreshHz: ptrFloat64(0)}, true},
		{"halfway at zero", &PipelineConfig{HalfwayFraction: ptrFloat64(0)}, true},
		{"halfway at one", &PipelineConfig{HalfwayFraction: ptrFloat64(1)}, true},
		{"unsupported mesh order", &PipelineConfig{MeshOrder: ptrString("diagonal")}, true},
		{"ring capacity of one", &PipelineConfig{RingCapacity: ptrInt(1)}, true},
		{"ring capacity of two", &PipelineConfig{RingCapacity: ptrInt(2)}, false},
		{"negative width", &PipelineConfig{CameraWidth: ptrInt(-1)}, true},
		{"same camera twice", &PipelineConfig{LeftCameraID: ptrString("2"), RightCameraID: ptrString("2")}, true},
		{"bad latency threshold", &PipelineConfig{CommitLatencyThreshold: ptrString("soon")}, true},
		{"negative window", &PipelineConfig{TelemetryWindow: ptrString("-1s")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultPipelineConfig(), cfg); diff != "" {
		t.Errorf("defaults file differs from DefaultPipelineConfig (-want +got):\n%s", diff)
	}
}
