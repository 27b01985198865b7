package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDetection_Presets(t *testing.T) {
	det := LoadDetection()

	tests := []struct {
		name      string
		inputSize int
		score     float64
		tolerance float64
	}{
		{"near", 192, 0.5, 0.18},
		{"medium", 320, 0.3, 0.22},
		{"far", 416, 0.2, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := det.Presets[tt.name]
			if !ok {
				t.Fatalf("preset %q missing", tt.name)
			}
			if p.InputSize != tt.inputSize {
				t.Errorf("expected input size %d, got %d", tt.inputSize, p.InputSize)
			}
			if p.ScoreThreshold != tt.score {
				t.Errorf("expected score threshold %f, got %f", tt.score, p.ScoreThreshold)
			}
			if p.Tolerance != tt.tolerance {
				t.Errorf("expected tolerance %f, got %f", tt.tolerance, p.Tolerance)
			}
		})
	}
}

func TestLoadDetection_TolerancesWithinAcceptanceFloor(t *testing.T) {
	det := LoadDetection()
	limit := 1 - det.AcceptanceFloor/100

	for name, p := range det.Presets {
		if p.Tolerance <= 0 || p.Tolerance > limit+1e-9 {
			t.Errorf("preset %s: tolerance %f outside (0, %f]", name, p.Tolerance, limit)
		}
	}
	if !(det.Presets["near"].Tolerance < det.Presets["medium"].Tolerance &&
		det.Presets["medium"].Tolerance < det.Presets["far"].Tolerance) {
		t.Error("expected tolerance to loosen from near to far")
	}
}

func TestLoadDetection_FallbackAndFloors(t *testing.T) {
	det := LoadDetection()

	if det.Fallback.InputSize != 416 || det.Fallback.ScoreThreshold != 0.2 {
		t.Errorf("unexpected fallback tier %+v", det.Fallback)
	}
	if det.DisplayMinConfidence != 0.3 {
		t.Errorf("expected display floor 0.3, got %f", det.DisplayMinConfidence)
	}
	if det.AcceptanceFloor != 75 {
		t.Errorf("expected acceptance floor 75, got %f", det.AcceptanceFloor)
	}
	if det.ProcessingInterval() != 300*time.Millisecond {
		t.Errorf("expected processing interval 300ms, got %v", det.ProcessingInterval())
	}
	if det.DefaultPreset != "medium" {
		t.Errorf("expected default preset medium, got %q", det.DefaultPreset)
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("RTSP_SCAN_INTERVAL_MS")
	os.Unsetenv("RTSP_FRAME_SKIP")
	os.Unsetenv("ATTENDANCE_START_AFTER")
	os.Unsetenv("WEB_PORT")
	os.Unsetenv("ROSTER_CACHE_TTL")

	cfg := Load()

	if cfg.Capture.Interval != 2*time.Second {
		t.Errorf("expected default scan interval 2s, got %v", cfg.Capture.Interval)
	}
	if cfg.Capture.FrameSkip != 0 {
		t.Errorf("expected frame skip 0, got %d", cfg.Capture.FrameSkip)
	}
	if cfg.Capture.StartAfter != nil {
		t.Errorf("expected no start gate, got %v", cfg.Capture.StartAfter)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Roster.CacheTTL != time.Minute {
		t.Errorf("expected roster cache TTL 1m, got %v", cfg.Roster.CacheTTL)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected 25 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_ScanIntervalFloor(t *testing.T) {
	t.Setenv("RTSP_SCAN_INTERVAL_MS", "50")

	cfg := Load()

	if cfg.Capture.Interval != MinCaptureInterval {
		t.Errorf("expected interval clamped to %v, got %v", MinCaptureInterval, cfg.Capture.Interval)
	}
}

func TestLoad_InvalidFrameSkip(t *testing.T) {
	t.Setenv("RTSP_FRAME_SKIP", "-3")

	cfg := Load()

	if cfg.Capture.FrameSkip != 0 {
		t.Errorf("expected frame skip fallback 0, got %d", cfg.Capture.FrameSkip)
	}
}

func TestLoad_StartAfter(t *testing.T) {
	t.Setenv("ATTENDANCE_START_AFTER", "2025-03-10T09:00:00Z")

	cfg := Load()

	if cfg.Capture.StartAfter == nil {
		t.Fatal("expected start gate to be parsed")
	}
	want := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !cfg.Capture.StartAfter.Equal(want) {
		t.Errorf("expected %v, got %v", want, *cfg.Capture.StartAfter)
	}
}

func TestLoad_StartAfterInvalid(t *testing.T) {
	t.Setenv("ATTENDANCE_START_AFTER", "tomorrow")

	cfg := Load()

	if cfg.Capture.StartAfter != nil {
		t.Errorf("expected invalid start gate to be ignored, got %v", *cfg.Capture.StartAfter)
	}
}

func TestLoad_PresetOverride(t *testing.T) {
	t.Setenv("ATTENDANCE_PRESET", "far")

	cfg := Load()

	if cfg.Capture.Preset != "far" {
		t.Errorf("expected preset far, got %q", cfg.Capture.Preset)
	}
}

func TestLoad_UnknownPresetIgnored(t *testing.T) {
	t.Setenv("ATTENDANCE_PRESET", "orbit")

	cfg := Load()

	if cfg.Capture.Preset != "medium" {
		t.Errorf("expected default preset medium, got %q", cfg.Capture.Preset)
	}
}

func TestLoad_NotifyURLs(t *testing.T) {
	t.Setenv("NOTIFY_URLS", "logger://, generic://example.com/hook ,")

	cfg := Load()

	if len(cfg.Notify.URLs) != 2 {
		t.Fatalf("expected 2 notify URLs, got %d: %v", len(cfg.Notify.URLs), cfg.Notify.URLs)
	}
	if cfg.Notify.URLs[1] != "generic://example.com/hook" {
		t.Errorf("expected trimmed URL, got %q", cfg.Notify.URLs[1])
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("EMBEDDING_TIMEOUT", "soon")

	cfg := Load()

	if cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Embedding.Timeout)
	}
}
