package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OMR_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("OMR_DETECTOR", "")
	t.Setenv("OMR_CONF_THRESHOLD", "")

	cfg := Load()

	if cfg.Detector != "blob" {
		t.Errorf("Detector: got %q, want blob", cfg.Detector)
	}
	if cfg.ConfThreshold != 0.25 {
		t.Errorf("ConfThreshold: got %v, want 0.25", cfg.ConfThreshold)
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers should default to at least 1, got %d", cfg.Workers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OMR_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("OMR_DETECTOR", "REMOTE")
	t.Setenv("OMR_INPUT_SIZE", "640")
	t.Setenv("OMR_AMBIGUITY_MARGIN", "0.2")
	t.Setenv("OMR_QUEUE_TIMEOUT", "250ms")
	t.Setenv("OMR_SHEET_LABEL_OCR", "true")
	t.Setenv("OMR_QUEUE_DEPTH", "not-a-number")

	cfg := Load()

	if cfg.Detector != "remote" {
		t.Errorf("Detector: got %q, want remote", cfg.Detector)
	}
	if cfg.InputSize != 640 {
		t.Errorf("InputSize: got %d, want 640", cfg.InputSize)
	}
	if cfg.AmbiguityMargin != 0.2 {
		t.Errorf("AmbiguityMargin: got %v, want 0.2", cfg.AmbiguityMargin)
	}
	if cfg.QueueTimeout != 250*time.Millisecond {
		t.Errorf("QueueTimeout: got %v, want 250ms", cfg.QueueTimeout)
	}
	if !cfg.SheetLabelOCR {
		t.Error("SheetLabelOCR should be true")
	}
	if cfg.QueueDepth != 16 {
		t.Errorf("malformed QueueDepth should fall back to 16, got %d", cfg.QueueDepth)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("OMR_HTTP_ADDR_FROM_FILE_CHECK=1\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("OMR_ENV_FILE", path)

	_ = Load()

	if os.Getenv("OMR_HTTP_ADDR_FROM_FILE_CHECK") != "1" {
		t.Error("values from the env file should be exported to the environment")
	}
	os.Unsetenv("OMR_HTTP_ADDR_FROM_FILE_CHECK")
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		c := &Config{LogLevel: tt.in}
		if got := c.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}
