package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("REALTIME_API_KEY", "test-realtime-key")
	defer os.Unsetenv("REALTIME_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.RealtimeAPIKey != "test-realtime-key" {
		t.Errorf("Expected RealtimeAPIKey 'test-realtime-key', got '%s'", cfg.RealtimeAPIKey)
	}

	// Transcription key falls back to the realtime key when unset
	if cfg.TranscriptionAPIKey != "test-realtime-key" {
		t.Errorf("Expected TranscriptionAPIKey fallback, got '%s'", cfg.TranscriptionAPIKey)
	}
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	os.Unsetenv("REALTIME_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when REALTIME_API_KEY is missing")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	os.Setenv("REALTIME_API_KEY", "test-realtime-key")
	defer os.Unsetenv("REALTIME_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected default Port '9090', got '%s'", cfg.Port)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("Expected default SampleRate 16000, got %d", cfg.SampleRate)
	}
	if cfg.ToolPollInterval != 50*time.Millisecond {
		t.Errorf("Expected default ToolPollInterval 50ms, got %v", cfg.ToolPollInterval)
	}
	if cfg.ToolTimeout != 5*time.Minute {
		t.Errorf("Expected default ToolTimeout 5m, got %v", cfg.ToolTimeout)
	}
	if cfg.InsertPreferredMethod != "accessibility" {
		t.Errorf("Expected default InsertPreferredMethod 'accessibility', got '%s'", cfg.InsertPreferredMethod)
	}
	if len(cfg.FatalErrorCodes) != 2 {
		t.Errorf("Expected 2 default fatal error codes, got %v", cfg.FatalErrorCodes)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			RealtimeAPIKey:        "k",
			SampleRate:            16000,
			LevelSmoothing:        0.7,
			ToolPollInterval:      50 * time.Millisecond,
			ToolTimeout:           5 * time.Minute,
			InsertPreferredMethod: "accessibility",
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.LevelSmoothing = 1.0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for LevelSmoothing = 1.0")
	}

	cfg = base()
	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for SampleRate = 0")
	}

	cfg = base()
	cfg.InsertPreferredMethod = "telepathy"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown insertion method")
	}
}
