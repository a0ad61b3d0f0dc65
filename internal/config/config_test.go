package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("RENDER_CHANNELS")
	os.Unsetenv("CAPTURE_BITS_PER_SAMPLE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.GRPCPort != "50051" {
		t.Errorf("Expected default GRPCPort '50051', got '%s'", cfg.GRPCPort)
	}

	if cfg.RenderChannels != 2 {
		t.Errorf("Expected default RenderChannels 2, got %d", cfg.RenderChannels)
	}

	if cfg.RenderBitsPerSample != 16 {
		t.Errorf("Expected default RenderBitsPerSample 16, got %d", cfg.RenderBitsPerSample)
	}

	if cfg.CaptureBitsPerSample != 32 {
		t.Errorf("Expected default CaptureBitsPerSample 32, got %d", cfg.CaptureBitsPerSample)
	}

	if cfg.RenderFormatSpecifier != SpecifierWaveFormatEx {
		t.Errorf("Expected default RenderFormatSpecifier '%s', got '%s'", SpecifierWaveFormatEx, cfg.RenderFormatSpecifier)
	}

	if cfg.BufferSeconds != 4 {
		t.Errorf("Expected default BufferSeconds 4, got %d", cfg.BufferSeconds)
	}

	if cfg.CapturePeriodMS != 10 {
		t.Errorf("Expected default CapturePeriodMS 10, got %d", cfg.CapturePeriodMS)
	}

	if cfg.ActivityThreshold != 0.001 {
		t.Errorf("Expected default ActivityThreshold 0.001, got %f", cfg.ActivityThreshold)
	}

	if cfg.ActivitySilencePeriods != 50 {
		t.Errorf("Expected default ActivitySilencePeriods 50, got %d", cfg.ActivitySilencePeriods)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("RENDER_CHANNELS", "1")
	os.Setenv("RENDER_FORMAT_SPECIFIER", "DSound")
	os.Setenv("CAPTURE_BITS_PER_SAMPLE", "24")
	defer os.Unsetenv("RENDER_CHANNELS")
	defer os.Unsetenv("RENDER_FORMAT_SPECIFIER")
	defer os.Unsetenv("CAPTURE_BITS_PER_SAMPLE")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.RenderChannels != 1 {
		t.Errorf("Expected RenderChannels 1, got %d", cfg.RenderChannels)
	}

	if cfg.RenderFormatSpecifier != SpecifierDSound {
		t.Errorf("Expected RenderFormatSpecifier '%s', got '%s'", SpecifierDSound, cfg.RenderFormatSpecifier)
	}

	if cfg.CaptureBitsPerSample != 24 {
		t.Errorf("Expected CaptureBitsPerSample 24, got %d", cfg.CaptureBitsPerSample)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero channels", "RENDER_CHANNELS", "0"},
		{"too many channels", "CAPTURE_CHANNELS", "33"},
		{"unsupported depth", "RENDER_BITS_PER_SAMPLE", "12"},
		{"zero rate", "CAPTURE_SAMPLE_RATE", "0"},
		{"unknown specifier", "RENDER_FORMAT_SPECIFIER", "ks"},
		{"zero buffer", "BUFFER_SECONDS", "0"},
		{"zero period", "CAPTURE_PERIOD_MS", "0"},
		{"threshold out of range", "ACTIVITY_THRESHOLD", "1.5"},
		{"not a number", "RENDER_SAMPLE_RATE", "fast"},
		{"zero reconnect attempts", "RECONNECT_MAX_ATTEMPTS", "0"},
		{"negative reconnect attempts", "RECONNECT_MAX_ATTEMPTS", "-3"},
		{"negative reconnect backoff", "RECONNECT_BACKOFF", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv(tt.key, tt.value)
			defer os.Unsetenv(tt.key)

			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}

	if cfg.FeedChunkMS != 20 {
		t.Errorf("Expected default FeedChunkMS 20, got %d", cfg.FeedChunkMS)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
