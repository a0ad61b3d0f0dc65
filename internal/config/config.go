package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Render format specifiers accepted in RENDER_FORMAT_SPECIFIER
const (
	SpecifierWaveFormatEx = "waveformatex"
	SpecifierDSound       = "dsound"
)

// Config holds all configuration for the loopback service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"` // gRPC health service

	// Render side: format of the PCM pushed to /streams/render
	RenderChannels        int    `envconfig:"RENDER_CHANNELS" default:"2"`
	RenderBitsPerSample   int    `envconfig:"RENDER_BITS_PER_SAMPLE" default:"16"`
	RenderSampleRate      int    `envconfig:"RENDER_SAMPLE_RATE" default:"48000"`
	RenderFormatSpecifier string `envconfig:"RENDER_FORMAT_SPECIFIER" default:"waveformatex"` // waveformatex, dsound

	// Capture side: format of the PCM served from /streams/capture
	CaptureChannels      int `envconfig:"CAPTURE_CHANNELS" default:"2"`
	CaptureBitsPerSample int `envconfig:"CAPTURE_BITS_PER_SAMPLE" default:"32"`
	CaptureSampleRate    int `envconfig:"CAPTURE_SAMPLE_RATE" default:"48000"`

	// Ring buffer configuration
	BufferSeconds   int `envconfig:"BUFFER_SECONDS" default:"4"`     // Ring buffer capacity in seconds of render audio
	CapturePeriodMS int `envconfig:"CAPTURE_PERIOD_MS" default:"10"` // Capture block period in milliseconds

	// Activity detection on the captured signal
	ActivityThreshold      float64 `envconfig:"ACTIVITY_THRESHOLD" default:"0.001"`     // Normalized RMS threshold (0..1)
	ActivitySilencePeriods int     `envconfig:"ACTIVITY_SILENCE_PERIODS" default:"50"` // Silent periods to mark signal end

	// Feeder configuration (cmd/pcmfeed)
	FeedURL     string `envconfig:"FEED_URL" default:"ws://localhost:8080/streams/render"`
	FeedChunkMS int    `envconfig:"FEED_CHUNK_MS" default:"20"`

	// Resilience configuration
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"` // Maximum reconnection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`   // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.RenderFormatSpecifier = strings.ToLower(cfg.RenderFormatSpecifier)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configured formats can be negotiated
func (c *Config) Validate() error {
	if err := validatePCM("RENDER", c.RenderChannels, c.RenderBitsPerSample, c.RenderSampleRate); err != nil {
		return err
	}
	if err := validatePCM("CAPTURE", c.CaptureChannels, c.CaptureBitsPerSample, c.CaptureSampleRate); err != nil {
		return err
	}

	switch c.RenderFormatSpecifier {
	case SpecifierWaveFormatEx, SpecifierDSound:
	default:
		return fmt.Errorf("RENDER_FORMAT_SPECIFIER must be %q or %q, got %q",
			SpecifierWaveFormatEx, SpecifierDSound, c.RenderFormatSpecifier)
	}

	if c.BufferSeconds <= 0 {
		return fmt.Errorf("BUFFER_SECONDS must be positive, got %d", c.BufferSeconds)
	}
	if c.CapturePeriodMS <= 0 {
		return fmt.Errorf("CAPTURE_PERIOD_MS must be positive, got %d", c.CapturePeriodMS)
	}
	if c.ActivityThreshold < 0 || c.ActivityThreshold > 1 {
		return fmt.Errorf("ACTIVITY_THRESHOLD must be within [0, 1], got %f", c.ActivityThreshold)
	}
	if c.FeedChunkMS <= 0 {
		return fmt.Errorf("FEED_CHUNK_MS must be positive, got %d", c.FeedChunkMS)
	}
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1, got %d", c.ReconnectMaxAttempts)
	}
	if c.ReconnectBackoff < 0 {
		return fmt.Errorf("RECONNECT_BACKOFF must not be negative, got %d", c.ReconnectBackoff)
	}
	return nil
}

func validatePCM(side string, channels, bits, rate int) error {
	if channels < 1 || channels > 32 {
		return fmt.Errorf("%s_CHANNELS must be within [1, 32], got %d", side, channels)
	}
	switch bits {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%s_BITS_PER_SAMPLE must be 8, 16, 24 or 32, got %d", side, bits)
	}
	if rate <= 0 {
		return fmt.Errorf("%s_SAMPLE_RATE must be positive, got %d", side, rate)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
