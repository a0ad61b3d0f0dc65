package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/pcm-loopback/internal/audio"
	"github.com/lexiqai/pcm-loopback/internal/config"
	"github.com/lexiqai/pcm-loopback/internal/observability"
	"github.com/rs/zerolog"
)

// Device is a virtual audio cable: PCM rendered into it comes back out of
// its capture side, widened to the capture format. At most one render and
// one capture stream are attached at a time.
type Device struct {
	buffer        *audio.RingBuffer
	captureFormat *audio.WaveFormatExtensible
	period        time.Duration
	activity      audio.ActivityConfig
	logger        zerolog.Logger

	mu      sync.Mutex
	busy    map[string]bool
	closing bool
}

// NewDevice builds the render and capture formats from cfg and negotiates
// both sides of the ring buffer.
func NewDevice(cfg *config.Config, logger zerolog.Logger) (*Device, error) {
	logger = logger.With().Str("component", "loopback_device").Logger()

	renderFormat, err := renderDataFormat(cfg)
	if err != nil {
		observability.RecordInitFailure(observability.SideRender, failureReason(err))
		return nil, fmt.Errorf("render format: %w", err)
	}
	captureFormat := audio.NewPCMExtensible(cfg.CaptureChannels, cfg.CaptureBitsPerSample, cfg.CaptureSampleRate)

	buffer := audio.NewRingBuffer(&audio.BufferConfig{
		Seconds:   cfg.BufferSeconds,
		Allocator: audio.DefaultAllocator,
		Observer:  observability.BufferMetrics{},
		Logger:    &logger,
	})

	if err := buffer.InitializeOutput(captureFormat); err != nil {
		observability.RecordInitFailure(observability.SideCapture, failureReason(err))
		return nil, fmt.Errorf("capture format: %w", err)
	}
	if err := buffer.InitializeInput(renderFormat); err != nil {
		observability.RecordInitFailure(observability.SideRender, failureReason(err))
		buffer.Reset()
		return nil, fmt.Errorf("render format: %w", err)
	}

	logger.Info().
		Str("specifier", cfg.RenderFormatSpecifier).
		Int("capture_period_ms", cfg.CapturePeriodMS).
		Msg("Loopback device ready")

	return &Device{
		buffer:        buffer,
		captureFormat: captureFormat,
		period:        time.Duration(cfg.CapturePeriodMS) * time.Millisecond,
		activity: audio.ActivityConfig{
			Threshold:     cfg.ActivityThreshold,
			SilenceBlocks: cfg.ActivitySilencePeriods,
		},
		logger: logger,
		busy:   make(map[string]bool),
	}, nil
}

// renderDataFormat encodes the configured render format with the configured
// specifier and decodes it back, as a negotiating client would hand it over.
func renderDataFormat(cfg *config.Config) (*audio.DataFormat, error) {
	wf := audio.NewPCMFormat(cfg.RenderChannels, cfg.RenderBitsPerSample, cfg.RenderSampleRate)
	payload, err := wf.MarshalBinary()
	if err != nil {
		return nil, err
	}

	switch cfg.RenderFormatSpecifier {
	case config.SpecifierDSound:
		// zero buffer flags and control
		header := make([]byte, 8, 8+len(payload))
		return audio.DecodeDataFormat(audio.SpecifierDSound, append(header, payload...))
	case config.SpecifierWaveFormatEx, "":
		return audio.DecodeDataFormat(audio.SpecifierWaveFormatEx, payload)
	}
	return nil, fmt.Errorf("%w: format specifier %q", audio.ErrInvalidArgument, cfg.RenderFormatSpecifier)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, audio.ErrAllocation):
		return "allocation"
	case errors.Is(err, audio.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, audio.ErrUnsupportedConversion):
		return "unsupported_conversion"
	}
	return "unknown"
}

// Write renders PCM in the render format
func (d *Device) Write(p []byte) error {
	return d.buffer.WriteData(p)
}

// Read captures PCM in the capture format, padding with silence
func (d *Device) Read(p []byte) error {
	return d.buffer.ReadData(p)
}

// Ready reports whether both sides of the buffer are negotiated.
// It has the shape of an observability.HealthCheckFunc.
func (d *Device) Ready(ctx context.Context) (bool, error) {
	st := d.buffer.State()
	if !st.Initialized {
		return false, audio.ErrUninitialized
	}
	return st.FrameSizeOut > 0, nil
}

// State returns the ring buffer bookkeeping
func (d *Device) State() audio.State {
	return d.buffer.State()
}

// RenderFormat returns the negotiated render format
func (d *Device) RenderFormat() audio.WaveFormatEx {
	f, _ := d.buffer.InputFormat()
	return f
}

// CaptureFormat returns the negotiated capture format
func (d *Device) CaptureFormat() audio.WaveFormatExtensible {
	f, _ := d.buffer.OutputFormat()
	return f
}

// CapturePeriod is the interval at which capture blocks are produced
func (d *Device) CapturePeriod() time.Duration {
	return d.period
}

// CaptureBlockSize returns the bytes of one capture period, a whole number
// of capture frames and never less than one frame.
func (d *Device) CaptureBlockSize() int {
	frames := int(d.captureFormat.Format.SamplesPerSec) * int(d.period/time.Millisecond) / 1000
	if frames < 1 {
		frames = 1
	}
	return frames * d.captureFormat.FrameSize()
}

// Close releases the ring buffer. Attached streams see ErrUninitialized and
// no new stream is accepted afterwards.
func (d *Device) Close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	st := d.buffer.State()
	d.buffer.Reset()
	d.logger.Info().
		Uint64("frames_dropped", st.FramesDropped).
		Uint64("silence_bytes", st.SilenceBytes).
		Msg("Loopback device closed")
}

// acquire claims a side for one stream
func (d *Device) acquire(side string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing || d.busy[side] {
		return false
	}
	d.busy[side] = true
	return true
}

func (d *Device) release(side string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.busy, side)
}
