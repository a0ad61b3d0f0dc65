package observability

import (
	"time"

	"github.com/lexiqai/pcm-loopback/internal/audio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream sides
const (
	SideRender  = "render"
	SideCapture = "capture"
)

var (
	// Stream metrics
	activeStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pcm_loopback_active_streams",
		Help: "Number of connected streams",
	}, []string{"side"})

	totalStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcm_loopback_streams_total",
		Help: "Total number of streams accepted",
	}, []string{"side"})

	rejectedStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcm_loopback_streams_rejected_total",
		Help: "Streams refused because the side was busy",
	}, []string{"side"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pcm_loopback_stream_duration_seconds",
		Help:    "Duration of streams in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"side"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcm_loopback_audio_bytes_total",
		Help: "Total PCM bytes moved through the ring buffer",
	}, []string{"side"})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcm_loopback_frames_dropped_total",
		Help: "Render frames overwritten before they were captured",
	})

	silenceBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcm_loopback_silence_bytes_total",
		Help: "Capture bytes filled with silence on underrun",
	})

	captureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pcm_loopback_capture_level",
		Help: "Normalized RMS of the last captured block (0..1)",
	})

	activityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcm_loopback_activity_transitions_total",
		Help: "Signal start/stop transitions seen on the capture side",
	}, []string{"transition"}) // transition: "start" or "stop"

	// Error metrics
	initFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcm_loopback_init_failures_total",
		Help: "Format negotiation failures",
	}, []string{"side", "reason"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcm_loopback_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// StreamMetrics tracks metrics for a single render or capture stream
type StreamMetrics struct {
	side      string
	startTime time.Time
}

// NewStreamMetrics creates a new metrics tracker for a stream
func NewStreamMetrics(side string) *StreamMetrics {
	return &StreamMetrics{
		side:      side,
		startTime: time.Now(),
	}
}

// RecordStreamStart records the start of a stream
func (m *StreamMetrics) RecordStreamStart() {
	activeStreams.WithLabelValues(m.side).Inc()
	totalStreams.WithLabelValues(m.side).Inc()
}

// RecordStreamEnd records the end of a stream
func (m *StreamMetrics) RecordStreamEnd() {
	activeStreams.WithLabelValues(m.side).Dec()
	streamDuration.WithLabelValues(m.side).Observe(time.Since(m.startTime).Seconds())
}

// RecordBytes records PCM bytes written or read by this stream
func (m *StreamMetrics) RecordBytes(n int) {
	audioBytes.WithLabelValues(m.side).Add(float64(n))
}

// RecordError records an error
func (m *StreamMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordStreamRejected counts a stream refused because its side was busy
func RecordStreamRejected(side string) {
	rejectedStreams.WithLabelValues(side).Inc()
}

// RecordInitFailure counts a failed format negotiation
func RecordInitFailure(side, reason string) {
	initFailures.WithLabelValues(side, reason).Inc()
}

// SetCaptureLevel publishes the level of the last captured block
func SetCaptureLevel(level float64) {
	captureLevel.Set(level)
}

// RecordActivity counts a signal transition
func RecordActivity(started bool) {
	if started {
		activityTransitions.WithLabelValues("start").Inc()
		return
	}
	activityTransitions.WithLabelValues("stop").Inc()
}

// BufferMetrics exports ring buffer overflow and underrun counts.
type BufferMetrics struct{}

var _ audio.Observer = BufferMetrics{}

// FramesDropped implements audio.Observer
func (BufferMetrics) FramesDropped(n int) {
	framesDropped.Add(float64(n))
}

// SilenceFilled implements audio.Observer
func (BufferMetrics) SilenceFilled(n int) {
	silenceBytes.Add(float64(n))
}
