package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "pcm-loopback", status.Service)
}

func TestReadinessHandler(t *testing.T) {
	ready := func(ctx context.Context) (bool, error) { return true, nil }
	notNegotiated := func(ctx context.Context) (bool, error) { return false, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("boom") }

	tests := []struct {
		name     string
		checks   map[string]HealthCheckFunc
		code     int
		status   string
		messages map[string]string
	}{
		{
			name:   "all ready",
			checks: map[string]HealthCheckFunc{"ring_buffer": ready},
			code:   http.StatusOK,
			status: "ready",
		},
		{
			name:   "not negotiated",
			checks: map[string]HealthCheckFunc{"ring_buffer": notNegotiated, "other": ready},
			code:   http.StatusServiceUnavailable,
			status: "not_ready",
		},
		{
			name:     "check error",
			checks:   map[string]HealthCheckFunc{"ring_buffer": failing},
			code:     http.StatusServiceUnavailable,
			status:   "not_ready",
			messages: map[string]string{"ring_buffer": "boom"},
		},
		{
			name:   "no checks",
			checks: nil,
			code:   http.StatusOK,
			status: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.code, rec.Code)

			var status HealthStatus
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
			assert.Equal(t, tt.status, status.Status)
			assert.Len(t, status.Dependencies, len(tt.checks))
			for name, msg := range tt.messages {
				assert.Equal(t, msg, status.Dependencies[name].Message)
			}
		})
	}
}

func TestWatchReadiness(t *testing.T) {
	hs := health.NewServer()
	ready := make(chan bool, 1)
	ready <- false
	current := false
	check := func(ctx context.Context) (bool, error) {
		select {
		case current = <-ready:
		default:
		}
		return current, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchReadiness(ctx, hs, 10*time.Millisecond, map[string]HealthCheckFunc{"ring_buffer": check})
		close(done)
	}()

	servingStatus := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "pcm-loopback"})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool {
		return servingStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	ready <- true
	assert.Eventually(t, func() bool {
		return servingStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus())
}

func TestBufferMetrics(t *testing.T) {
	dropped := testutil.ToFloat64(framesDropped)
	silence := testutil.ToFloat64(silenceBytes)

	var m BufferMetrics
	m.FramesDropped(3)
	m.SilenceFilled(128)

	assert.Equal(t, dropped+3, testutil.ToFloat64(framesDropped))
	assert.Equal(t, silence+128, testutil.ToFloat64(silenceBytes))
}

func TestStreamMetrics(t *testing.T) {
	active := testutil.ToFloat64(activeStreams.WithLabelValues(SideCapture))
	bytes := testutil.ToFloat64(audioBytes.WithLabelValues(SideCapture))

	m := NewStreamMetrics(SideCapture)
	m.RecordStreamStart()
	assert.Equal(t, active+1, testutil.ToFloat64(activeStreams.WithLabelValues(SideCapture)))

	m.RecordBytes(960)
	assert.Equal(t, bytes+960, testutil.ToFloat64(audioBytes.WithLabelValues(SideCapture)))

	m.RecordStreamEnd()
	assert.Equal(t, active, testutil.ToFloat64(activeStreams.WithLabelValues(SideCapture)))
}

func TestRecordActivity(t *testing.T) {
	starts := testutil.ToFloat64(activityTransitions.WithLabelValues("start"))
	stops := testutil.ToFloat64(activityTransitions.WithLabelValues("stop"))

	RecordActivity(true)
	RecordActivity(false)
	RecordActivity(false)

	assert.Equal(t, starts+1, testutil.ToFloat64(activityTransitions.WithLabelValues("start")))
	assert.Equal(t, stops+2, testutil.ToFloat64(activityTransitions.WithLabelValues("stop")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("debug").String())
	assert.Equal(t, "warn", ParseLevel("warn").String())
	assert.Equal(t, "info", ParseLevel("verbose").String())
}

func TestWithStreamID(t *testing.T) {
	assert.NotEmpty(t, NewStreamID())
	assert.NotEqual(t, NewStreamID(), NewStreamID())

	// an empty ID must not panic and yields a usable logger
	logger := WithStreamID("", SideRender)
	logger.Debug().Msg("stream logger ready")
}
