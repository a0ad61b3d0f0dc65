package loopback

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/pcm-loopback/internal/audio"
	"github.com/lexiqai/pcm-loopback/internal/observability"
	"github.com/rs/zerolog"
)

const (
	maxRenderMessage = 1 << 20
	writeWait        = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// streams come from local tooling, not browsers
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// streamSession holds the state of one attached render or capture stream
type streamSession struct {
	conn    *websocket.Conn
	dev     *Device
	side    string
	metrics *observability.StreamMetrics
	logger  zerolog.Logger
}

func newStreamSession(conn *websocket.Conn, dev *Device, side string) *streamSession {
	streamID := observability.NewStreamID()
	return &streamSession{
		conn:    conn,
		dev:     dev,
		side:    side,
		metrics: observability.NewStreamMetrics(side),
		logger:  observability.WithStreamID(streamID, side),
	}
}

// serveStream claims side on dev, upgrades the connection and runs fn.
// A second stream for the same side is refused with 409.
func serveStream(dev *Device, side string, fn func(*streamSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !dev.acquire(side) {
			observability.RecordStreamRejected(side)
			http.Error(w, side+" stream already attached", http.StatusConflict)
			return
		}
		defer dev.release(side)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already replied
			dev.logger.Warn().Err(err).Str("side", side).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		s := newStreamSession(conn, dev, side)
		s.metrics.RecordStreamStart()
		defer s.metrics.RecordStreamEnd()

		s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Stream attached")
		fn(s)
		s.logger.Info().Msg("Stream detached")
	}
}

// HandleRenderWS accepts PCM in the render format. Every binary message is
// written to the device; text messages are ignored.
func HandleRenderWS(dev *Device) http.HandlerFunc {
	return serveStream(dev, observability.SideRender, (*streamSession).processRender)
}

// HandleCaptureWS streams one capture block per capture period as binary
// messages until the client goes away.
func HandleCaptureWS(dev *Device) http.HandlerFunc {
	return serveStream(dev, observability.SideCapture, (*streamSession).processCapture)
}

func (s *streamSession) processRender() {
	s.conn.SetReadLimit(maxRenderMessage)

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
				s.metrics.RecordError("read_error", "render_stream")
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			s.logger.Warn().Int("message_type", msgType).Msg("Ignoring non-binary message")
			continue
		}
		if len(message) == 0 {
			continue
		}

		if err := s.dev.Write(message); err != nil {
			s.metrics.RecordError("write_error", "ring_buffer")
			if errors.Is(err, audio.ErrUninitialized) {
				s.logger.Warn().Msg("Device closed, ending render stream")
				s.closeWithReason(websocket.CloseGoingAway, "device closed")
				return
			}
			s.logger.Error().Err(err).Msg("Failed to write render data")
			continue
		}
		s.metrics.RecordBytes(len(message))
	}
}

func (s *streamSession) processCapture() {
	// Reads are only needed to observe the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := s.conn.NextReader(); err != nil {
				return
			}
		}
	}()

	format := s.dev.CaptureFormat()
	bits := int(format.Format.BitsPerSample)
	block := make([]byte, s.dev.CaptureBlockSize())
	detector := audio.NewActivityDetector(&s.dev.activity)

	ticker := time.NewTicker(s.dev.CapturePeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.dev.Read(block); err != nil {
				s.metrics.RecordError("read_error", "ring_buffer")
				s.logger.Warn().Err(err).Msg("Device closed, ending capture stream")
				s.closeWithReason(websocket.CloseGoingAway, "device closed")
				return
			}

			_, started, stopped := detector.ProcessBlock(block, bits)
			observability.SetCaptureLevel(detector.Level())
			if started {
				s.logger.Debug().Float64("level", detector.Level()).Msg("Signal started")
				observability.RecordActivity(true)
			}
			if stopped {
				s.logger.Debug().Msg("Signal stopped")
				observability.RecordActivity(false)
			}

			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, block); err != nil {
				s.logger.Warn().Err(err).Msg("WebSocket write error")
				s.metrics.RecordError("write_error", "capture_stream")
				return
			}
			s.metrics.RecordBytes(len(block))

		case <-done:
			return
		}
	}
}

func (s *streamSession) closeWithReason(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send close message")
	}
}
