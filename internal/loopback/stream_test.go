package loopback

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Device, *httptest.Server) {
	t.Helper()
	dev, err := NewDevice(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/render", HandleRenderWS(dev))
	mux.HandleFunc("/streams/capture", HandleCaptureWS(dev))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		dev.Close()
	})
	return dev, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestRenderToCapture(t *testing.T) {
	dev, srv := newTestServer(t)

	capture, _, err := dial(t, srv, "/streams/capture")
	require.NoError(t, err)
	defer capture.Close()

	render, _, err := dial(t, srv, "/streams/render")
	require.NoError(t, err)
	defer render.Close()

	// one capture period of render audio
	block := make([]byte, 80*2)
	for i := 0; i < 80; i++ {
		binary.LittleEndian.PutUint16(block[i*2:], uint16(1000))
	}
	require.NoError(t, render.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, render.WriteMessage(websocket.BinaryMessage, block))

	blockSize := dev.CaptureBlockSize()
	capture.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		msgType, msg, err := capture.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, msgType)
		require.Len(t, msg, blockSize)

		if binary.LittleEndian.Uint32(msg) == 0 {
			continue
		}
		for i := 0; i < 80; i++ {
			assert.Equal(t, int32(1000<<16), int32(binary.LittleEndian.Uint32(msg[i*4:])), "sample %d", i)
		}
		break
	}

	assert.Equal(t, uint64(0), dev.State().FramesDropped)
}

func TestRenderStream_Busy(t *testing.T) {
	_, srv := newTestServer(t)

	first, _, err := dial(t, srv, "/streams/render")
	require.NoError(t, err)

	_, resp, err := dial(t, srv, "/streams/render")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// the capture side is independent
	capture, _, err := dial(t, srv, "/streams/capture")
	require.NoError(t, err)
	capture.Close()

	first.Close()
	assert.Eventually(t, func() bool {
		conn, _, err := dial(t, srv, "/streams/render")
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCaptureStream_DeviceClosed(t *testing.T) {
	dev, srv := newTestServer(t)

	capture, _, err := dial(t, srv, "/streams/capture")
	require.NoError(t, err)
	defer capture.Close()

	dev.Close()

	capture.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := capture.ReadMessage()
		if err == nil {
			continue
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
		break
	}

	_, resp, err := dial(t, srv, "/streams/capture")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
