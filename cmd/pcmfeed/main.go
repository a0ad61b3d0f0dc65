// Command pcmfeed streams the data chunk of a WAVE file to the render
// endpoint of a loopback server, paced in real time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/pcm-loopback/internal/audio"
	"github.com/lexiqai/pcm-loopback/internal/config"
	"github.com/lexiqai/pcm-loopback/internal/observability"
	"github.com/lexiqai/pcm-loopback/internal/resilience"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	file := flag.String("file", "", "WAVE file to stream")
	url := flag.String("url", cfg.FeedURL, "render endpoint")
	loop := flag.Bool("loop", false, "restart from the beginning at end of file")
	strict := flag.Bool("strict", false, "refuse files whose format differs from the render format")
	flag.Parse()

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithStreamID("", observability.SideRender)

	if *file == "" {
		logger.Fatal().Msg("-file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := &feeder{
		url:     *url,
		chunkMS: cfg.FeedChunkMS,
		expect:  audio.NewPCMFormat(cfg.RenderChannels, cfg.RenderBitsPerSample, cfg.RenderSampleRate),
		strict:  *strict,
		logger:  logger,
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
			IsRetryable: resilience.IsRetryableNetworkError,
			Logger:      &logger,
		},
	}
	defer f.close()

	for {
		err := f.streamFile(ctx, *file)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Fatal().Err(err).Msg("Feed failed")
		}
		if !*loop {
			break
		}
	}
	logger.Info().Int64("bytes_sent", f.sent).Msg("Feed finished")
}

type feeder struct {
	url       string
	chunkMS   int
	expect    *audio.WaveFormatEx // render format configured on the server side
	strict    bool
	reconnect *resilience.ReconnectConfig
	logger    zerolog.Logger

	conn *websocket.Conn
	sent int64
}

func (f *feeder) streamFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	wav, err := audio.ReadWAV(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !wav.Format.IsLinearPCM() {
		return fmt.Errorf("%s: format tag 0x%04x is not linear PCM", path, wav.Format.FormatTag)
	}
	if diffs := formatMismatch(wav.Format, f.expect); len(diffs) > 0 {
		if f.strict {
			return fmt.Errorf("%s: %w: %s", path, errFormatMismatch, strings.Join(diffs, ", "))
		}
		f.logger.Warn().
			Str("file", path).
			Strs("mismatch", diffs).
			Msg("WAVE format differs from render format, audio will be misinterpreted")
	}

	frameSize := wav.Format.FrameSize()
	frames := int(wav.Format.SamplesPerSec) * f.chunkMS / 1000
	if frames < 1 {
		frames = 1
	}
	chunk := make([]byte, frames*frameSize)

	f.logger.Info().
		Str("file", path).
		Uint16("channels", wav.Format.Channels).
		Uint16("bits_per_sample", wav.Format.BitsPerSample).
		Uint32("samples_per_sec", wav.Format.SamplesPerSec).
		Uint32("data_size", wav.DataSize).
		Int("chunk_bytes", len(chunk)).
		Msg("Streaming WAVE data")

	ticker := time.NewTicker(time.Duration(f.chunkMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(wav.Data, chunk)
		if n > 0 {
			if err := f.send(ctx, chunk[:n]); err != nil {
				return err
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// send writes one chunk, reconnecting first if there is no connection or
// the previous write failed.
func (f *feeder) send(ctx context.Context, chunk []byte) error {
	for {
		if f.conn == nil {
			if err := resilience.Reconnect(ctx, f.dial, f.reconnect); err != nil {
				return err
			}
		}

		err := f.conn.WriteMessage(websocket.BinaryMessage, chunk)
		if err == nil {
			f.sent += int64(len(chunk))
			return nil
		}
		f.logger.Warn().Err(err).Msg("Write failed, reconnecting")
		f.conn.Close()
		f.conn = nil
	}
}

func (f *feeder) dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			// another render stream is attached; it may go away
			return resilience.NewRetryableError(fmt.Errorf("dial %s: %s", f.url, resp.Status))
		}
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	f.conn = conn
	f.logger.Info().Str("url", f.url).Msg("Connected to render endpoint")
	return nil
}

var errFormatMismatch = errors.New("format differs from render format")

// formatMismatch lists the fields of got that differ from want.
func formatMismatch(got, want *audio.WaveFormatEx) []string {
	if want == nil {
		return nil
	}
	var diffs []string
	if got.Channels != want.Channels {
		diffs = append(diffs, fmt.Sprintf("channels %d, want %d", got.Channels, want.Channels))
	}
	if got.BitsPerSample != want.BitsPerSample {
		diffs = append(diffs, fmt.Sprintf("bits_per_sample %d, want %d", got.BitsPerSample, want.BitsPerSample))
	}
	if got.SamplesPerSec != want.SamplesPerSec {
		diffs = append(diffs, fmt.Sprintf("samples_per_sec %d, want %d", got.SamplesPerSec, want.SamplesPerSec))
	}
	return diffs
}

func (f *feeder) close() {
	if f.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	f.conn.Close()
	f.conn = nil
}
