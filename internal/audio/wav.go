package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVStream is a RIFF/WAVE stream positioned at the start of its data chunk.
type WAVStream struct {
	Format   *WaveFormatEx
	Data     io.Reader
	DataSize uint32
}

// ReadWAV parses the RIFF header and chunks up to the data chunk.
// The fmt chunk body is a WAVEFORMATEX and is decoded as such.
func ReadWAV(r io.Reader) (*WAVStream, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidArgument)
	}

	var format *WaveFormatEx
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: no data chunk", ErrInvalidArgument)
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			f, err := DecodeWaveFormatEx(body)
			if err != nil {
				return nil, err
			}
			format = f
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, fmt.Errorf("skip fmt padding: %w", err)
				}
			}
		case "data":
			if format == nil {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidArgument)
			}
			return &WAVStream{
				Format:   format,
				Data:     io.LimitReader(r, int64(size)),
				DataSize: size,
			}, nil
		default:
			// chunks are padded to an even size
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// WriteWAVHeader writes a canonical RIFF/WAVE header for dataSize bytes of f.
func WriteWAVHeader(w io.Writer, f *WaveFormatEx, dataSize uint32) error {
	fmtChunk, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	if f.FormatTag == WaveFormatTagPCM && len(f.Extra) == 0 {
		fmtChunk = fmtChunk[:pcmWaveFormatSize]
	}

	buf := make([]byte, 0, 12+8+len(fmtChunk)+8)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(4+8+len(fmtChunk)+8)+dataSize)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(fmtChunk)))
	buf = append(buf, fmtChunk...)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, dataSize)

	_, err = w.Write(buf)
	return err
}
