package audio

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWAV_HeaderRoundTrip(t *testing.T) {
	data := pcm16(1, 2, 3, 4)
	var buf bytes.Buffer
	if err := WriteWAVHeader(&buf, NewPCMFormat(2, 16, 16000), uint32(len(data))); err != nil {
		t.Fatalf("WriteWAVHeader failed: %v", err)
	}
	if buf.Len() != 44 {
		t.Errorf("Expected canonical 44-byte header, got %d", buf.Len())
	}
	buf.Write(data)

	s, err := ReadWAV(&buf)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if s.Format.Channels != 2 || s.Format.SamplesPerSec != 16000 || s.Format.BitsPerSample != 16 {
		t.Errorf("Unexpected format %+v", s.Format)
	}
	if s.DataSize != uint32(len(data)) {
		t.Errorf("Expected data size %d, got %d", len(data), s.DataSize)
	}
	got, _ := io.ReadAll(s.Data)
	if !bytes.Equal(got, data) {
		t.Errorf("Expected %v, got %v", data, got)
	}
}

func TestReadWAV_SkipsUnknownChunks(t *testing.T) {
	var hdr bytes.Buffer
	if err := WriteWAVHeader(&hdr, NewPCMFormat(1, 8, 8000), 2); err != nil {
		t.Fatalf("WriteWAVHeader failed: %v", err)
	}
	raw := hdr.Bytes()

	// insert an odd-sized LIST chunk between fmt and data
	var b bytes.Buffer
	b.Write(raw[:36])
	b.WriteString("LIST")
	b.Write([]byte{3, 0, 0, 0, 'a', 'b', 'c', 0})
	b.Write(raw[36:])
	b.Write([]byte{0x80, 0x81})

	s, err := ReadWAV(&b)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	got, _ := io.ReadAll(s.Data)
	if !bytes.Equal(got, []byte{0x80, 0x81}) {
		t.Errorf("Expected data bytes, got %v", got)
	}
}

func TestReadWAV_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"not riff", []byte("RIFX\x00\x00\x00\x00WAVE")},
		{"no data", []byte("RIFF\x04\x00\x00\x00WAVE")},
		{"data before fmt", []byte("RIFF\x0c\x00\x00\x00WAVEdata\x00\x00\x00\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadWAV(bytes.NewReader(tt.input)); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}
