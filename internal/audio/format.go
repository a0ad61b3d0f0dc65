package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Wave format tags
const (
	WaveFormatTagPCM        uint16 = 0x0001
	WaveFormatTagIEEEFloat  uint16 = 0x0003
	WaveFormatTagExtensible uint16 = 0xFFFE
)

const (
	waveFormatExSize       = 18 // WAVEFORMATEX header including cbSize
	pcmWaveFormatSize      = 16 // PCMWAVEFORMAT, no cbSize
	extensibleExtraSize    = 22 // valid bits + channel mask + subtype GUID
	dsoundBufferHeaderSize = 8  // flags + control
	maxChannels            = 32
)

var (
	// SpecifierWaveFormatEx marks a data format whose payload is a WAVEFORMATEX.
	SpecifierWaveFormatEx = uuid.MustParse("05589f81-c356-11ce-bf01-00aa0055595a")
	// SpecifierDSound marks a data format whose payload is a DirectSound buffer description.
	SpecifierDSound = uuid.MustParse("518590a2-a184-11d0-8522-00c04fd9baf3")

	MajorFormatAudio = uuid.MustParse("73647561-0000-0010-8000-00aa00389b71")
	SubtypePCM       = uuid.MustParse("00000001-0000-0010-8000-00aa00389b71")
	SubtypeIEEEFloat = uuid.MustParse("00000003-0000-0010-8000-00aa00389b71")
)

// WaveFormatEx mirrors the WAVEFORMATEX descriptor. Extra holds the cbSize
// extension bytes exactly as received.
type WaveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Extra          []byte
}

// NewPCMFormat builds a plain PCM descriptor
func NewPCMFormat(channels, bitsPerSample, sampleRate int) *WaveFormatEx {
	blockAlign := channels * bitsPerSample / 8
	return &WaveFormatEx{
		FormatTag:      WaveFormatTagPCM,
		Channels:       uint16(channels),
		SamplesPerSec:  uint32(sampleRate),
		AvgBytesPerSec: uint32(sampleRate * blockAlign),
		BlockAlign:     uint16(blockAlign),
		BitsPerSample:  uint16(bitsPerSample),
	}
}

// FrameSize returns bytes per frame (one sample for every channel)
func (f *WaveFormatEx) FrameSize() int {
	return int(f.Channels) * int(f.BitsPerSample) / 8
}

// Clone returns a deep copy that does not share the extension bytes.
func (f *WaveFormatEx) Clone() WaveFormatEx {
	c := *f
	if f.Extra != nil {
		c.Extra = bytes.Clone(f.Extra)
	}
	return c
}

// SubFormat returns the subtype GUID carried in the extension of an
// EXTENSIBLE descriptor.
func (f *WaveFormatEx) SubFormat() (uuid.UUID, bool) {
	if f.FormatTag != WaveFormatTagExtensible || len(f.Extra) < extensibleExtraSize {
		return uuid.Nil, false
	}
	return guidFromBytes(f.Extra[6:22]), true
}

// IsLinearPCM reports whether the descriptor is plain PCM or EXTENSIBLE
// with the PCM subtype.
func (f *WaveFormatEx) IsLinearPCM() bool {
	if f.FormatTag == WaveFormatTagPCM {
		return true
	}
	sub, ok := f.SubFormat()
	return ok && sub == SubtypePCM
}

// MarshalBinary encodes the descriptor in the little-endian WAVEFORMATEX layout.
func (f *WaveFormatEx) MarshalBinary() ([]byte, error) {
	if len(f.Extra) > 0xFFFF {
		return nil, fmt.Errorf("%w: extension of %d bytes", ErrInvalidArgument, len(f.Extra))
	}
	b := make([]byte, waveFormatExSize, waveFormatExSize+len(f.Extra))
	binary.LittleEndian.PutUint16(b[0:], f.FormatTag)
	binary.LittleEndian.PutUint16(b[2:], f.Channels)
	binary.LittleEndian.PutUint32(b[4:], f.SamplesPerSec)
	binary.LittleEndian.PutUint32(b[8:], f.AvgBytesPerSec)
	binary.LittleEndian.PutUint16(b[12:], f.BlockAlign)
	binary.LittleEndian.PutUint16(b[14:], f.BitsPerSample)
	binary.LittleEndian.PutUint16(b[16:], uint16(len(f.Extra)))
	return append(b, f.Extra...), nil
}

// DecodeWaveFormatEx parses a WAVEFORMATEX. A 16-byte PCMWAVEFORMAT is
// accepted and yields no extension bytes.
func DecodeWaveFormatEx(b []byte) (*WaveFormatEx, error) {
	if len(b) < pcmWaveFormatSize {
		return nil, fmt.Errorf("%w: wave format too short (%d bytes)", ErrInvalidArgument, len(b))
	}
	f := &WaveFormatEx{
		FormatTag:      binary.LittleEndian.Uint16(b[0:]),
		Channels:       binary.LittleEndian.Uint16(b[2:]),
		SamplesPerSec:  binary.LittleEndian.Uint32(b[4:]),
		AvgBytesPerSec: binary.LittleEndian.Uint32(b[8:]),
		BlockAlign:     binary.LittleEndian.Uint16(b[12:]),
		BitsPerSample:  binary.LittleEndian.Uint16(b[14:]),
	}
	if len(b) < waveFormatExSize {
		return f, nil
	}
	cbSize := int(binary.LittleEndian.Uint16(b[16:]))
	if len(b) < waveFormatExSize+cbSize {
		return nil, fmt.Errorf("%w: cbSize %d exceeds payload", ErrInvalidArgument, cbSize)
	}
	if cbSize > 0 {
		f.Extra = bytes.Clone(b[waveFormatExSize : waveFormatExSize+cbSize])
	}
	return f, nil
}

// WaveFormatExtensible mirrors WAVEFORMATEXTENSIBLE.
type WaveFormatExtensible struct {
	Format             WaveFormatEx
	ValidBitsPerSample uint16
	ChannelMask        uint32
	SubFormat          uuid.UUID
}

// NewPCMExtensible builds an EXTENSIBLE descriptor with the PCM subtype.
func NewPCMExtensible(channels, bitsPerSample, sampleRate int) *WaveFormatExtensible {
	f := &WaveFormatExtensible{
		Format:             *NewPCMFormat(channels, bitsPerSample, sampleRate),
		ValidBitsPerSample: uint16(bitsPerSample),
		ChannelMask:        defaultChannelMask(channels),
		SubFormat:          SubtypePCM,
	}
	f.Format.FormatTag = WaveFormatTagExtensible
	f.Format.Extra = f.encodeExtra()
	return f
}

// IsLinearPCM reports whether the payload is linear PCM.
func (f *WaveFormatExtensible) IsLinearPCM() bool {
	switch f.Format.FormatTag {
	case WaveFormatTagPCM:
		return true
	case WaveFormatTagExtensible:
		return f.SubFormat == SubtypePCM
	}
	return false
}

// FrameSize returns bytes per frame
func (f *WaveFormatExtensible) FrameSize() int {
	return f.Format.FrameSize()
}

// Clone returns a deep copy
func (f *WaveFormatExtensible) Clone() WaveFormatExtensible {
	c := *f
	c.Format = f.Format.Clone()
	return c
}

func (f *WaveFormatExtensible) encodeExtra() []byte {
	extra := make([]byte, 6, extensibleExtraSize)
	binary.LittleEndian.PutUint16(extra[0:], f.ValidBitsPerSample)
	binary.LittleEndian.PutUint32(extra[2:], f.ChannelMask)
	return appendGUID(extra, f.SubFormat)
}

// DecodeWaveFormatExtensible parses a WAVEFORMATEXTENSIBLE. Plain PCM
// descriptors are accepted as well and leave the extensible fields empty.
func DecodeWaveFormatExtensible(b []byte) (*WaveFormatExtensible, error) {
	wf, err := DecodeWaveFormatEx(b)
	if err != nil {
		return nil, err
	}
	f := &WaveFormatExtensible{Format: *wf}
	if wf.FormatTag != WaveFormatTagExtensible {
		return f, nil
	}
	if len(wf.Extra) < extensibleExtraSize {
		return nil, fmt.Errorf("%w: extensible format with cbSize %d", ErrInvalidArgument, len(wf.Extra))
	}
	f.ValidBitsPerSample = binary.LittleEndian.Uint16(wf.Extra[0:])
	f.ChannelMask = binary.LittleEndian.Uint32(wf.Extra[2:])
	f.SubFormat = guidFromBytes(wf.Extra[6:22])
	return f, nil
}

// DataFormat is the negotiation-layer descriptor handed to InitializeInput.
// The wave format arrives in one of two encodings selected by Specifier.
type DataFormat struct {
	MajorFormat uuid.UUID
	SubFormat   uuid.UUID
	Specifier   uuid.UUID

	// DirectSound buffer description, only set for SpecifierDSound
	BufferFlags   uint32
	BufferControl uint32

	WaveFormat *WaveFormatEx
}

// NewDataFormat wraps wf with the WAVEFORMATEX specifier
func NewDataFormat(wf *WaveFormatEx) *DataFormat {
	df := &DataFormat{
		MajorFormat: MajorFormatAudio,
		SubFormat:   SubtypePCM,
		Specifier:   SpecifierWaveFormatEx,
		WaveFormat:  wf,
	}
	if sub, ok := wf.SubFormat(); ok {
		df.SubFormat = sub
	}
	return df
}

// DecodeDataFormat parses payload according to specifier.
func DecodeDataFormat(specifier uuid.UUID, payload []byte) (*DataFormat, error) {
	df := &DataFormat{
		MajorFormat: MajorFormatAudio,
		Specifier:   specifier,
	}
	switch specifier {
	case SpecifierWaveFormatEx:
	case SpecifierDSound:
		if len(payload) < dsoundBufferHeaderSize {
			return nil, fmt.Errorf("%w: dsound buffer description too short", ErrInvalidArgument)
		}
		df.BufferFlags = binary.LittleEndian.Uint32(payload[0:])
		df.BufferControl = binary.LittleEndian.Uint32(payload[4:])
		payload = payload[dsoundBufferHeaderSize:]
	default:
		return nil, fmt.Errorf("%w: unrecognized format specifier %s", ErrInvalidArgument, specifier)
	}

	wf, err := DecodeWaveFormatEx(payload)
	if err != nil {
		return nil, err
	}
	df.WaveFormat = wf
	df.SubFormat = SubtypePCM
	if sub, ok := wf.SubFormat(); ok {
		df.SubFormat = sub
	} else if wf.FormatTag == WaveFormatTagIEEEFloat {
		df.SubFormat = SubtypeIEEEFloat
	}
	return df, nil
}

// waveFormat resolves the embedded wave format for the recognized specifiers.
func (df *DataFormat) waveFormat() (*WaveFormatEx, error) {
	switch df.Specifier {
	case SpecifierWaveFormatEx, SpecifierDSound:
	default:
		return nil, fmt.Errorf("%w: unrecognized format specifier %s", ErrInvalidArgument, df.Specifier)
	}
	if df.WaveFormat == nil {
		return nil, fmt.Errorf("%w: data format carries no wave format", ErrInvalidArgument)
	}
	return df.WaveFormat, nil
}

func validatePCM(f *WaveFormatEx) error {
	if f.Channels == 0 || f.Channels > maxChannels {
		return fmt.Errorf("%w: %d channels", ErrInvalidArgument, f.Channels)
	}
	if !supportedBitDepth(int(f.BitsPerSample)) {
		return fmt.Errorf("%w: %d bits per sample", ErrInvalidArgument, f.BitsPerSample)
	}
	if f.SamplesPerSec == 0 {
		return fmt.Errorf("%w: sample rate is zero", ErrInvalidArgument)
	}
	return nil
}

func defaultChannelMask(channels int) uint32 {
	switch channels {
	case 1:
		return 0x4 // front center
	case 2:
		return 0x3 // front left | front right
	}
	if channels >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<uint(channels) - 1
}

// GUIDs are stored with their first three fields little-endian.
func guidFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:], binary.LittleEndian.Uint32(b[0:]))
	binary.BigEndian.PutUint16(u[4:], binary.LittleEndian.Uint16(b[4:]))
	binary.BigEndian.PutUint16(u[6:], binary.LittleEndian.Uint16(b[6:]))
	copy(u[8:], b[8:16])
	return u
}

func appendGUID(dst []byte, u uuid.UUID) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, binary.BigEndian.Uint32(u[0:]))
	dst = binary.LittleEndian.AppendUint16(dst, binary.BigEndian.Uint16(u[4:]))
	dst = binary.LittleEndian.AppendUint16(dst, binary.BigEndian.Uint16(u[6:]))
	return append(dst, u[8:]...)
}
