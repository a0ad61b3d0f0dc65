package audio

import (
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultBufferSeconds is the capacity of a RingBuffer in seconds of input audio.
// A render stream rarely needs more than a few periods; the rest is headroom.
const DefaultBufferSeconds = 4

// Observer receives overflow and underrun notifications. Calls happen after
// the buffer's lock has been released and only for non-zero counts.
type Observer interface {
	FramesDropped(n int)
	SilenceFilled(n int)
}

// BufferConfig holds configuration for a RingBuffer
type BufferConfig struct {
	Seconds   int // capacity in seconds of input audio
	Frames    int // when > 0, capacity in input frames; overrides Seconds
	Allocator Allocator
	Observer  Observer
	Logger    *zerolog.Logger
}

// DefaultBufferConfig returns a default buffer configuration
func DefaultBufferConfig() *BufferConfig {
	return &BufferConfig{
		Seconds:   DefaultBufferSeconds,
		Allocator: DefaultAllocator,
	}
}

// State is a consistent snapshot of a RingBuffer's bookkeeping.
type State struct {
	Initialized     bool
	FrameSizeIn     int
	FrameSizeOut    int
	NumFrames       int
	WriteFrameID    int
	ReadFrameID     int
	Unread          int // frames written but not yet read, 0..NumFrames
	PartialBytesIn  int // bytes missing from the frame being assembled
	PartialBytesOut int // converted bytes not yet delivered
	FramesDropped   uint64
	SilenceBytes    uint64
}

// RingBuffer is a frame-aligned circular buffer between one PCM producer and
// one PCM consumer. Writes never block and overwrite the oldest frame when
// full; reads never block and return silence when empty. Samples are widened
// from the input bit depth to the output bit depth on read.
//
// All methods are safe for concurrent use. The stream semantics hold for a
// single producer and a single consumer.
type RingBuffer struct {
	lock spinLock

	seconds   int
	frames    int
	allocator Allocator
	observer  Observer
	logger    zerolog.Logger

	storage    region
	partialIn  region
	partialOut region

	inFormat  WaveFormatEx
	outFormat WaveFormatExtensible
	hasOutput bool
	convert   SampleConverter

	frameSizeIn  int
	frameSizeOut int
	inSample     int // bytes per input sample
	outSample    int // bytes per output sample
	inChannels   int
	outChannels  int
	numFrames    int

	writeFrameID    int
	readFrameID     int
	unread          int
	partialBytesIn  int
	partialBytesOut int
	partialSilent   bool // partialOut holds a silent tail

	framesDropped uint64
	silenceBytes  uint64
}

// NewRingBuffer creates an uninitialized ring buffer
func NewRingBuffer(config *BufferConfig) *RingBuffer {
	if config == nil {
		config = DefaultBufferConfig()
	}
	rb := &RingBuffer{
		seconds:   config.Seconds,
		frames:    config.Frames,
		allocator: config.Allocator,
		observer:  config.Observer,
		logger:    zerolog.Nop(),
	}
	if rb.seconds <= 0 {
		rb.seconds = DefaultBufferSeconds
	}
	if rb.allocator == nil {
		rb.allocator = DefaultAllocator
	}
	if config.Logger != nil {
		rb.logger = config.Logger.With().Str("component", "ring_buffer").Logger()
	}
	return rb
}

// InitializeInput negotiates the producer format and allocates storage.
// It fails with ErrAlreadyInitialized while storage is live.
func (rb *RingBuffer) InitializeInput(df *DataFormat) error {
	if df == nil {
		return fmt.Errorf("%w: nil data format", ErrInvalidArgument)
	}
	wf, err := df.waveFormat()
	if err != nil {
		return err
	}
	if !wf.IsLinearPCM() {
		return fmt.Errorf("%w: input format tag 0x%04x is not linear PCM", ErrInvalidArgument, wf.FormatTag)
	}
	if err := validatePCM(wf); err != nil {
		return err
	}

	rb.lock.Lock()
	live := rb.storage.live()
	rb.lock.Unlock()
	if live {
		return ErrAlreadyInitialized
	}

	frameSize := wf.FrameSize()
	numFrames := rb.frames
	if numFrames <= 0 {
		numFrames = rb.seconds * int(wf.SamplesPerSec)
	}

	// Allocate before taking the lock; nothing allocates while it is held.
	storage, err := allocRegion(rb.allocator, numFrames*frameSize)
	if err != nil {
		return fmt.Errorf("ring buffer storage: %w", err)
	}
	partial, err := allocRegion(rb.allocator, frameSize)
	if err != nil {
		storage.release()
		return fmt.Errorf("partial input frame: %w", err)
	}

	format := wf.Clone()
	if format.FormatTag == WaveFormatTagPCM {
		// PCMWAVEFORMAT has no extension
		format.Extra = nil
	}

	rb.lock.Lock()
	if rb.storage.live() {
		rb.lock.Unlock()
		storage.release()
		partial.release()
		return ErrAlreadyInitialized
	}
	var convert SampleConverter
	if rb.hasOutput {
		key := ConversionKey{SourceBits: int(format.BitsPerSample), DestBits: int(rb.outFormat.Format.BitsPerSample)}
		fn, ok := LookupConverter(key)
		if !ok {
			rb.lock.Unlock()
			storage.release()
			partial.release()
			return fmt.Errorf("%w: %s", ErrUnsupportedConversion, key)
		}
		convert = fn
	}
	oldPartial := rb.partialIn

	rb.inFormat = format
	rb.storage = storage
	rb.partialIn = partial
	rb.convert = convert
	rb.frameSizeIn = frameSize
	rb.inSample = int(format.BitsPerSample) / 8
	rb.inChannels = int(format.Channels)
	rb.numFrames = numFrames
	rb.writeFrameID = 0
	rb.readFrameID = 0
	rb.unread = 0
	rb.partialBytesIn = 0
	rb.lock.Unlock()

	oldPartial.release()

	rb.logger.Info().
		Uint16("channels", format.Channels).
		Uint16("bits_per_sample", format.BitsPerSample).
		Uint32("samples_per_sec", format.SamplesPerSec).
		Int("frame_size", frameSize).
		Int("num_frames", numFrames).
		Str("specifier", df.Specifier.String()).
		Msg("Render format negotiated")
	return nil
}

// InitializeOutput negotiates the consumer format. It may be called again
// while the buffer is live; both cursors are reset.
func (rb *RingBuffer) InitializeOutput(f *WaveFormatExtensible) error {
	if f == nil {
		return fmt.Errorf("%w: nil output format", ErrInvalidArgument)
	}
	if !f.IsLinearPCM() {
		return fmt.Errorf("%w: output format is not linear PCM", ErrInvalidArgument)
	}
	if err := validatePCM(&f.Format); err != nil {
		return err
	}

	format := f.Clone()
	frameSize := format.FrameSize()
	partial, err := allocRegion(rb.allocator, frameSize)
	if err != nil {
		return fmt.Errorf("partial output frame: %w", err)
	}

	rb.lock.Lock()
	var convert SampleConverter
	if rb.frameSizeIn > 0 {
		key := ConversionKey{SourceBits: int(rb.inFormat.BitsPerSample), DestBits: int(format.Format.BitsPerSample)}
		fn, ok := LookupConverter(key)
		if !ok {
			rb.lock.Unlock()
			partial.release()
			return fmt.Errorf("%w: %s", ErrUnsupportedConversion, key)
		}
		convert = fn
	}
	oldPartial := rb.partialOut

	rb.outFormat = format
	rb.hasOutput = true
	rb.partialOut = partial
	rb.convert = convert
	rb.frameSizeOut = frameSize
	rb.outSample = int(format.Format.BitsPerSample) / 8
	rb.outChannels = int(format.Format.Channels)
	rb.partialBytesOut = 0
	rb.partialSilent = false
	rb.writeFrameID = 0
	rb.readFrameID = 0
	rb.unread = 0
	rb.lock.Unlock()

	oldPartial.release()

	rb.logger.Info().
		Uint16("channels", format.Format.Channels).
		Uint16("bits_per_sample", format.Format.BitsPerSample).
		Uint32("samples_per_sec", format.Format.SamplesPerSec).
		Int("frame_size", frameSize).
		Msg("Capture format negotiated")
	return nil
}

// Reset releases all owned memory and returns the buffer to its
// uninitialized state. Calling it again is a no-op.
func (rb *RingBuffer) Reset() {
	rb.lock.Lock()
	storage, partialIn, partialOut := rb.storage, rb.partialIn, rb.partialOut
	wasLive := storage.live() || partialIn.live() || partialOut.live()

	rb.storage = region{}
	rb.partialIn = region{}
	rb.partialOut = region{}
	rb.inFormat = WaveFormatEx{}
	rb.outFormat = WaveFormatExtensible{}
	rb.hasOutput = false
	rb.convert = nil
	rb.frameSizeIn = 0
	rb.frameSizeOut = 0
	rb.inSample = 0
	rb.outSample = 0
	rb.inChannels = 0
	rb.outChannels = 0
	rb.numFrames = 0
	rb.writeFrameID = 0
	rb.readFrameID = 0
	rb.unread = 0
	rb.partialBytesIn = 0
	rb.partialBytesOut = 0
	rb.partialSilent = false
	rb.framesDropped = 0
	rb.silenceBytes = 0
	rb.lock.Unlock()

	storage.release()
	partialIn.release()
	partialOut.release()

	if wasLive {
		rb.logger.Debug().Msg("Ring buffer released")
	}
}

// WriteData appends PCM bytes at input frame granularity. Bytes that do not
// complete a frame are kept until the next call. When the buffer is full the
// oldest unread frame is discarded.
func (rb *RingBuffer) WriteData(p []byte) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty write", ErrInvalidArgument)
	}

	rb.lock.Lock()
	if !rb.storage.live() {
		rb.lock.Unlock()
		return ErrUninitialized
	}

	dropped := 0
	if rb.partialBytesIn > 0 {
		offset := rb.frameSizeIn - rb.partialBytesIn
		n := copy(rb.partialIn.buf[offset:], p)
		p = p[n:]
		rb.partialBytesIn -= n
		if rb.partialBytesIn == 0 {
			dropped += rb.commit(rb.partialIn.buf)
			clear(rb.partialIn.buf)
		}
	}

	for len(p) >= rb.frameSizeIn {
		dropped += rb.commit(p[:rb.frameSizeIn])
		p = p[rb.frameSizeIn:]
	}

	if len(p) > 0 {
		copy(rb.partialIn.buf, p)
		rb.partialBytesIn = rb.frameSizeIn - len(p)
	}

	rb.framesDropped += uint64(dropped)
	observer := rb.observer
	rb.lock.Unlock()

	if dropped > 0 && observer != nil {
		observer.FramesDropped(dropped)
	}
	return nil
}

// ReadData fills p with converted PCM. Missing data is replaced by silence.
func (rb *RingBuffer) ReadData(p []byte) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty read", ErrInvalidArgument)
	}

	rb.lock.Lock()
	if !rb.storage.live() || rb.frameSizeOut == 0 || rb.convert == nil {
		rb.lock.Unlock()
		return ErrUninitialized
	}

	silence := 0
	if rb.partialBytesOut > 0 {
		offset := rb.frameSizeOut - rb.partialBytesOut
		n := copy(p, rb.partialOut.buf[offset:])
		p = p[n:]
		rb.partialBytesOut -= n
		if rb.partialSilent {
			silence += n
		}
		if rb.partialBytesOut == 0 {
			clear(rb.partialOut.buf)
			rb.partialSilent = false
		}
	}

	if len(p) > 0 {
		silence += rb.drain(p)
	}

	rb.silenceBytes += uint64(silence)
	observer := rb.observer
	rb.lock.Unlock()

	if silence > 0 && observer != nil {
		observer.SilenceFilled(silence)
	}
	return nil
}

// State returns a snapshot of the buffer's bookkeeping
func (rb *RingBuffer) State() State {
	rb.lock.Lock()
	defer rb.lock.Unlock()

	return State{
		Initialized:     rb.storage.live(),
		FrameSizeIn:     rb.frameSizeIn,
		FrameSizeOut:    rb.frameSizeOut,
		NumFrames:       rb.numFrames,
		WriteFrameID:    rb.writeFrameID,
		ReadFrameID:     rb.readFrameID,
		Unread:          rb.unread,
		PartialBytesIn:  rb.partialBytesIn,
		PartialBytesOut: rb.partialBytesOut,
		FramesDropped:   rb.framesDropped,
		SilenceBytes:    rb.silenceBytes,
	}
}

// InputFormat returns a copy of the negotiated render format
func (rb *RingBuffer) InputFormat() (WaveFormatEx, bool) {
	rb.lock.Lock()
	defer rb.lock.Unlock()
	if rb.frameSizeIn == 0 {
		return WaveFormatEx{}, false
	}
	return rb.inFormat.Clone(), true
}

// OutputFormat returns a copy of the negotiated capture format
func (rb *RingBuffer) OutputFormat() (WaveFormatExtensible, bool) {
	rb.lock.Lock()
	defer rb.lock.Unlock()
	if !rb.hasOutput {
		return WaveFormatExtensible{}, false
	}
	return rb.outFormat.Clone(), true
}

// commit copies one input frame into the slot at writeFrameID and advances
// the write cursor. Returns the number of frames discarded (0 or 1).
func (rb *RingBuffer) commit(frame []byte) int {
	offset := rb.writeFrameID * rb.frameSizeIn
	copy(rb.storage.buf[offset:offset+rb.frameSizeIn], frame)

	dropped := 0
	if rb.unread == rb.numFrames {
		// full: the slot just written held the oldest unread frame
		rb.readFrameID = rb.nextFrame(rb.readFrameID)
		rb.unread--
		dropped = 1
	}
	rb.writeFrameID = rb.nextFrame(rb.writeFrameID)
	rb.unread++
	return dropped
}

// drain converts unread frames into p and returns the number of bytes
// filled with silence.
func (rb *RingBuffer) drain(p []byte) int {
	for len(p) >= rb.frameSizeOut && rb.unread > 0 {
		rb.convertFrame(p[:rb.frameSizeOut])
		p = p[rb.frameSizeOut:]
	}
	if len(p) == 0 {
		return 0
	}

	if rb.unread == 0 {
		clear(p)
		if rem := len(p) % rb.frameSizeOut; rem > 0 {
			// keep the silent tail so the next read stays frame aligned
			clear(rb.partialOut.buf)
			rb.partialBytesOut = rb.frameSizeOut - rem
			rb.partialSilent = true
		}
		return len(p)
	}

	rb.convertFrame(rb.partialOut.buf)
	n := copy(p, rb.partialOut.buf)
	rb.partialBytesOut = rb.frameSizeOut - n
	rb.partialSilent = false
	return 0
}

// convertFrame converts the frame at readFrameID into dst and advances the
// read cursor. Output channel c takes input channel c % inChannels.
func (rb *RingBuffer) convertFrame(dst []byte) {
	src := rb.storage.buf[rb.readFrameID*rb.frameSizeIn:]
	for c := 0; c < rb.outChannels; c++ {
		sc := c % rb.inChannels
		rb.convert(dst[c*rb.outSample:(c+1)*rb.outSample], src[sc*rb.inSample:(sc+1)*rb.inSample])
	}
	rb.readFrameID = rb.nextFrame(rb.readFrameID)
	rb.unread--
}

func (rb *RingBuffer) nextFrame(id int) int {
	id++
	if id == rb.numFrames {
		return 0
	}
	return id
}
