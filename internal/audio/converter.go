package audio

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"sync"
	"sync/atomic"
)

// ConversionKey selects a SampleConverter by source and destination bit depth.
type ConversionKey struct {
	SourceBits int
	DestBits   int
}

func (k ConversionKey) String() string {
	return fmt.Sprintf("%d->%d", k.SourceBits, k.DestBits)
}

// SampleConverter converts one little-endian source sample in src into one
// destination sample in dst. It must not allocate: it runs inside ReadData.
type SampleConverter func(dst, src []byte)

var (
	registryMu sync.Mutex
	// copy-on-write so lookups never take a lock
	registry atomic.Pointer[map[ConversionKey]SampleConverter]
)

func init() {
	defaults := make(map[ConversionKey]SampleConverter)
	depths := []int{8, 16, 24, 32}
	for _, src := range depths {
		for _, dst := range depths {
			if dst >= src {
				defaults[ConversionKey{src, dst}] = WideningConverter(src, dst)
			}
		}
	}
	registry.Store(&defaults)
}

// RegisterConverter installs fn for key, replacing any previous converter.
func RegisterConverter(key ConversionKey, fn SampleConverter) error {
	if fn == nil {
		return fmt.Errorf("%w: nil converter for %s", ErrInvalidArgument, key)
	}
	if !supportedBitDepth(key.SourceBits) || !supportedBitDepth(key.DestBits) {
		return fmt.Errorf("%w: bit depths %s", ErrInvalidArgument, key)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	next := maps.Clone(*registry.Load())
	next[key] = fn
	registry.Store(&next)
	return nil
}

// LookupConverter returns the converter registered for key
func LookupConverter(key ConversionKey) (SampleConverter, bool) {
	fn, ok := (*registry.Load())[key]
	return fn, ok
}

// WideningConverter returns a converter that left-shifts a srcBits sample
// into dstBits, preserving relative amplitude. No dithering, no rounding.
func WideningConverter(srcBits, dstBits int) SampleConverter {
	if srcBits == dstBits {
		n := srcBits / 8
		return func(dst, src []byte) {
			copy(dst[:n], src[:n])
		}
	}
	shift := uint(dstBits - srcBits)
	return func(dst, src []byte) {
		PutSample(dst, dstBits, DecodeSample(src, srcBits)<<shift)
	}
}

// DecodeSample reads one little-endian sample. 8-bit samples are unsigned
// with a 128 offset as in WAVE files and are re-centered around zero.
func DecodeSample(b []byte, bits int) int32 {
	switch bits {
	case 8:
		return int32(b[0]) - 128
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		// sign extend from 24 bits
		return v << 8 >> 8
	case 32:
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// PutSample writes v as one little-endian sample of the given width.
func PutSample(b []byte, bits int, v int32) {
	switch bits {
	case 8:
		b[0] = byte(v + 128)
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 24:
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	case 32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

// DecodeSamples decodes pcm into dst and returns the number of samples
// written. dst must hold len(pcm)/(bits/8) samples.
func DecodeSamples(dst []int32, pcm []byte, bits int) int {
	width := bits / 8
	if width == 0 {
		return 0
	}
	n := len(pcm) / width
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = DecodeSample(pcm[i*width:], bits)
	}
	return n
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// NormalizedRMS returns the RMS relative to full scale for the bit depth (0..1).
func NormalizedRMS(samples []int32, bits int) float64 {
	if !supportedBitDepth(bits) {
		return 0
	}
	return CalculateRMS(samples) / float64(int64(1)<<uint(bits-1))
}

func supportedBitDepth(bits int) bool {
	switch bits {
	case 8, 16, 24, 32:
		return true
	}
	return false
}
