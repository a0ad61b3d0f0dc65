package audio

// ActivityConfig holds configuration for signal activity detection
type ActivityConfig struct {
	Threshold     float64 // normalized RMS (0..1) above which a block carries signal
	SilenceBlocks int     // consecutive silent blocks before the signal is considered stopped
}

// DefaultActivityConfig returns a default activity configuration
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		Threshold:     0.001, // about -60 dBFS
		SilenceBlocks: 50,    // 500ms at 10ms capture periods
	}
}

// ActivityDetector tracks whether a PCM stream carries signal or silence.
// It is not safe for concurrent use.
type ActivityDetector struct {
	config         *ActivityConfig
	silenceCounter int
	active         bool
	level          float64
	samples        []int32
}

// NewActivityDetector creates a new activity detector
func NewActivityDetector(config *ActivityConfig) *ActivityDetector {
	if config == nil {
		config = DefaultActivityConfig()
	}
	return &ActivityDetector{
		config: config,
	}
}

// ProcessBlock processes one block of PCM at the given bit depth
// Returns: (active, started, stopped)
func (d *ActivityDetector) ProcessBlock(pcm []byte, bits int) (bool, bool, bool) {
	if !supportedBitDepth(bits) {
		return d.active, false, false
	}
	n := len(pcm) / (bits / 8)
	if cap(d.samples) < n {
		d.samples = make([]int32, n)
	}
	samples := d.samples[:n]
	DecodeSamples(samples, pcm, bits)

	d.level = NormalizedRMS(samples, bits)
	hasSignal := d.level > d.config.Threshold

	var started, stopped bool

	if hasSignal {
		d.silenceCounter = 0
		if !d.active {
			started = true
			d.active = true
		}
	} else {
		d.silenceCounter++
		if d.active && d.silenceCounter >= d.config.SilenceBlocks {
			stopped = true
			d.active = false
			d.silenceCounter = 0
		}
	}

	return d.active, started, stopped
}

// Level returns the normalized RMS of the last processed block
func (d *ActivityDetector) Level() float64 {
	return d.level
}

// IsActive returns whether signal is currently detected
func (d *ActivityDetector) IsActive() bool {
	return d.active
}

// Reset resets the detector state
func (d *ActivityDetector) Reset() {
	d.silenceCounter = 0
	d.active = false
	d.level = 0
}
