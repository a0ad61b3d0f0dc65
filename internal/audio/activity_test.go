package audio

import (
	"testing"
)

func loudBlock(n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 10000
		} else {
			samples[i] = -10000
		}
	}
	return pcm16(samples...)
}

func TestActivityDetector_Transitions(t *testing.T) {
	d := NewActivityDetector(&ActivityConfig{Threshold: 0.01, SilenceBlocks: 3})
	silent := make([]byte, 320)

	active, started, stopped := d.ProcessBlock(silent, 16)
	if active || started || stopped {
		t.Errorf("Expected inactive on silence, got active=%v started=%v stopped=%v", active, started, stopped)
	}

	active, started, _ = d.ProcessBlock(loudBlock(160), 16)
	if !active || !started {
		t.Errorf("Expected start on signal, got active=%v started=%v", active, started)
	}
	if d.Level() < 0.3 {
		t.Errorf("Expected level near 0.3, got %f", d.Level())
	}

	_, started, _ = d.ProcessBlock(loudBlock(160), 16)
	if started {
		t.Error("Expected no second start while active")
	}

	for i := 0; i < 2; i++ {
		_, _, stopped = d.ProcessBlock(silent, 16)
		if stopped {
			t.Errorf("Expected no stop after %d silent blocks", i+1)
		}
	}
	active, _, stopped = d.ProcessBlock(silent, 16)
	if active || !stopped {
		t.Errorf("Expected stop after 3 silent blocks, got active=%v stopped=%v", active, stopped)
	}
}

func TestActivityDetector_UnsupportedDepth(t *testing.T) {
	d := NewActivityDetector(nil)
	active, started, stopped := d.ProcessBlock(loudBlock(16), 12)
	if active || started || stopped {
		t.Error("Expected unsupported depth to be ignored")
	}
}

func TestActivityDetector_Reset(t *testing.T) {
	d := NewActivityDetector(nil)
	d.ProcessBlock(loudBlock(160), 16)
	if !d.IsActive() {
		t.Fatal("Expected detector to be active")
	}

	d.Reset()
	if d.IsActive() || d.Level() != 0 {
		t.Error("Expected detector to be reset")
	}
}
