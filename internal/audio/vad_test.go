package audio

import (
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := RMS([]float64{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(constant 0.5) = %f, want 0.5", got)
	}
}

func TestDetectorActive(t *testing.T) {
	d := NewDetector(0.01)

	if d.Active(make([]float64, 160)) {
		t.Error("Active(silence) = true")
	}
	if !d.Active(sine(160, 0.5)) {
		t.Error("Active(tone) = false")
	}
	// Low-level noise below the threshold stays inactive.
	if d.Active(sine(160, 0.005)) {
		t.Error("Active(sub-threshold noise) = true")
	}
}

func TestNewDetectorDefault(t *testing.T) {
	d := NewDetector(0)
	if d.threshold != DefaultVADThreshold {
		t.Errorf("threshold = %f, want %f", d.threshold, DefaultVADThreshold)
	}
}
