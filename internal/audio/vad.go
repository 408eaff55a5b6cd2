package audio

import "math"

// DefaultVADThreshold is the RMS energy above which a frame counts as voice.
// Tuned against G.711 telephony audio, where line noise sits well below it.
const DefaultVADThreshold = 0.01

// RMS returns the root-mean-square energy of normalized samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Detector is an energy-based voice activity detector.
type Detector struct {
	threshold float64
}

// NewDetector creates a detector with the given RMS threshold. A zero or
// negative threshold gets the default.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	return &Detector{threshold: threshold}
}

// Active reports whether the frame's energy indicates speech.
func (d *Detector) Active(samples []float64) bool {
	return RMS(samples) > d.threshold
}
