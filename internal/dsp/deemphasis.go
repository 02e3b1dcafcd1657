package dsp

// Deemphasis implements a first-order low-pass filter for FM de-emphasis.
type Deemphasis struct {
	alpha float64
	prev  float64
}

// NewDeemphasis creates a de-emphasis filter for audio at sampleRate with
// time constant tau (50e-6 in Europe, 75e-6 in the US).
func NewDeemphasis(sampleRate int, tau float64) *Deemphasis {
	dt := 1.0 / float64(sampleRate)
	return &Deemphasis{alpha: dt / (tau + dt)}
}

// Filter applies the de-emphasis filter to a single sample.
func (d *Deemphasis) Filter(x float64) float64 {
	d.prev += d.alpha * (x - d.prev)
	return d.prev
}

// Process filters a block in place.
func (d *Deemphasis) Process(samples []float32) {
	for i, x := range samples {
		samples[i] = float32(d.Filter(float64(x)))
	}
}
