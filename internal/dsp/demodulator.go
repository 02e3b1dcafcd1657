package dsp

import (
	"math"
	"math/cmplx"
)

// Demodulated is one block of audio.
type Demodulated struct {
	Left  []float32
	Right []float32
	// Stereo is false when Right is a copy of Left.
	Stereo bool
	// SignalLevel is a display scale of the in-channel power, 0 to 1.
	SignalLevel float64
}

// Demodulator turns blocks of I/Q samples into audio. Implementations are
// stateful and not safe for concurrent use.
type Demodulator interface {
	Demodulate(I, Q []float32) Demodulated
}

// Discriminator implements a polar discriminator for FM demodulation.
type Discriminator struct {
	prev complex64
}

// NewDiscriminator creates a new FM discriminator.
func NewDiscriminator() *Discriminator {
	return &Discriminator{}
}

// Process returns the phase step between consecutive complex samples. The
// first output compares against the last sample of the previous block.
func (d *Discriminator) Process(samples []complex64) []float32 {
	if len(samples) == 0 {
		return nil
	}
	output := make([]float32, len(samples))
	prev := d.prev

	for i, current := range samples {
		// The angle of current * conj(prev) is the phase difference.
		prevConjugate := complex(real(prev), -imag(prev))
		p := current * prevConjugate
		output[i] = float32(cmplx.Phase(complex128(p)))
		prev = current
	}

	d.prev = prev
	return output
}

const (
	wbfmInterRate     = 240_000
	wbfmChannelCutoff = 100_000
	wbfmAudioCutoff   = 15_000
	wbfmMaxDeviation  = 75_000
	wbfmTaps          = 251
)

// WBFM demodulates wideband broadcast FM into mono audio.
type WBFM struct {
	channel  *IQDownsampler
	disc     *Discriminator
	audio    *Downsampler
	deemph   *Deemphasis
	sigRatio float64
	scale    float32
}

// NewWBFM returns a broadcast FM demodulator for I/Q at inRate producing
// audio at outRate with de-emphasis time constant tau.
func NewWBFM(inRate, outRate int, tau float64) *WBFM {
	return &WBFM{
		channel:  NewIQDownsampler(inRate, wbfmInterRate, wbfmChannelCutoff, wbfmTaps),
		disc:     NewDiscriminator(),
		audio:    NewDownsampler(wbfmInterRate, outRate, LowPassCoefficients(wbfmInterRate, wbfmAudioCutoff, wbfmTaps)),
		deemph:   NewDeemphasis(outRate, tau),
		sigRatio: float64(inRate) / wbfmInterRate,
		scale:    float32(wbfmInterRate / (2 * math.Pi * wbfmMaxDeviation)),
	}
}

func (w *WBFM) Demodulate(I, Q []float32) Demodulated {
	fI, fQ := w.channel.Downsample(I, Q)
	samples := make([]complex64, len(fI))
	for i := range fI {
		samples[i] = complex(fI[i], fQ[i])
	}
	phase := w.disc.Process(samples)
	for i := range phase {
		phase[i] *= w.scale
	}
	audio := w.audio.Downsample(phase)
	w.deemph.Process(audio)
	return Demodulated{
		Left:        audio,
		Right:       append([]float32(nil), audio...),
		SignalLevel: signalLevel(relativePower(fI, fQ, I, Q, w.sigRatio)),
	}
}
