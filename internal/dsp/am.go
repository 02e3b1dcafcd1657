package dsp

import "math"

// amInterRate is the rate the AM envelope is detected at.
const amInterRate = 48_000

// Oscillator is a complex local oscillator. Its phase runs on across blocks.
type Oscillator struct {
	phase      float64
	step       float64
	sampleRate int
}

// NewOscillator returns an oscillator at freq Hz for a stream at sampleRate.
func NewOscillator(freq float64, sampleRate int) *Oscillator {
	o := &Oscillator{sampleRate: sampleRate}
	o.SetFrequency(freq)
	return o
}

// SetFrequency changes the frequency without resetting the phase.
func (o *Oscillator) SetFrequency(freq float64) {
	o.step = 2 * math.Pi * freq / float64(o.sampleRate)
}

// Mix multiplies the I/Q block by the oscillator, shifting it up by the
// oscillator frequency.
func (o *Oscillator) Mix(I, Q []float32) (outI, outQ []float32) {
	outI = make([]float32, len(I))
	outQ = make([]float32, len(Q))
	for i := range I {
		c, s := math.Cos(o.phase), math.Sin(o.phase)
		vI, vQ := float64(I[i]), float64(Q[i])
		outI[i] = float32(vI*c - vQ*s)
		outQ[i] = float32(vI*s + vQ*c)
		o.phase = math.Mod(o.phase+o.step, 2*math.Pi)
	}
	return outI, outQ
}

// AMDemodulator recovers the envelope of an amplitude modulated carrier.
type AMDemodulator struct {
	down     *IQDownsampler
	lo       *Oscillator
	offset   float64
	sigRatio float64
	relPower float64
}

// NewAMDemodulator returns an envelope detector taking I/Q at inRate and
// producing audio at outRate, with a kernelLen-tap channel filter at
// filterFreq.
func NewAMDemodulator(inRate, outRate int, filterFreq float64, kernelLen int) *AMDemodulator {
	return &AMDemodulator{
		down:     NewIQDownsampler(inRate, outRate, filterFreq, kernelLen),
		lo:       NewOscillator(0, inRate),
		sigRatio: float64(inRate) / float64(outRate),
	}
}

// SetCarrierOffset sets where the carrier sits relative to the center of
// the input, in Hz. The carrier is moved to 0 Hz before filtering.
func (a *AMDemodulator) SetCarrierOffset(hz float64) {
	a.offset = hz
	a.lo.SetFrequency(-hz)
}

// Demodulate returns the envelope of the block, normalized around its mean.
// The input's DC offset is removed before the carrier is moved to 0 Hz, so a
// carrier at the very center of the input is removed with it.
func (a *AMDemodulator) Demodulate(I, Q []float32) []float32 {
	tunedI, tunedQ := RemoveDC(I, Q)
	if a.offset != 0 {
		tunedI, tunedQ = a.lo.Mix(tunedI, tunedQ)
	}
	fI, fQ := a.down.Downsample(tunedI, tunedQ)
	out := make([]float32, len(fI))
	var sum float64
	for i := range out {
		ampl := math.Sqrt(float64(fI[i]*fI[i] + fQ[i]*fQ[i]))
		out[i] = float32(ampl)
		sum += ampl
	}
	a.relPower = relativePower(fI, fQ, I, Q, a.sigRatio)
	if len(out) == 0 {
		return out
	}
	mean := sum / float64(len(out))
	for i := range out {
		if mean == 0 {
			out[i] = 0
			continue
		}
		out[i] = float32((float64(out[i]) - mean) / mean)
	}
	return out
}

// RelativeSignalPower is the ratio of in-channel power to total input power
// over the last block.
func (a *AMDemodulator) RelativeSignalPower() float64 {
	return a.relPower
}

// AM demodulates amplitude modulation into mono audio.
type AM struct {
	demod *AMDemodulator
	down  *Downsampler
}

// NewAM returns an AM demodulator for I/Q at inRate producing audio at
// outRate, passing a channel bandwidth Hz wide.
func NewAM(inRate, outRate int, bandwidth float64) *AM {
	return &AM{
		demod: NewAMDemodulator(inRate, amInterRate, bandwidth/2, 351),
		down:  NewDownsampler(amInterRate, outRate, LowPassCoefficients(amInterRate, 10_000, 41)),
	}
}

// SetCarrierOffset tunes to a carrier hz away from the input center.
func (a *AM) SetCarrierOffset(hz float64) {
	a.demod.SetCarrierOffset(hz)
}

func (a *AM) Demodulate(I, Q []float32) Demodulated {
	audio := a.down.Downsample(a.demod.Demodulate(I, Q))
	return Demodulated{
		Left:        audio,
		Right:       append([]float32(nil), audio...),
		Stereo:      false,
		SignalLevel: signalLevel(a.demod.RelativeSignalPower()),
	}
}
