// Package dsp turns I/Q sample blocks into audio. Every filter keeps its
// history between calls, so a stream can be processed in blocks of any size.
package dsp

import "math"

// LowPassCoefficients designs a Blackman-windowed sinc low-pass filter whose
// response falls to half amplitude at halfAmplFreq. Even lengths are
// rounded up so the kernel has a center tap. The taps sum to 1.
func LowPassCoefficients(sampleRate int, halfAmplFreq float64, length int) []float64 {
	length += (length + 1) % 2
	freq := halfAmplFreq / float64(sampleRate)
	center := length / 2
	taps := make([]float64, length)
	var sum float64
	for i := range taps {
		var v float64
		if i == center {
			v = 2 * math.Pi * freq
		} else {
			k := float64(i - center)
			angle := 2 * math.Pi * float64(i+1) / float64(length+1)
			v = math.Sin(2*math.Pi*freq*k) / k
			v *= 0.42 - 0.5*math.Cos(angle) + 0.08*math.Cos(2*angle)
		}
		taps[i] = v
		sum += v
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// SplitIQ converts interleaved unsigned 8-bit I/Q bytes into centered I and
// Q samples. A trailing odd byte is ignored.
func SplitIQ(raw []byte) (I, Q []float32) {
	n := len(raw) / 2
	I = make([]float32, n)
	Q = make([]float32, n)
	for i := 0; i < n; i++ {
		I[i] = (float32(raw[2*i]) - 127.5) / 128
		Q[i] = (float32(raw[2*i+1]) - 127.5) / 128
	}
	return I, Q
}

// RemoveDC returns copies of I and Q with their block means subtracted.
func RemoveDC(I, Q []float32) (outI, outQ []float32) {
	outI = make([]float32, len(I))
	outQ = make([]float32, len(Q))
	if len(I) == 0 {
		return outI, outQ
	}
	var sumI, sumQ float64
	for i := range I {
		sumI += float64(I[i])
		sumQ += float64(Q[i])
	}
	meanI, meanQ := sumI/float64(len(I)), sumQ/float64(len(Q))
	for i := range I {
		outI[i] = float32(float64(I[i]) - meanI)
		outQ[i] = float32(float64(Q[i]) - meanQ)
	}
	return outI, outQ
}

// relativePower compares the power of the filtered samples with the power of
// the input samples they were taken from, picked every step input samples.
func relativePower(fI, fQ, I, Q []float32, step float64) float64 {
	var sig, total float64
	for i := range fI {
		sig += float64(fI[i]*fI[i] + fQ[i]*fQ[i])
		if j := int(float64(i) * step); j < len(I) {
			total += float64(I[j]*I[j] + Q[j]*Q[j])
		}
	}
	if total == 0 {
		return 0
	}
	return sig / total
}

// signalLevel compresses a relative power into [0, 1] for display.
func signalLevel(relPower float64) float64 {
	return min(1, math.Pow(relPower, 0.17))
}
