package dsp

import (
	"math"
	"testing"
)

const amTestRate = 240_000

// amSignal returns n samples of a carrier at carrierHz modulated 50% by a
// 1 kHz tone.
func amSignal(n int, carrierHz float64) (I, Q []float32) {
	I = make([]float32, n)
	Q = make([]float32, n)
	for i := range I {
		t := float64(i) / amTestRate
		env := 0.5 * (1 + 0.5*math.Cos(2*math.Pi*1000*t))
		I[i] = float32(env * math.Cos(2*math.Pi*carrierHz*t))
		Q[i] = float32(env * math.Sin(2*math.Pi*carrierHz*t))
	}
	return I, Q
}

func peak(samples []float32) float32 {
	var p float32
	for _, s := range samples {
		p = max(p, float32(math.Abs(float64(s))))
	}
	return p
}

func TestAMDemodulator_Envelope(t *testing.T) {
	demod := NewAMDemodulator(amTestRate, 48_000, 5000, 351)
	demod.SetCarrierOffset(20_000)
	I, Q := amSignal(48_000, 20_000)

	// The first block fills the filter.
	demod.Demodulate(I[:24_000], Q[:24_000])
	out := demod.Demodulate(I[24_000:], Q[24_000:])

	if len(out) != 4800 {
		t.Fatalf("Expected 4800 samples, got %d", len(out))
	}
	if p := peak(out); math.Abs(float64(p)-0.5) > 0.05 {
		t.Errorf("Expected modulation depth 0.5, got %f", p)
	}
	if rel := demod.RelativeSignalPower(); rel < 0.9 || rel > 1.1 {
		t.Errorf("Expected relative power near 1, got %f", rel)
	}
}

func TestAMDemodulator_IgnoresDCOffset(t *testing.T) {
	I, Q := amSignal(48_000, 20_000)
	for i := range I {
		I[i] += 0.2
		Q[i] -= 0.1
	}

	demod := NewAMDemodulator(amTestRate, 48_000, 5000, 351)
	demod.SetCarrierOffset(20_000)
	demod.Demodulate(I[:24_000], Q[:24_000])
	out := demod.Demodulate(I[24_000:], Q[24_000:])

	if p := peak(out); math.Abs(float64(p)-0.5) > 0.05 {
		t.Errorf("Expected modulation depth 0.5 with a DC offset, got %f", p)
	}
}

func TestAMDemodulator_CarrierOffset(t *testing.T) {
	I, Q := amSignal(48_000, 20_000)

	untuned := NewAMDemodulator(amTestRate, 48_000, 5000, 351)
	untuned.Demodulate(I[:24_000], Q[:24_000])
	untuned.Demodulate(I[24_000:], Q[24_000:])
	if rel := untuned.RelativeSignalPower(); rel > 0.1 {
		t.Errorf("Expected an off-channel carrier to be rejected, relative power %f", rel)
	}

	tuned := NewAMDemodulator(amTestRate, 48_000, 5000, 351)
	tuned.SetCarrierOffset(20_000)
	tuned.Demodulate(I[:24_000], Q[:24_000])
	out := tuned.Demodulate(I[24_000:], Q[24_000:])
	if p := peak(out); math.Abs(float64(p)-0.5) > 0.05 {
		t.Errorf("Expected modulation depth 0.5 after tuning, got %f", p)
	}
	if rel := tuned.RelativeSignalPower(); rel < 0.9 {
		t.Errorf("Expected the tuned carrier to pass, relative power %f", rel)
	}
}

func TestAMDemodulator_Silence(t *testing.T) {
	demod := NewAMDemodulator(amTestRate, 48_000, 5000, 351)
	out := demod.Demodulate(make([]float32, 2400), make([]float32, 2400))
	for i, s := range out {
		if s != 0 || math.IsNaN(float64(s)) {
			t.Fatalf("Sample %d: expected silence, got %f", i, s)
		}
	}
	if demod.RelativeSignalPower() != 0 {
		t.Errorf("Expected zero relative power, got %f", demod.RelativeSignalPower())
	}
}

func TestOscillator_PhaseContinuity(t *testing.T) {
	I, Q := amSignal(1000, 0)

	fullI, fullQ := NewOscillator(12_345, amTestRate).Mix(I, Q)

	lo := NewOscillator(12_345, amTestRate)
	aI, aQ := lo.Mix(I[:333], Q[:333])
	bI, bQ := lo.Mix(I[333:], Q[333:])
	chunkI := append(aI, bI...)
	chunkQ := append(aQ, bQ...)

	for i := range fullI {
		if !almostEqual(fullI[i], chunkI[i]) || !almostEqual(fullQ[i], chunkQ[i]) {
			t.Fatalf("Sample %d: phase jumped at the block boundary", i)
		}
	}
}

func TestAM_Demodulate(t *testing.T) {
	am := NewAM(amTestRate, 48_000, 10_000)
	am.SetCarrierOffset(20_000)
	I, Q := amSignal(48_000, 20_000)

	am.Demodulate(I[:24_000], Q[:24_000])
	out := am.Demodulate(I[24_000:], Q[24_000:])

	if out.Stereo {
		t.Error("Expected mono output")
	}
	if len(out.Left) != 4800 || len(out.Right) != len(out.Left) {
		t.Fatalf("Expected 4800 samples per channel, got %d and %d", len(out.Left), len(out.Right))
	}
	for i := range out.Left {
		if out.Left[i] != out.Right[i] {
			t.Fatalf("Sample %d: channels differ", i)
		}
	}
	out.Right[0] = 42
	if out.Left[0] == 42 {
		t.Error("Expected channels not to share storage")
	}
	want := math.Pow(am.demod.RelativeSignalPower(), 0.17)
	if math.Abs(out.SignalLevel-min(1, want)) > 1e-12 {
		t.Errorf("Expected signal level %f, got %f", want, out.SignalLevel)
	}
	if out.SignalLevel < 0.9 {
		t.Errorf("Expected a strong signal, got %f", out.SignalLevel)
	}
}

func TestAM_DCOnlyHasNoSignal(t *testing.T) {
	am := NewAM(1_024_000, 48_000, 10_000)
	I := make([]float32, 65_536)
	Q := make([]float32, 65_536)
	for i := range I {
		I[i], Q[i] = 0.05, 0.05
	}

	for block := 0; block < 4; block++ {
		out := am.Demodulate(I, Q)
		if out.SignalLevel > 0.01 {
			t.Errorf("Block %d: expected no signal from a DC offset, got level %f", block, out.SignalLevel)
		}
		if p := peak(out.Left); p != 0 {
			t.Errorf("Block %d: expected silence, got peak %f", block, p)
		}
	}
}

func TestWBFM_Tone(t *testing.T) {
	const inRate = 480_000
	const n = inRate / 5
	I := make([]float32, n)
	Q := make([]float32, n)
	for i := range I {
		// 1 kHz tone at 37.5 kHz deviation.
		phase := 37.5 * math.Sin(2*math.Pi*1000*float64(i)/inRate)
		I[i] = float32(math.Cos(phase))
		Q[i] = float32(math.Sin(phase))
	}

	fm := NewWBFM(inRate, 48_000, 50e-6)
	fm.Demodulate(I[:n/2], Q[:n/2])
	out := fm.Demodulate(I[n/2:], Q[n/2:])

	crossings := 0
	for i := 1; i < len(out.Left); i++ {
		if (out.Left[i-1] < 0) != (out.Left[i] < 0) {
			crossings++
		}
	}
	if crossings < 190 || crossings > 210 {
		t.Errorf("Expected about 200 zero crossings for a 1 kHz tone over 100 ms, got %d", crossings)
	}
	if p := peak(out.Left); p < 0.2 || p > 1 {
		t.Errorf("Expected audio scaled to deviation, got peak %f", p)
	}
}
