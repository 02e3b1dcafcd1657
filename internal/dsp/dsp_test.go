package dsp

import (
	"testing"
)

// TestLowPassCoefficients checks the properties of the generated FIR filter.
func TestLowPassCoefficients(t *testing.T) {
	taps := LowPassCoefficients(48000, 10000, 40)

	if len(taps) != 41 {
		t.Fatalf("Expected an even length to be rounded up to 41 taps, but got %d", len(taps))
	}

	// Linear-phase filters are symmetric.
	for i := 0; i < len(taps)/2; i++ {
		if !almostEqual(float32(taps[i]), float32(taps[len(taps)-1-i])) {
			t.Errorf("Filter is not symmetric. Tap %d (%f) != Tap %d (%f)", i, taps[i], len(taps)-1-i, taps[len(taps)-1-i])
		}
	}

	// Unit DC gain.
	var sum float64
	for _, tap := range taps {
		sum += tap
	}
	if !almostEqual(float32(sum), 1.0) {
		t.Errorf("Expected sum of taps to be 1.0, but got %f", sum)
	}

	// The center tap dominates.
	center := taps[len(taps)/2]
	for i, tap := range taps {
		if i != len(taps)/2 && tap >= center {
			t.Errorf("Tap %d (%f) is not smaller than the center tap (%f)", i, tap, center)
		}
	}
}

// TestFIRFilter_BlockBoundaries checks that history carries across blocks.
func TestFIRFilter_BlockBoundaries(t *testing.T) {
	taps := []float64{0.1, 0.2, 0.4, 0.2, 0.1}
	input := make([]float32, 100)
	for i := range input {
		input[i] = float32(i % 7)
	}

	full := NewFIRFilter(taps).Process(input)

	fir := NewFIRFilter(taps)
	chunked := append(fir.Process(input[:37]), fir.Process(input[37:])...)

	for i := range full {
		if !almostEqual(full[i], chunked[i]) {
			t.Errorf("Mismatch at index %d: full=%f, chunked=%f", i, full[i], chunked[i])
		}
	}

	// Convolution against zero history.
	for i := len(taps) - 1; i < len(input); i++ {
		var want float32
		for j, tap := range taps {
			want += input[i-len(taps)+1+j] * float32(tap)
		}
		if !almostEqual(full[i], want) {
			t.Fatalf("Index %d: expected %f, got %f", i, want, full[i])
		}
	}
}

// TestDownsampler_DecimationAndState checks the decimating filter.
func TestDownsampler_DecimationAndState(t *testing.T) {
	taps := []float64{0.1, 0.2, 0.4, 0.2, 0.1}

	input := make([]float32, 100)
	for i := range input {
		input[i] = float32(i)
	}

	fullOutput := NewDownsampler(2, 1, taps).Downsample(input)

	// An odd split leaves the decimation phase mid-block.
	ds := NewDownsampler(2, 1, taps)
	chunk1 := ds.Downsample(input[:33])
	chunk2 := ds.Downsample(input[33:])
	chunkedOutput := append(chunk1, chunk2...)

	if len(fullOutput) != 50 {
		t.Fatalf("Expected 50 output samples, got %d", len(fullOutput))
	}
	if len(fullOutput) != len(chunkedOutput) {
		t.Fatalf("Mismatched lengths: full=%d, chunked=%d", len(fullOutput), len(chunkedOutput))
	}

	for i := range fullOutput {
		if !almostEqual(fullOutput[i], chunkedOutput[i]) {
			t.Errorf("Mismatch at index %d: full=%f, chunked=%f", i, fullOutput[i], chunkedOutput[i])
		}
	}
}

func TestSplitIQ(t *testing.T) {
	I, Q := SplitIQ([]byte{0, 255, 128, 127, 9})
	if len(I) != 2 || len(Q) != 2 {
		t.Fatalf("Expected 2 samples, got %d and %d", len(I), len(Q))
	}
	want := [][2]float32{{-127.5 / 128, 127.5 / 128}, {0.5 / 128, -0.5 / 128}}
	for i, w := range want {
		if !almostEqual(I[i], w[0]) || !almostEqual(Q[i], w[1]) {
			t.Errorf("Sample %d: expected %v, got (%f, %f)", i, w, I[i], Q[i])
		}
	}
}

// TestDeemphasis checks the de-emphasis filter's response to a step input.
func TestDeemphasis(t *testing.T) {
	const sampleRate = 48000
	const tau = 50e-6

	deemph := NewDeemphasis(sampleRate, tau)

	// The output should rise monotonically towards the input.
	input := 1.0
	var lastOutput float64
	for i := 0; i < 100; i++ {
		output := deemph.Filter(input)
		if i > 0 && output < lastOutput {
			t.Fatalf("De-emphasis output decreased on step input at sample %d", i)
		}
		if output > input {
			t.Fatalf("De-emphasis output exceeded input value at sample %d", i)
		}
		lastOutput = output
	}

	block := make([]float32, sampleRate)
	for i := range block {
		block[i] = 1
	}
	deemph.Process(block)
	if !almostEqual(block[len(block)-1], 1.0) {
		t.Errorf("Expected de-emphasis to settle near 1.0, but got %f", block[len(block)-1])
	}
}
