package dsp

// FIRFilter is a streaming Finite Impulse Response filter. Load keeps the
// last len(taps)-1 input samples so consecutive blocks filter as one stream.
type FIRFilter struct {
	taps    []float64
	samples []float32
}

// NewFIRFilter creates a new FIR filter with the given taps.
func NewFIRFilter(taps []float64) *FIRFilter {
	return &FIRFilter{
		taps:    taps,
		samples: make([]float32, len(taps)-1),
	}
}

// Load appends a block of input after the retained history.
func (f *FIRFilter) Load(input []float32) {
	offset := len(f.taps) - 1
	buf := make([]float32, offset+len(input))
	copy(buf, f.samples[len(f.samples)-offset:])
	copy(buf[offset:], input)
	f.samples = buf
}

// At returns the filter output for sample i of the last loaded block.
func (f *FIRFilter) At(i int) float32 {
	var acc float32
	for j, tap := range f.taps {
		acc += f.samples[i+j] * float32(tap)
	}
	return acc
}

// Process filters a block without changing its rate.
func (f *FIRFilter) Process(input []float32) []float32 {
	f.Load(input)
	out := make([]float32, len(input))
	for i := range out {
		out[i] = f.At(i)
	}
	return out
}

// Downsampler low-pass filters a real signal and decimates it by a possibly
// fractional factor.
type Downsampler struct {
	filter  *FIRFilter
	rateMul float64
	pos     float64
}

// NewDownsampler returns a downsampler from inRate to outRate using taps.
func NewDownsampler(inRate, outRate int, taps []float64) *Downsampler {
	return &Downsampler{
		filter:  NewFIRFilter(taps),
		rateMul: float64(inRate) / float64(outRate),
	}
}

// Downsample filters and decimates a block. The decimation phase carries
// over to the next block.
func (d *Downsampler) Downsample(input []float32) []float32 {
	d.filter.Load(input)
	n := float64(len(input))
	out := make([]float32, 0, int(n/d.rateMul)+1)
	for ; d.pos < n; d.pos += d.rateMul {
		out = append(out, d.filter.At(int(d.pos)))
	}
	d.pos -= n
	return out
}

// IQDownsampler low-pass filters and decimates an I/Q pair.
type IQDownsampler struct {
	filterI *FIRFilter
	filterQ *FIRFilter
	rateMul float64
	pos     float64
}

// NewIQDownsampler returns a downsampler from inRate to outRate with a
// kernelLen-tap low-pass filter at filterFreq.
func NewIQDownsampler(inRate, outRate int, filterFreq float64, kernelLen int) *IQDownsampler {
	taps := LowPassCoefficients(inRate, filterFreq, kernelLen)
	return &IQDownsampler{
		filterI: NewFIRFilter(taps),
		filterQ: NewFIRFilter(taps),
		rateMul: float64(inRate) / float64(outRate),
	}
}

// Downsample filters and decimates a block of I and Q samples of equal
// length.
func (d *IQDownsampler) Downsample(I, Q []float32) (outI, outQ []float32) {
	d.filterI.Load(I)
	d.filterQ.Load(Q)
	n := float64(len(I))
	size := int(n/d.rateMul) + 1
	outI = make([]float32, 0, size)
	outQ = make([]float32, 0, size)
	for ; d.pos < n; d.pos += d.rateMul {
		idx := int(d.pos)
		outI = append(outI, d.filterI.At(idx))
		outQ = append(outQ, d.filterQ.At(idx))
	}
	d.pos -= n
	return outI, outQ
}
