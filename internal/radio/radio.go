// Package radio runs a receiver: one goroutine streams samples from the
// dongle (or a capture file) into a ring buffer, another demodulates them
// and feeds the audio sink. Control calls pause streaming so register
// traffic never overlaps a bulk read.
package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"go-rtl-radio/internal/audio"
	"go-rtl-radio/internal/dsp"
	"go-rtl-radio/internal/iqsource"
	"go-rtl-radio/internal/ringbuffer"
	"go-rtl-radio/internal/rtl2832u"
)

var (
	// ErrNoHardware is returned by control calls on a file-backed receiver.
	ErrNoHardware = errors.New("radio: source is not tunable")

	// ErrRunning is returned when Run is called on a running receiver.
	ErrRunning = errors.New("radio: receiver already running")
)

// Hardware is a tunable sample source. *rtl2832u.Device implements it.
type Hardware interface {
	iqsource.Source
	SetCenterFrequency(freq float64) (float64, error)
	SetSampleRate(rate int) (int, error)
	SetGain(g rtl2832u.Gain) error
	SetFrequencyCorrection(ppm float64) error
	ResetBuffer() error
	CenterFrequency() float64
	FrequencyCorrection() float64
	Gain() rtl2832u.Gain
	TunerName() string
}

// DemodulatorFactory builds a demodulator for the given input sample rate.
type DemodulatorFactory func(inRate int) dsp.Demodulator

// Options tune the streaming path.
type Options struct {
	// BlockSize is the number of samples per read. Defaults to 65536.
	BlockSize int
	// RingBufferSize is in bytes. Defaults to four blocks.
	RingBufferSize int
	// TuningOffset is how far the station sits from the center of the
	// capture, in Hz. Tune moves the dongle by it so the station stays clear
	// of the DC spike at the center.
	TuningOffset float64
	Logger       *slog.Logger
}

// Status is a snapshot of the receiver state.
type Status struct {
	Frequency   float64 `json:"frequency"`
	SampleRate  int     `json:"sample_rate"`
	PPM         float64 `json:"ppm"`
	Gain        string  `json:"gain"`
	Tuner       string  `json:"tuner"`
	SignalLevel float64 `json:"signal_level"`
	Running     bool    `json:"running"`
	Blocks      uint64  `json:"blocks"`
}

// Receiver joins a sample source, a demodulator and an audio sink.
type Receiver struct {
	src       iqsource.Source
	hw        Hardware
	newDemod  DemodulatorFactory
	sink      audio.Sink
	ring      *ringbuffer.RingBuffer[byte]
	blockSize int
	offset    float64
	logger    *slog.Logger

	// ctl serializes control calls.
	ctl sync.Mutex

	// mu guards the pause handshake with the streaming goroutine.
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	reading bool

	dmu   sync.Mutex
	demod dsp.Demodulator

	running atomic.Bool
	level   atomic.Uint64
	blocks  atomic.Uint64

	subMu  sync.Mutex
	subs   map[int]chan float64
	nextID int
}

// New creates a receiver reading from src. Control calls are available
// when src is also a Hardware.
func New(src iqsource.Source, newDemod DemodulatorFactory, sink audio.Sink, opts Options) *Receiver {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 65_536
	}
	frame := opts.BlockSize * rtl2832u.BytesPerSample
	// The ring must hold a full frame plus the free slot.
	if opts.RingBufferSize <= frame {
		opts.RingBufferSize = 4 * frame
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Receiver{
		src:       src,
		newDemod:  newDemod,
		demod:     newDemod(src.SampleRate()),
		sink:      sink,
		ring:      ringbuffer.New[byte](opts.RingBufferSize),
		blockSize: opts.BlockSize,
		offset:    opts.TuningOffset,
		logger:    opts.Logger,
		subs:      make(map[int]chan float64),
	}
	r.hw, _ = src.(Hardware)
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Run streams until ctx is cancelled, the source is exhausted, or a
// goroutine fails. Buffered samples are demodulated before Run returns on
// end of input.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		r.ring.Close()
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	if r.hw != nil {
		if err := r.hw.ResetBuffer(); err != nil {
			return fmt.Errorf("reset buffer: %w", err)
		}
	}
	r.logger.Info("Receiver started", "rate", r.src.SampleRate(), "block_size", r.blockSize)

	g.Go(func() error {
		defer r.ring.Close()
		return r.stream(ctx)
	})
	g.Go(r.process)

	err := g.Wait()
	r.logger.Info("Receiver stopped", "blocks", r.blocks.Load(), "error", err)
	return err
}

func (r *Receiver) stream(ctx context.Context) error {
	for {
		r.mu.Lock()
		for r.paused && ctx.Err() == nil {
			r.cond.Wait()
		}
		if ctx.Err() != nil {
			r.mu.Unlock()
			return nil
		}
		r.reading = true
		r.mu.Unlock()

		buf, err := r.src.ReadSamples(r.blockSize)
		ok := err == nil && r.ring.Write(buf)

		r.mu.Lock()
		r.reading = false
		r.cond.Broadcast()
		r.mu.Unlock()

		switch {
		case errors.Is(err, io.EOF):
			r.logger.Debug("End of input")
			return nil
		case err != nil:
			return fmt.Errorf("read samples: %w", err)
		case !ok:
			return nil
		}
	}
}

func (r *Receiver) process() error {
	frame := r.blockSize * rtl2832u.BytesPerSample
	for {
		raw := r.ring.Read(frame)
		// If Read returns nil, the buffer is closed and empty.
		if raw == nil {
			return nil
		}
		I, Q := dsp.SplitIQ(raw)

		r.dmu.Lock()
		out := r.demod.Demodulate(I, Q)
		r.dmu.Unlock()

		r.blocks.Add(1)
		r.publish(out.SignalLevel)
		if err := r.sink.Write(out); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
}

// pause waits for the in-flight read to finish and holds streaming.
func (r *Receiver) pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	for r.reading {
		r.cond.Wait()
	}
}

func (r *Receiver) resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	r.cond.Broadcast()
}

// control runs fn with streaming paused, then flushes stale samples.
func (r *Receiver) control(fn func(hw Hardware) error) error {
	if r.hw == nil {
		return ErrNoHardware
	}
	r.ctl.Lock()
	defer r.ctl.Unlock()

	r.pause()
	defer r.resume()
	if err := fn(r.hw); err != nil {
		return err
	}
	if err := r.hw.ResetBuffer(); err != nil {
		return fmt.Errorf("reset buffer: %w", err)
	}
	r.ring.Reset()
	return nil
}

// Tune receives the station at freq and returns the frequency achieved.
// The dongle is tuned TuningOffset below freq.
func (r *Receiver) Tune(freq float64) (float64, error) {
	var achieved float64
	err := r.control(func(hw Hardware) error {
		center, err := hw.SetCenterFrequency(freq - r.offset)
		achieved = center + r.offset
		return err
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("Tuned", "requested", freq, "achieved", achieved, "offset", r.offset)
	return achieved, nil
}

// SetSampleRate changes the dongle's sample rate and rebuilds the
// demodulator for it. It returns the rate achieved.
func (r *Receiver) SetSampleRate(rate int) (int, error) {
	var actual int
	err := r.control(func(hw Hardware) error {
		var err error
		if actual, err = hw.SetSampleRate(rate); err != nil {
			return err
		}
		demod := r.newDemod(actual)
		r.dmu.Lock()
		r.demod = demod
		r.dmu.Unlock()
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("Sample rate changed", "requested", rate, "actual", actual)
	return actual, nil
}

// SetGain sets the tuner gain.
func (r *Receiver) SetGain(g rtl2832u.Gain) error {
	return r.control(func(hw Hardware) error { return hw.SetGain(g) })
}

// SetFrequencyCorrection sets the crystal correction in ppm.
func (r *Receiver) SetFrequencyCorrection(ppm float64) error {
	return r.control(func(hw Hardware) error { return hw.SetFrequencyCorrection(ppm) })
}

// Status returns a snapshot of the receiver state.
func (r *Receiver) Status() Status {
	s := Status{
		SignalLevel: r.SignalLevel(),
		Running:     r.running.Load(),
		Blocks:      r.blocks.Load(),
	}
	if r.hw == nil {
		s.SampleRate = r.src.SampleRate()
		return s
	}
	r.ctl.Lock()
	defer r.ctl.Unlock()
	s.Frequency = r.hw.CenterFrequency() + r.offset
	s.SampleRate = r.hw.SampleRate()
	s.PPM = r.hw.FrequencyCorrection()
	s.Gain = r.hw.Gain().String()
	s.Tuner = r.hw.TunerName()
	return s
}

// SignalLevel returns the level of the last demodulated block, 0..1.
func (r *Receiver) SignalLevel() float64 {
	return math.Float64frombits(r.level.Load())
}

// Subscribe returns a channel receiving the signal level of each block.
// Levels are dropped while the subscriber is behind. Call cancel to stop.
func (r *Receiver) Subscribe() (levels <-chan float64, cancel func()) {
	ch := make(chan float64, 16)
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Receiver) publish(level float64) {
	r.level.Store(math.Float64bits(level))
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- level:
		default:
		}
	}
}
