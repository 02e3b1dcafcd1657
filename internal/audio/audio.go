// Package audio delivers demodulated audio to the speakers or to a file.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"go-rtl-radio/internal/dsp"
)

// Sink consumes demodulated audio blocks.
type Sink interface {
	Write(block dsp.Demodulated) error
	Close() error
}

// Speaker plays audio through the default output device. oto allows one
// context per process, so at most one Speaker may exist.
type Speaker struct {
	player *oto.Player
	writer *io.PipeWriter
	buf    []byte
}

// NewSpeaker opens the output device at rate Hz, stereo.
func NewSpeaker(rate int) (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready

	reader, writer := io.Pipe()
	player := ctx.NewPlayer(reader)
	player.Play()
	return &Speaker{player: player, writer: writer}, nil
}

// Write queues a block. It blocks while the player's buffer is full.
func (s *Speaker) Write(block dsp.Demodulated) error {
	n := min(len(block.Left), len(block.Right))
	if cap(s.buf) < 8*n {
		s.buf = make([]byte, 8*n)
	}
	buf := s.buf[:8*n]
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[8*i:], math.Float32bits(block.Left[i]))
		binary.LittleEndian.PutUint32(buf[8*i+4:], math.Float32bits(block.Right[i]))
	}
	_, err := s.writer.Write(buf)
	return err
}

// Close stops playback.
func (s *Speaker) Close() error {
	return errors.Join(s.writer.Close(), s.player.Close())
}

// WAVRecorder writes 16-bit stereo PCM. Samples outside [-1, 1] are
// clipped.
type WAVRecorder struct {
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	gain    float64
	clipped atomic.Int64
}

// NewWAVRecorder starts a WAV stream on w. The caller closes w after
// Close.
func NewWAVRecorder(w io.WriteSeeker, rate int) *WAVRecorder {
	return &WAVRecorder{
		enc: wav.NewEncoder(w, rate, 16, 2, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 2, SampleRate: rate},
			SourceBitDepth: 16,
		},
		gain: math.MaxInt16,
	}
}

func (r *WAVRecorder) Write(block dsp.Demodulated) error {
	n := min(len(block.Left), len(block.Right))
	if cap(r.buf.Data) < 2*n {
		r.buf.Data = make([]int, 2*n)
	}
	r.buf.Data = r.buf.Data[:2*n]
	for i := 0; i < n; i++ {
		r.buf.Data[2*i] = r.pcm(block.Left[i])
		r.buf.Data[2*i+1] = r.pcm(block.Right[i])
	}
	return r.enc.Write(r.buf)
}

func (r *WAVRecorder) pcm(x float32) int {
	v := math.Round(float64(x) * r.gain)
	// Handle clipping
	if v > math.MaxInt16 {
		r.clipped.Add(1)
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		r.clipped.Add(1)
		v = math.MinInt16
	}
	return int(v)
}

// Clipped returns the number of samples clipped so far.
func (r *WAVRecorder) Clipped() int64 {
	return r.clipped.Load()
}

// Close finalizes the WAV headers.
func (r *WAVRecorder) Close() error {
	return r.enc.Close()
}

type multi []Sink

// Multi returns a Sink that writes every block to each of sinks.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Write(block dsp.Demodulated) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(block); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
