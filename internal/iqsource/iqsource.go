// Package iqsource reads recorded I/Q captures as a stream of interleaved
// unsigned 8-bit samples, the same format the dongle delivers.
package iqsource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Source delivers interleaved u8 I/Q. ReadSamples returns up to n samples
// (2n bytes) and io.EOF once the source is exhausted.
type Source interface {
	ReadSamples(n int) ([]byte, error)
	SampleRate() int
	Close() error
}

// ErrUnsupportedFormat is returned for WAV files that are not 8 or 16-bit
// stereo PCM.
var ErrUnsupportedFormat = errors.New("iqsource: unsupported WAV format")

// File is a capture file: a WAV container with I in the left channel and Q
// in the right, or headerless u8 I/Q.
type File struct {
	file     *os.File
	decoder  *wav.Decoder
	pcm      *audio.IntBuffer
	rate     int
	bitDepth int
}

// OpenFile opens a capture. rate is used for headerless files; WAV files
// carry their own.
func OpenFile(path string, rate int, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f := &File{file: file, rate: rate}
	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
		logger.Info("Reading raw IQ", "path", path, "rate", rate)
		return f, nil
	}

	// Move to start of PCM/IQ data
	if err := decoder.FwdToPCM(); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek to PCM data: %w", err)
	}
	logger.Info("Reading IQ from WAV file", "path", path,
		"bit_depth", decoder.BitDepth, "rate", decoder.SampleRate, "channels", decoder.NumChans)

	if decoder.NumChans != 2 || (decoder.BitDepth != 8 && decoder.BitDepth != 16) {
		file.Close()
		return nil, fmt.Errorf("%w: %d-bit, %d channels", ErrUnsupportedFormat, decoder.BitDepth, decoder.NumChans)
	}
	f.decoder = decoder
	f.rate = int(decoder.SampleRate)
	f.bitDepth = int(decoder.BitDepth)
	f.pcm = &audio.IntBuffer{Format: decoder.Format()}
	return f, nil
}

// SampleRate returns the capture's sample rate.
func (f *File) SampleRate() int {
	return f.rate
}

// ReadSamples returns the next n samples, fewer at the end of the file.
func (f *File) ReadSamples(n int) ([]byte, error) {
	if f.decoder == nil {
		buf := make([]byte, 2*n)
		m, err := io.ReadFull(f.file, buf)
		if m == 0 {
			if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return nil, err
		}
		// A trailing half sample is dropped.
		return buf[:m&^1], nil
	}

	if cap(f.pcm.Data) < 2*n {
		f.pcm.Data = make([]int, 2*n)
	}
	f.pcm.Data = f.pcm.Data[:2*n]
	m, err := f.decoder.PCMBuffer(f.pcm)
	if err != nil {
		return nil, err
	}
	m &^= 1
	if m == 0 {
		return nil, io.EOF
	}

	out := make([]byte, m)
	for i, v := range f.pcm.Data[:m] {
		if f.bitDepth == 16 {
			v = v>>8 + 128
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Close closes the file.
func (f *File) Close() error {
	return f.file.Close()
}
