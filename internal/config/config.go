// Package config holds the receiver settings: built-in defaults, overlaid by
// an optional YAML file and then by command line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"go-rtl-radio/internal/rtl2832u"
)

// Demodulation modes.
const (
	ModeAM   = "am"
	ModeWBFM = "wbfm"
)

// Usable RTL2832U output rates.
const (
	MinSampleRate = 900_001
	MaxSampleRate = 3_200_000
)

// Config holds all the configuration parameters for the application.
type Config struct {
	Device struct {
		Index int     `yaml:"index"`
		PPM   float64 `yaml:"ppm"`
		Gain  string  `yaml:"gain"`
	} `yaml:"device"`
	Radio struct {
		Frequency     Frequency `yaml:"frequency"`
		SampleRate    Frequency `yaml:"sample_rate"`
		Mode          string    `yaml:"mode"`
		Bandwidth     Frequency `yaml:"bandwidth"`
		CarrierOffset Frequency `yaml:"carrier_offset"`
		DeemphTau     float64   `yaml:"deemph_tau"`
	} `yaml:"radio"`
	Audio struct {
		SampleRate int `yaml:"sample_rate"`
	} `yaml:"audio"`
	Stream struct {
		BlockSize      int `yaml:"block_size"`
		RingBufferSize int `yaml:"ring_buffer_size"`
	} `yaml:"stream"`
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// New returns a new Config with default values.
func New() *Config {
	c := &Config{}
	c.Device.Gain = "auto"
	c.Radio.Frequency = 100_000_000
	c.Radio.SampleRate = 1_024_000
	c.Radio.Mode = ModeAM
	c.Radio.Bandwidth = 10_000
	// A quarter of the default rate keeps the carrier clear of the DC spike.
	c.Radio.CarrierOffset = 256_000
	c.Radio.DeemphTau = 50e-6 // 50us for Europe
	c.Audio.SampleRate = 48_000
	c.Stream.BlockSize = 65_536
	// 2s of IQ at the default rate.
	c.Stream.RingBufferSize = 2 * 1_024_000 * rtl2832u.BytesPerSample
	c.Server.Host = "127.0.0.1"
	c.Server.Port = "8080"
	c.Log.Level = "info"
	return c
}

// Load returns the defaults overlaid with the YAML file at path. Keys absent
// from the file keep their default value.
func Load(path string) (*Config, error) {
	c := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Validate reports every impossible setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Device.Index < 0 {
		errs = append(errs, fmt.Errorf("device index %d is negative", c.Device.Index))
	}
	if _, err := c.TunerGain(); err != nil {
		errs = append(errs, err)
	}
	if c.Radio.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("frequency %s must be positive", c.Radio.Frequency))
	}
	if rate := c.Radio.SampleRate.Int(); rate < MinSampleRate || rate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("sample rate %s outside %d..%d Hz", c.Radio.SampleRate, MinSampleRate, MaxSampleRate))
	}
	switch c.Radio.Mode {
	case ModeAM:
		if c.Radio.Bandwidth <= 0 {
			errs = append(errs, fmt.Errorf("AM bandwidth %s must be positive", c.Radio.Bandwidth))
		}
		edge := math.Abs(c.Radio.CarrierOffset.Hz()) + c.Radio.Bandwidth.Hz()/2
		if edge >= c.Radio.SampleRate.Hz()/2 {
			errs = append(errs, fmt.Errorf("carrier offset %s puts the channel outside the %s capture", c.Radio.CarrierOffset, c.Radio.SampleRate))
		}
	case ModeWBFM:
		if c.Radio.DeemphTau <= 0 {
			errs = append(errs, fmt.Errorf("de-emphasis time constant %g must be positive", c.Radio.DeemphTau))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q, want %q or %q", c.Radio.Mode, ModeAM, ModeWBFM))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio sample rate %d must be positive", c.Audio.SampleRate))
	}
	if c.Stream.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size %d must be positive", c.Stream.BlockSize))
	}
	if need := 2 * c.Stream.BlockSize * rtl2832u.BytesPerSample; c.Stream.RingBufferSize < need {
		errs = append(errs, fmt.Errorf("ring buffer size %d must hold two blocks (%d bytes)", c.Stream.RingBufferSize, need))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TuningOffset is how far the dongle is tuned from the station. AM stations
// sit CarrierOffset from the center of the capture; WBFM is received at the
// center.
func (c *Config) TuningOffset() float64 {
	if c.Radio.Mode == ModeAM {
		return c.Radio.CarrierOffset.Hz()
	}
	return 0
}

// TunerGain parses Device.Gain: "auto" or a value in dB such as "29.7" or
// "29.7dB".
func (c *Config) TunerGain() (rtl2832u.Gain, error) {
	return rtl2832u.ParseGain(c.Device.Gain)
}

// LogLevel parses Log.Level with the slog level names.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// Address is the control API listen address.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Frequency is a value in Hz. In YAML and on the command line it is either a
// plain number of Hz or an SI string such as "100.3MHz" or "1.024M".
type Frequency float64

// Hz returns f as a float64.
func (f Frequency) Hz() float64 {
	return float64(f)
}

// Int returns f rounded down to whole Hz.
func (f Frequency) Int() int {
	return int(f)
}

func (f Frequency) String() string {
	return physic.Frequency(float64(f) * float64(physic.Hertz)).String()
}

// Set parses s. A bare SI prefix ("100.3M") is accepted as Hz.
func (f *Frequency) Set(s string) error {
	s = strings.TrimSpace(s)
	if n := len(s); n > 0 && strings.ContainsRune("kMG", rune(s[n-1])) {
		s += "Hz"
	}
	var pf physic.Frequency
	if err := pf.Set(s); err != nil {
		return fmt.Errorf("frequency %q: %w", s, err)
	}
	*f = Frequency(float64(pf) / float64(physic.Hertz))
	return nil
}

// Type names the flag value kind for command line help.
func (f *Frequency) Type() string {
	return "frequency"
}

// UnmarshalYAML accepts numbers and SI strings.
func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: frequency must be a scalar", value.Line)
	}
	if v, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*f = Frequency(v)
		return nil
	}
	if err := f.Set(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

// UnmarshalJSON accepts numbers and SI strings.
func (f *Frequency) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*f = Frequency(v)
		return nil
	case string:
		return f.Set(v)
	}
	return fmt.Errorf("frequency must be a number or a string, got %s", data)
}

// MarshalYAML writes f in SI form.
func (f Frequency) MarshalYAML() (any, error) {
	return f.String(), nil
}
