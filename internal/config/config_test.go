package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-rtl-radio/internal/rtl2832u"
)

func TestNew_DefaultsAreValid(t *testing.T) {
	if err := New().Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio.yaml")
	yamlText := `
device:
  ppm: 52.5
  gain: 29.7dB
radio:
  frequency: 100.3MHz
  sample_rate: 2048000
  mode: wbfm
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Device.PPM != 52.5 {
		t.Errorf("Expected ppm 52.5, got %f", c.Device.PPM)
	}
	if c.Radio.Frequency != 100_300_000 {
		t.Errorf("Expected 100.3 MHz, got %f", c.Radio.Frequency.Hz())
	}
	if c.Radio.SampleRate.Int() != 2_048_000 {
		t.Errorf("Expected a 2.048 MHz sample rate, got %d", c.Radio.SampleRate.Int())
	}
	if c.Radio.Mode != ModeWBFM {
		t.Errorf("Expected mode wbfm, got %q", c.Radio.Mode)
	}
	// Untouched keys keep their defaults.
	if c.Audio.SampleRate != 48_000 || c.Server.Port != "8080" {
		t.Errorf("Expected defaults to survive, got audio rate %d and port %q", c.Audio.SampleRate, c.Server.Port)
	}
	gain, err := c.TunerGain()
	if err != nil || gain != rtl2832u.ManualGain(29.7) {
		t.Errorf("Expected manual 29.7 dB gain, got %v (%v)", gain, err)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Expected loaded config to validate, got %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("radio:\n  frequency: fast\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for an unparsable frequency")
	}
}

func TestFrequency_Set(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"100.3MHz", 100_300_000},
		{"1.024M", 1_024_000},
		{"531kHz", 531_000},
		{"1.2G", 1_200_000_000},
		{"48000", 48_000},
		{" 7.1MHz ", 7_100_000},
	}
	for _, tt := range tests {
		var f Frequency
		if err := f.Set(tt.in); err != nil {
			t.Errorf("Set(%q) failed: %v", tt.in, err)
			continue
		}
		if f.Hz() != tt.want {
			t.Errorf("Set(%q): expected %f, got %f", tt.in, tt.want, f.Hz())
		}
	}

	var f Frequency
	for _, bad := range []string{"", "loud", "10V"} {
		if err := f.Set(bad); err == nil {
			t.Errorf("Expected Set(%q) to fail", bad)
		}
	}
}

func TestConfig_TunerGain(t *testing.T) {
	tests := []struct {
		in      string
		want    rtl2832u.Gain
		wantErr bool
	}{
		{"auto", rtl2832u.AutoGain(), false},
		{"", rtl2832u.AutoGain(), false},
		{"AUTO", rtl2832u.AutoGain(), false},
		{"0", rtl2832u.ManualGain(0), false},
		{"-3.5", rtl2832u.ManualGain(-3.5), false},
		{"40db", rtl2832u.ManualGain(40), false},
		{"max", rtl2832u.Gain{}, true},
	}
	for _, tt := range tests {
		c := New()
		c.Device.Gain = tt.in
		got, err := c.TunerGain()
		if (err != nil) != tt.wantErr {
			t.Errorf("TunerGain(%q): unexpected error state %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("TunerGain(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestConfig_ValidateCollectsErrors(t *testing.T) {
	c := New()
	c.Radio.SampleRate = 250_000
	c.Radio.Mode = "ssb"
	c.Stream.RingBufferSize = 16
	c.Log.Level = "chatty"

	err := c.Validate()
	if err == nil {
		t.Fatal("Expected validation to fail")
	}
	for _, want := range []string{"sample rate", "unknown mode", "ring buffer", "log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected the error to mention %q, got %v", want, err)
		}
	}
}

func TestConfig_CarrierOffset(t *testing.T) {
	c := New()
	if got := c.TuningOffset(); got != 256_000 {
		t.Errorf("Expected the default AM tuning offset of 256 kHz, got %f", got)
	}

	c.Radio.CarrierOffset = 600_000
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "carrier offset") {
		t.Errorf("Expected an offset beyond the capture to be rejected, got %v", err)
	}

	c.Radio.Mode = ModeWBFM
	if err := c.Validate(); err != nil {
		t.Errorf("Expected WBFM to ignore the carrier offset, got %v", err)
	}
	if got := c.TuningOffset(); got != 0 {
		t.Errorf("Expected WBFM to tune the station to the center, got %f", got)
	}
}

func TestConfig_Address(t *testing.T) {
	c := New()
	c.Server.Host = "0.0.0.0"
	c.Server.Port = "9000"
	if got := c.Address(); got != "0.0.0.0:9000" {
		t.Errorf("Expected 0.0.0.0:9000, got %q", got)
	}
}
