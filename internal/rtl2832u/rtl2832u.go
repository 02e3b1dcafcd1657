// Package rtl2832u drives the RTL2832U demodulator and the tuner attached
// to it.
package rtl2832u

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/i2c"

	"go-rtl-radio/internal/r820t"
	"go-rtl-radio/internal/transport"
	"go-rtl-radio/internal/usb"
)

const (
	// XtalFrequency is the nominal reference crystal.
	XtalFrequency = 28_800_000

	// BytesPerSample is one unsigned byte each for I and Q.
	BytesPerSample = 2
)

var (
	// ErrUnsupportedDevice is returned by Open when no known tuner answers.
	ErrUnsupportedDevice = errors.New("rtl2832u: unsupported tuner chip, only the R820T is supported")

	// ErrTuningInfeasible is returned when the tuner cannot synthesize the
	// requested frequency.
	ErrTuningInfeasible = errors.New("rtl2832u: frequency out of tuner range")
)

// Tuner is the tuner chip behind the I2C repeater. All methods are called
// with the repeater open.
type Tuner interface {
	Name() string
	Init() error
	SetFrequency(freq float64) (achieved float64, locked bool, err error)
	SetAutoGain() error
	SetManualGain(gain float64) error
	Close() error
	IntermediateFrequency() float64
	SetXtalFrequency(xtal float64)
}

// TunerProbe detects and constructs one kind of tuner.
type TunerProbe struct {
	Name  string
	Check func(bus i2c.Bus) bool
	New   func(bus i2c.Bus, xtal float64, logger *slog.Logger) Tuner
}

// Probes are tried in order by Open.
var Probes = []TunerProbe{
	{
		Name:  "R820T",
		Check: r820t.Check,
		New: func(bus i2c.Bus, xtal float64, logger *slog.Logger) Tuner {
			return r820t.New(bus, xtal, logger)
		},
	},
}

// Gain is either automatic or a manual setting in dB. The zero value is
// automatic.
type Gain struct {
	Manual bool
	DB     float64
}

// AutoGain selects the tuner's AGC.
func AutoGain() Gain {
	return Gain{}
}

// ManualGain selects a fixed gain in dB.
func ManualGain(db float64) Gain {
	return Gain{Manual: true, DB: db}
}

func (g Gain) String() string {
	if !g.Manual {
		return "auto"
	}
	return fmt.Sprintf("%.1f dB", g.DB)
}

// ParseGain reads "auto" (or "") and dB values such as "29.7", "29.7dB" or
// "29.7 dB".
func ParseGain(s string) (Gain, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return AutoGain(), nil
	}
	db, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "db")), 64)
	if err != nil {
		return Gain{}, fmt.Errorf("gain %q: want \"auto\" or a value in dB", s)
	}
	return ManualGain(db), nil
}

// Options configure Open.
type Options struct {
	// PPM is the crystal frequency correction in parts per million.
	PPM    float64
	Gain   Gain
	Logger *slog.Logger
	// Probes overrides the package tuner probes.
	Probes []TunerProbe
}

// Device is an opened RTL2832U dongle. Methods must not be called
// concurrently.
type Device struct {
	dev        usb.Device
	t          *transport.Transport
	tuner      Tuner
	ppm        float64
	gain       Gain
	centerFreq float64
	sampleRate int
	logger     *slog.Logger
}

// Open brings up the demodulator on dev, finds and initializes its tuner and
// applies the gain and frequency correction in opts. On failure the
// interface is released but dev is left open.
func Open(dev usb.Device, opts Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	probes := opts.Probes
	if probes == nil {
		probes = Probes
	}
	d := &Device{
		dev:    dev,
		t:      transport.New(dev, logger),
		ppm:    opts.PPM,
		gain:   opts.Gain,
		logger: logger,
	}
	if err := d.t.ClaimInterface(); err != nil {
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}
	if err := d.init(probes); err != nil {
		return nil, errors.Join(err, d.t.ReleaseInterface())
	}
	if err := d.SetFrequencyCorrection(d.ppm); err != nil {
		return nil, errors.Join(err, d.t.ReleaseInterface())
	}
	logger.Info("RTL2832U opened", "tuner", d.tuner.Name(), "ppm", d.ppm, "gain", d.gain.String())
	return d, nil
}

func (d *Device) init(probes []TunerProbe) error {
	for _, w := range usbSetup {
		if err := d.t.WriteRegister(w.block, w.address, w.value, w.width); err != nil {
			return fmt.Errorf("failed to configure USB: %w", err)
		}
	}
	if err := d.writeDemod(demodSetup()); err != nil {
		return fmt.Errorf("failed to initialize demodulator: %w", err)
	}

	xtal := d.xtalFrequency()
	bus := d.t.I2CBus()
	var probe *TunerProbe
	err := d.t.WithI2C(func() error {
		for i := range probes {
			if probes[i].Check(bus) {
				probe = &probes[i]
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to probe tuner: %w", err)
	}
	if probe == nil {
		return ErrUnsupportedDevice
	}
	d.tuner = probe.New(bus, xtal, d.logger)
	d.logger.Debug("Tuner found", "tuner", probe.Name)

	return d.t.WithI2C(func() error {
		if err := d.writeDemod(lowIFSetup[:2]); err != nil {
			return err
		}
		if err := d.setIFFrequency(d.tuner.IntermediateFrequency(), xtal); err != nil {
			return err
		}
		if err := d.writeDemod(lowIFSetup[2:]); err != nil {
			return err
		}
		if err := d.tuner.Init(); err != nil {
			return fmt.Errorf("failed to initialize tuner: %w", err)
		}
		return d.applyGain()
	})
}

// SetSampleRate sets the output sample rate and returns the rate actually
// achieved.
func (d *Device) SetSampleRate(rate int) (int, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("%w: sample rate %d", transport.ErrInvalidArgument, rate)
	}
	xtal := d.xtalFrequency()
	ratio := int64(math.Floor(xtal*(1<<22)/float64(rate))) & 0x0ffffffc
	if ratio == 0 {
		return 0, fmt.Errorf("%w: sample rate %d too high", transport.ErrInvalidArgument, rate)
	}
	realRate := int(math.Floor(xtal * (1 << 22) / float64(ratio)))

	ppmOffset := d.ppmOffset()
	if err := d.writeDemodWide(1, 0x9f, uint32(ratio>>16)&0xffff, 2); err != nil {
		return 0, err
	}
	if err := d.writeDemodWide(1, 0xa1, uint32(ratio)&0xffff, 2); err != nil {
		return 0, err
	}
	if err := d.writeDemod([]demodWrite{
		{1, 0x3e, uint32(ppmOffset>>8) & 0x3f},
		{1, 0x3f, uint32(ppmOffset) & 0xff},
	}); err != nil {
		return 0, err
	}
	if err := d.resetDemodulator(); err != nil {
		return 0, err
	}
	d.sampleRate = realRate
	d.logger.Debug("Sample rate set", "requested", rate, "actual", realRate)
	return realRate, nil
}

// SetFrequencyCorrection applies a crystal correction in ppm and retunes to
// the current center frequency, if any.
func (d *Device) SetFrequencyCorrection(ppm float64) error {
	d.ppm = ppm
	ppmOffset := d.ppmOffset()
	if err := d.writeDemod([]demodWrite{
		{1, 0x3e, uint32(ppmOffset>>8) & 0x3f},
		{1, 0x3f, uint32(ppmOffset) & 0xff},
	}); err != nil {
		return fmt.Errorf("failed to set frequency correction: %w", err)
	}
	xtal := d.xtalFrequency()
	d.tuner.SetXtalFrequency(xtal)
	if ifFreq := d.tuner.IntermediateFrequency(); ifFreq != 0 {
		if err := d.setIFFrequency(ifFreq, xtal); err != nil {
			return err
		}
	}
	if d.centerFreq != 0 {
		if _, err := d.SetCenterFrequency(d.centerFreq); err != nil {
			return err
		}
	}
	return nil
}

// SetCenterFrequency tunes to freq Hz and returns the frequency actually
// tuned.
func (d *Device) SetCenterFrequency(freq float64) (float64, error) {
	ifFreq := d.tuner.IntermediateFrequency()
	var achieved float64
	err := d.t.WithI2C(func() error {
		lo, locked, err := d.tuner.SetFrequency(freq + ifFreq)
		if err != nil {
			return err
		}
		if !locked {
			return fmt.Errorf("%w: %.0f Hz", ErrTuningInfeasible, freq)
		}
		achieved = lo - ifFreq
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.centerFreq = freq
	d.logger.Debug("Tuned", "requested", freq, "actual", achieved)
	return achieved, nil
}

// SetGain selects automatic or manual tuner gain.
func (d *Device) SetGain(g Gain) error {
	d.gain = g
	return d.t.WithI2C(d.applyGain)
}

// ResetBuffer flushes the sample FIFO. Call it before reading samples.
func (d *Device) ResetBuffer() error {
	if err := d.t.WriteRegister(transport.BlockUSB, regUSBEPACtl, epaStallReset, 2); err != nil {
		return err
	}
	return d.t.WriteRegister(transport.BlockUSB, regUSBEPACtl, epaRun, 2)
}

// ReadSamples reads n samples as interleaved unsigned I and Q bytes.
func (d *Device) ReadSamples(n int) ([]byte, error) {
	return d.t.BulkRead(n * BytesPerSample)
}

// Close powers down the tuner and releases the device.
func (d *Device) Close() error {
	err := d.t.WithI2C(d.tuner.Close)
	return errors.Join(err, d.t.ReleaseInterface(), d.dev.Close())
}

// FrequencyCorrection returns the correction in ppm.
func (d *Device) FrequencyCorrection() float64 {
	return d.ppm
}

// Gain returns the current gain setting.
func (d *Device) Gain() Gain {
	return d.gain
}

// CenterFrequency returns the last requested center frequency, 0 if none.
func (d *Device) CenterFrequency() float64 {
	return d.centerFreq
}

// SampleRate returns the last achieved sample rate, 0 if none was set.
func (d *Device) SampleRate() int {
	return d.sampleRate
}

// TunerName identifies the tuner chip.
func (d *Device) TunerName() string {
	return d.tuner.Name()
}

func (d *Device) applyGain() error {
	if d.gain.Manual {
		return d.tuner.SetManualGain(d.gain.DB)
	}
	return d.tuner.SetAutoGain()
}

func (d *Device) xtalFrequency() float64 {
	return math.Floor(XtalFrequency * (1 + d.ppm/1e6))
}

func (d *Device) ppmOffset() int64 {
	return -int64(math.Floor(d.ppm * (1 << 24) / 1e6))
}

func (d *Device) setIFFrequency(ifFreq, xtal float64) error {
	m := -int64(math.Floor(ifFreq * (1 << 22) / xtal))
	return d.writeDemod([]demodWrite{
		{1, 0x19, uint32(m>>16) & 0x3f},
		{1, 0x1a, uint32(m>>8) & 0xff},
		{1, 0x1b, uint32(m) & 0xff},
	})
}

func (d *Device) resetDemodulator() error {
	return d.writeDemod([]demodWrite{
		{1, 0x01, 0x14},
		{1, 0x01, 0x10},
	})
}

func (d *Device) writeDemod(writes []demodWrite) error {
	for _, w := range writes {
		if err := d.writeDemodWide(w.page, w.address, w.value, 1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) writeDemodWide(page, address uint16, value uint32, width int) error {
	_, err := d.t.WriteDemodRegister(page, address, value, width)
	return err
}
