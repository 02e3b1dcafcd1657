// Package r820t drives the Rafael Micro R820T tuner over I2C.
package r820t

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"periph.io/x/conn/v3/i2c"
)

const (
	// Address is the tuner's I2C device address.
	Address = 0x34

	// IntermediateFrequency is the IF the tuner mixes the signal down to.
	IntermediateFrequency = 3_570_000

	identity     = 0x69
	firstReg     = 0x05
	numRegisters = 27

	calibrationFrequency = 56_000_000
)

var (
	// ErrCalibration is returned by Init when the PLL does not lock on the
	// filter calibration frequency.
	ErrCalibration = errors.New("r820t: PLL not locked during filter calibration")

	// ErrInvalidFrequency is returned for non-positive tuning requests.
	ErrInvalidFrequency = errors.New("r820t: invalid frequency")
)

// Check reports whether an R820T answers on bus. Any failure means the chip
// is not present.
func Check(bus i2c.Bus) bool {
	id := make([]byte, 1)
	if err := bus.Tx(Address, []byte{0x00}, id); err != nil {
		return false
	}
	return id[0] == identity
}

// Tuner is an R820T. Calls must be made with the I2C repeater open.
type Tuner struct {
	dev    i2c.Dev
	xtal   float64
	shadow [numRegisters]uint8
	pll    PLL
	logger *slog.Logger
}

// New returns a tuner on bus clocked by a crystal of xtal Hz. Call Init
// before any other method.
func New(bus i2c.Bus, xtal float64, logger *slog.Logger) *Tuner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tuner{
		dev:    i2c.Dev{Bus: bus, Addr: Address},
		xtal:   xtal,
		logger: logger.With("tuner", "R820T"),
	}
}

// Name identifies the chip.
func (t *Tuner) Name() string {
	return "R820T"
}

// Init loads the default registers and calibrates the filters.
func (t *Tuner) Init() error {
	t.shadow = defaultRegisters
	for i, v := range defaultRegisters {
		addr := uint8(firstReg + i)
		if err := t.dev.Tx([]byte{addr, v}, nil); err != nil {
			return fmt.Errorf("failed to write default register 0x%02x: %w", addr, err)
		}
	}
	if err := t.writeEach(electronicsPrepare); err != nil {
		return err
	}
	filterCap, err := t.calibrateFilter()
	if err != nil {
		return err
	}
	finish := append([]regWrite(nil), electronicsFinish...)
	finish[0].value |= filterCap
	if err := t.writeEach(finish); err != nil {
		return err
	}
	t.logger.Debug("Tuner initialized", "filter_cap", filterCap, "xtal", t.xtal)
	return nil
}

// SetFrequency tunes the local oscillator to freq Hz. It returns the
// frequency actually synthesized; locked is false when the PLL dividers
// cannot reach freq, in which case no frequency is returned.
func (t *Tuner) SetFrequency(freq float64) (achieved float64, locked bool, err error) {
	if freq <= 0 {
		return 0, false, fmt.Errorf("%w: %v Hz", ErrInvalidFrequency, freq)
	}
	if err := t.setMux(freq); err != nil {
		return 0, false, err
	}
	return t.setPLL(freq)
}

// SetAutoGain enables the tuner's automatic gain control.
func (t *Tuner) SetAutoGain() error {
	return t.writeEach(autoGain)
}

// SetManualGain disables AGC and sets the LNA and mixer gains approximating
// gain dB.
func (t *Tuner) SetManualGain(gain float64) error {
	lna, mixer := gainSteps(gain)
	writes := append(append([]regWrite(nil), manualGainMode...),
		regWrite{0x05, lna, 0x0f},
		regWrite{0x07, mixer, 0x0f},
	)
	return t.writeEach(writes)
}

// Close puts the tuner in its low power state.
func (t *Tuner) Close() error {
	return t.writeEach(shutdown)
}

// IntermediateFrequency returns the IF in Hz.
func (t *Tuner) IntermediateFrequency() float64 {
	return IntermediateFrequency
}

// SetXtalFrequency updates the crystal frequency used for PLL math.
func (t *Tuner) SetXtalFrequency(xtal float64) {
	t.xtal = xtal
}

// PLL returns the settings computed by the last PLL programming.
func (t *Tuner) PLL() PLL {
	return t.pll
}

// PLLState returns the lock state of the last PLL programming.
func (t *Tuner) PLLState() LockState {
	return t.pll.Lock
}

// Shadow returns a copy of registers 0x05-0x1f as last written.
func (t *Tuner) Shadow() [numRegisters]uint8 {
	return t.shadow
}

// gainSteps maps a gain in dB to LNA and mixer steps. The curve was fitted
// in two pieces.
func gainSteps(gain float64) (lna, mixer uint8) {
	var v float64
	if gain <= 15 {
		v = 1.36 + gain*(1.1118+gain*(-0.0786+gain*0.0027))
	} else {
		v = 1.2068 + gain*(0.6875+gain*(-0.01011+gain*0.0001587))
	}
	step := int(math.Floor(v + 0.5))
	step = min(30, max(0, step))
	// At step 0 the mixer step would be -1, which reads back as 0x0f under
	// the register mask. Hold it at 0 so the lowest gain stays lowest.
	return uint8(step / 2), uint8(max(0, floorDiv(step-1, 2)))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (t *Tuner) setMux(freq float64) error {
	band := selectMuxBand(freq / 1e6)
	return t.writeEach([]regWrite{
		{0x17, band.reg17, 0x08},
		{0x1a, band.reg1a, 0xc3},
		{0x1b, band.reg1b, 0xff},
		{0x10, 0x00, 0x0b},
		{0x08, 0x00, 0x3f},
		{0x09, 0x00, 0x3f},
	})
}

// selectMuxBand returns the last band whose threshold does not exceed mhz.
func selectMuxBand(mhz float64) muxBand {
	i := 0
	for ; i < len(muxBands)-1; i++ {
		if mhz < muxBands[i+1].thresholdMHz {
			break
		}
	}
	return muxBands[i]
}

// calibrateFilter returns the filter capacitance. It makes at most two
// attempts and accepts the second reading whatever it is.
func (t *Tuner) calibrateFilter() (uint8, error) {
	for attempt := 1; ; attempt++ {
		if err := t.writeEach(calibrationMode); err != nil {
			return 0, err
		}
		if _, locked, err := t.setPLL(calibrationFrequency); err != nil {
			return 0, err
		} else if !locked {
			return 0, ErrCalibration
		}
		if err := t.writeEach(calibrationTrigger); err != nil {
			return 0, err
		}
		status, err := t.readStatus(5)
		if err != nil {
			return 0, err
		}
		filterCap := status[4] & 0x0f
		if filterCap == 0x0f {
			filterCap = 0
		}
		if filterCap == 0 || attempt >= 2 {
			return filterCap, nil
		}
		t.logger.Debug("Filter calibration retry", "filter_cap", filterCap)
	}
}

// readStatus reads length status bytes starting at register 0, undoing the
// chip's bit order.
func (t *Tuner) readStatus(length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := t.dev.Tx([]byte{0x00}, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d status bytes: %w", length, err)
	}
	for i, b := range buf {
		buf[i] = reverseBits(b)
	}
	return buf, nil
}

func reverseBits(b uint8) uint8 {
	return bitRevs[b&0x0f]<<4 | bitRevs[b>>4]
}

// writeMasked writes value into the bits of mask of register addr. The
// shadow copy is updated once the hardware write succeeds.
func (t *Tuner) writeMasked(addr, value, mask uint8) error {
	if addr < firstReg || int(addr) >= firstReg+numRegisters {
		return fmt.Errorf("register 0x%02x is not writable", addr)
	}
	i := addr - firstReg
	v := (t.shadow[i] &^ mask) | (value & mask)
	if err := t.dev.Tx([]byte{addr, v}, nil); err != nil {
		return fmt.Errorf("failed to write register 0x%02x=0x%02x: %w", addr, v, err)
	}
	t.shadow[i] = v
	return nil
}

func (t *Tuner) writeEach(writes []regWrite) error {
	for _, w := range writes {
		if err := t.writeMasked(w.addr, w.value, w.mask); err != nil {
			return err
		}
	}
	return nil
}
