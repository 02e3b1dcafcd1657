// Package usbtest provides an in-memory usb.Device that records every
// transfer and emulates the R820T tuner behind the I2C block.
package usbtest

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"go-rtl-radio/internal/usb"
)

// Transfer kinds recorded in the log.
const (
	KindControlIn  = "in"
	KindControlOut = "out"
	KindBulk       = "bulk"
	KindClearHalt  = "clear"
)

const (
	i2cBlock     = 0x600
	writeFlag    = 0x10
	tunerAddress = 0x34
)

// Transfer is one recorded USB transaction.
type Transfer struct {
	Kind   string
	Value  uint16
	Index  uint16
	Data   []byte
	Length int
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s value=0x%04x index=0x%04x data=% x len=%d", t.Kind, t.Value, t.Index, t.Data, t.Length)
}

// Device is a fake dongle. The zero value answers every control read with
// zeros and every bulk read with a ramp of bytes.
type Device struct {
	mu sync.Mutex

	// Tuner, when set, answers I2C traffic addressed to 0x34.
	Tuner *Tuner

	// FailOut, when it returns an error, fails the matching control write.
	FailOut func(value, index uint16, data []byte) error

	// Bulk, when set, supplies bulk read results.
	Bulk func(length int) ([]byte, error)

	log     []Transfer
	claimed bool
	closed  bool
	bulkSeq byte
}

// New returns a fake dongle with an R820T attached.
func New() *Device {
	return &Device{Tuner: NewTuner()}
}

// Log returns a copy of the recorded transfers.
func (d *Device) Log() []Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Transfer(nil), d.log...)
}

// Writes returns the recorded control writes.
func (d *Device) Writes() []Transfer {
	var out []Transfer
	for _, t := range d.Log() {
		if t.Kind == KindControlOut {
			out = append(out, t)
		}
	}
	return out
}

// ResetLog forgets recorded transfers.
func (d *Device) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
}

// Claimed reports whether the interface is currently claimed.
func (d *Device) Claimed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claimed
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) ClaimInterface() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimed = true
	return nil
}

func (d *Device) ReleaseInterface() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimed = false
	return nil
}

func (d *Device) ControlIn(value, index uint16, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, Transfer{Kind: KindControlIn, Value: value, Index: index, Length: length})
	buf := make([]byte, length)
	if index == i2cBlock && value == tunerAddress && d.Tuner != nil {
		d.Tuner.read(buf)
	} else if index == i2cBlock {
		return nil, fmt.Errorf("no device at I2C address 0x%02x", value)
	}
	return buf, nil
}

func (d *Device) ControlOut(value, index uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, Transfer{Kind: KindControlOut, Value: value, Index: index, Data: append([]byte(nil), data...)})
	if d.FailOut != nil {
		if err := d.FailOut(value, index, data); err != nil {
			return err
		}
	}
	if index == i2cBlock|writeFlag {
		if value != tunerAddress || d.Tuner == nil {
			return fmt.Errorf("no device at I2C address 0x%02x", value)
		}
		d.Tuner.write(data)
	}
	return nil
}

func (d *Device) BulkIn(endpoint int, length int) ([]byte, error) {
	d.mu.Lock()
	d.log = append(d.log, Transfer{Kind: KindBulk, Index: uint16(endpoint), Length: length})
	bulk := d.Bulk
	d.mu.Unlock()
	if bulk != nil {
		return bulk(length)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = d.bulkSeq
		d.bulkSeq++
	}
	return buf, nil
}

func (d *Device) ClearHalt(endpoint int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, Transfer{Kind: KindClearHalt, Index: uint16(endpoint)})
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ usb.Device = (*Device)(nil)

// I2CWrite is a register write received by the emulated tuner.
type I2CWrite struct {
	Reg   uint8
	Value uint8
}

// Tuner emulates the R820T register file. Status bytes are stored in their
// logical bit order and returned bit-reversed, as the chip does. Byte 0 is
// the chip identity and is returned as-is.
type Tuner struct {
	// Status holds the logical values of status bytes 1 to 4. Index 0 is
	// ignored.
	Status [5]byte

	// OnStatusRead, when set, runs before each status read with the read
	// count starting at 1 and may change Status.
	OnStatusRead func(n int, status *[5]byte)

	Regs   [32]byte
	Writes []I2CWrite

	pointer uint8
	reads   int
}

// NewTuner returns a tuner whose PLL locks, whose VCO fine tune reads 2 and
// whose filter calibration reads 0.
func NewTuner() *Tuner {
	return &Tuner{Status: [5]byte{0, 0, 0x40, 0, 0x20}}
}

// Reads returns the number of read transactions served.
func (t *Tuner) Reads() int {
	return t.reads
}

func (t *Tuner) String() string {
	return "r820t-emulator"
}

// Tx lets the emulator stand in for an I2C bus directly.
func (t *Tuner) Tx(addr uint16, w, r []byte) error {
	if addr != tunerAddress {
		return fmt.Errorf("no device at I2C address 0x%02x", addr)
	}
	if len(w) > 0 {
		t.write(w)
	}
	if len(r) > 0 {
		t.read(r)
	}
	return nil
}

func (t *Tuner) SetSpeed(physic.Frequency) error {
	return nil
}

var _ i2c.Bus = (*Tuner)(nil)

func (t *Tuner) write(data []byte) {
	if len(data) == 0 {
		return
	}
	t.pointer = data[0]
	for i, v := range data[1:] {
		reg := t.pointer + uint8(i)
		if int(reg) < len(t.Regs) {
			t.Regs[reg] = v
		}
		t.Writes = append(t.Writes, I2CWrite{Reg: reg, Value: v})
	}
}

func (t *Tuner) read(buf []byte) {
	t.reads++
	if t.pointer != 0 {
		for i := range buf {
			if int(t.pointer)+i < len(t.Regs) {
				buf[i] = t.Regs[int(t.pointer)+i]
			}
		}
		return
	}
	if t.OnStatusRead != nil {
		t.OnStatusRead(t.reads, &t.Status)
	}
	for i := range buf {
		switch {
		case i == 0:
			buf[i] = 0x69
		case i < len(t.Status):
			buf[i] = reverse(t.Status[i])
		}
	}
}

func reverse(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		if b&(1<<i) != 0 {
			r |= 1 << (7 - i)
		}
	}
	return r
}
