package transport

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Repeater control values for demodulator page 1 register 0x01.
const (
	repeaterOpen   = 0x18
	repeaterClosed = 0x10
)

// OpenI2C connects the tuner to the I2C bus.
func (t *Transport) OpenI2C() error {
	if _, err := t.WriteDemodRegister(1, 0x01, repeaterOpen, 1); err != nil {
		return fmt.Errorf("failed to open I2C repeater: %w", err)
	}
	return nil
}

// CloseI2C disconnects the tuner from the I2C bus.
func (t *Transport) CloseI2C() error {
	if _, err := t.WriteDemodRegister(1, 0x01, repeaterClosed, 1); err != nil {
		return fmt.Errorf("failed to close I2C repeater: %w", err)
	}
	return nil
}

// WithI2C runs fn with the I2C repeater open and closes it on every exit
// path. Sessions do not nest.
func (t *Transport) WithI2C(fn func() error) error {
	if err := t.OpenI2C(); err != nil {
		return err
	}
	err := fn()
	return errors.Join(err, t.CloseI2C())
}

// ReadI2CRegister reads one register of an I2C device.
func (t *Transport) ReadI2CRegister(addr uint8, reg uint8) (uint8, error) {
	if err := t.WriteRegisterBuffer(BlockI2C, uint16(addr), []byte{reg}); err != nil {
		return 0, err
	}
	v, err := t.ReadRegister(BlockI2C, uint16(addr), 1)
	return uint8(v), err
}

// WriteI2CRegister writes one register of an I2C device.
func (t *Transport) WriteI2CRegister(addr uint8, reg uint8, value uint8) error {
	return t.WriteRegisterBuffer(BlockI2C, uint16(addr), []byte{reg, value})
}

// ReadI2CRegisterBuffer reads length consecutive registers of an I2C device
// starting at reg.
func (t *Transport) ReadI2CRegisterBuffer(addr uint8, reg uint8, length int) ([]byte, error) {
	if err := t.WriteRegisterBuffer(BlockI2C, uint16(addr), []byte{reg}); err != nil {
		return nil, err
	}
	return t.ReadRegisterBuffer(BlockI2C, uint16(addr), length)
}

// I2CBus exposes the repeater-gated bus as a periph i2c.Bus. Transactions
// must run inside WithI2C.
func (t *Transport) I2CBus() i2c.Bus {
	return &bus{t: t}
}

type bus struct {
	t *Transport
}

func (b *bus) String() string {
	return "rtl2832u-i2c"
}

// Tx writes w to the device, then reads len(r) bytes from it.
func (b *bus) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		if err := b.t.WriteRegisterBuffer(BlockI2C, addr, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		data, err := b.t.ReadRegisterBuffer(BlockI2C, addr, len(r))
		if err != nil {
			return err
		}
		copy(r, data)
	}
	return nil
}

// SetSpeed is unsupported; the demodulator fixes the bus clock.
func (b *bus) SetSpeed(f physic.Frequency) error {
	return fmt.Errorf("%w: I2C speed is fixed by the demodulator (requested %s)", ErrInvalidArgument, f)
}
