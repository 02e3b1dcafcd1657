// Package transport encodes register operations on an RTL2832U dongle as USB
// control and bulk transfers.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go-rtl-radio/internal/usb"
)

// Register blocks addressed through the control transfer index field.
const (
	BlockDemod = 0x000
	BlockUSB   = 0x100
	BlockSys   = 0x200
	BlockI2C   = 0x600
)

// WriteFlag is set in the index field of write requests.
const WriteFlag = 0x10

// BulkEndpoint is the IN endpoint delivering I/Q samples.
const BulkEndpoint = 1

// ErrInvalidArgument is returned for register widths other than 1, 2 or 4.
var ErrInvalidArgument = errors.New("invalid argument")

// TransportError describes a failed control or bulk transfer.
type TransportError struct {
	Op    string
	Value uint16
	Index uint16
	Data  []byte
	Err   error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "usb %s failed (value 0x%04x index 0x%04x", e.Op, e.Value, e.Index)
	if e.Data != nil {
		fmt.Fprintf(&b, " data %s", dump(e.Data))
	}
	fmt.Fprintf(&b, "): %v", e.Err)
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport issues register reads and writes against one dongle. Calls must
// be serialized by the caller.
type Transport struct {
	dev    usb.Device
	logger *slog.Logger
}

// New returns a Transport for dev.
func New(dev usb.Device, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{dev: dev, logger: logger}
}

// ClaimInterface claims the control interface.
func (t *Transport) ClaimInterface() error {
	return t.dev.ClaimInterface()
}

// ReleaseInterface releases the control interface.
func (t *Transport) ReleaseInterface() error {
	return t.dev.ReleaseInterface()
}

// WriteRegister writes a little-endian value of width bytes to a register in
// the given block.
func (t *Transport) WriteRegister(block, address uint16, value uint32, width int) error {
	buf, err := encode(value, width, binary.LittleEndian)
	if err != nil {
		return err
	}
	return t.writeControl(address, block|WriteFlag, buf)
}

// ReadRegister reads a little-endian value of width bytes from a register in
// the given block.
func (t *Transport) ReadRegister(block, address uint16, width int) (uint32, error) {
	if !validWidth(width) {
		return 0, fmt.Errorf("%w: cannot read %d-byte register", ErrInvalidArgument, width)
	}
	buf, err := t.readControl(address, block, width)
	if err != nil {
		return 0, err
	}
	return decode(buf), nil
}

// WriteRegisterBuffer writes raw bytes to a register in the given block.
func (t *Transport) WriteRegisterBuffer(block, address uint16, data []byte) error {
	return t.writeControl(address, block|WriteFlag, data)
}

// ReadRegisterBuffer reads length raw bytes from a register in the given
// block.
func (t *Transport) ReadRegisterBuffer(block, address uint16, length int) ([]byte, error) {
	return t.readControl(address, block, length)
}

// WriteDemodRegister writes a big-endian value into a demodulator page
// register. The chip latches the write on the following read of page 0x0a,
// whose result is returned.
func (t *Transport) WriteDemodRegister(page uint16, address uint16, value uint32, width int) (uint8, error) {
	buf, err := encode(value, width, binary.BigEndian)
	if err != nil {
		return 0, err
	}
	if err := t.writeControl(address<<8|0x20, page|WriteFlag, buf); err != nil {
		return 0, err
	}
	v, err := t.ReadRegister(0x0a, 0x0120, 1)
	return uint8(v), err
}

// ReadDemodRegister reads a demodulator page register.
func (t *Transport) ReadDemodRegister(page uint16, address uint16, width int) (uint32, error) {
	if !validWidth(width) {
		return 0, fmt.Errorf("%w: cannot read %d-byte register", ErrInvalidArgument, width)
	}
	buf, err := t.readControl(address<<8|0x20, page, width)
	if err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range buf {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// BulkRead reads exactly length bytes from the sample endpoint. A stalled
// endpoint is cleared and reported as a zero-filled buffer.
func (t *Transport) BulkRead(length int) ([]byte, error) {
	data, err := t.dev.BulkIn(BulkEndpoint, length)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, usb.ErrStall) {
		t.logger.Debug("Bulk endpoint stalled, returning silence", "length", length)
		if err := t.dev.ClearHalt(BulkEndpoint); err != nil {
			return nil, &TransportError{Op: "clear halt", Index: BulkEndpoint, Err: err}
		}
		return make([]byte, length), nil
	}
	return nil, &TransportError{Op: "bulk read", Value: uint16(length), Index: BulkEndpoint, Err: err}
}

func (t *Transport) readControl(value, index uint16, length int) ([]byte, error) {
	data, err := t.dev.ControlIn(value, index, max(8, length))
	if err != nil {
		return nil, &TransportError{Op: "read", Value: value, Index: index, Err: err}
	}
	if len(data) < length {
		return nil, &TransportError{Op: "read", Value: value, Index: index,
			Err: fmt.Errorf("short read: %d of %d bytes", len(data), length)}
	}
	return data[:length], nil
}

func (t *Transport) writeControl(value, index uint16, data []byte) error {
	if err := t.dev.ControlOut(value, index, data); err != nil {
		return &TransportError{Op: "write", Value: value, Index: index, Data: data, Err: err}
	}
	return nil
}

func validWidth(width int) bool {
	return width == 1 || width == 2 || width == 4
}

func encode(value uint32, width int, order binary.ByteOrder) ([]byte, error) {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = uint8(value)
	case 2:
		order.PutUint16(buf, uint16(value))
	case 4:
		order.PutUint32(buf, value)
	default:
		return nil, fmt.Errorf("%w: cannot write %d-byte register", ErrInvalidArgument, width)
	}
	return buf, nil
}

func decode(buf []byte) uint32 {
	switch len(buf) {
	case 1:
		return uint32(buf[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf))
	case 4:
		return binary.LittleEndian.Uint32(buf)
	}
	return 0
}

func dump(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02x", b)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
