package transport

import (
	"bytes"
	"errors"
	"testing"

	"go-rtl-radio/internal/usb"
	"go-rtl-radio/internal/usb/usbtest"
)

func TestWriteRegisterEncoding(t *testing.T) {
	tests := []struct {
		value uint32
		width int
		data  []byte
	}{
		{0x09, 1, []byte{0x09}},
		{0x0210, 2, []byte{0x10, 0x02}},
		{0x01020304, 4, []byte{0x04, 0x03, 0x02, 0x01}},
	}
	for _, tt := range tests {
		fake := &usbtest.Device{}
		tr := New(fake, nil)
		if err := tr.WriteRegister(BlockUSB, 0x2148, tt.value, tt.width); err != nil {
			t.Fatalf("WriteRegister failed: %v", err)
		}
		w := fake.Writes()[0]
		if w.Value != 0x2148 || w.Index != BlockUSB|WriteFlag || !bytes.Equal(w.Data, tt.data) {
			t.Errorf("Width %d: unexpected transfer %s", tt.width, w)
		}
	}
}

func TestInvalidWidth(t *testing.T) {
	tr := New(&usbtest.Device{}, nil)
	if err := tr.WriteRegister(BlockSys, 0x3000, 1, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument on write, got %v", err)
	}
	if _, err := tr.ReadRegister(BlockSys, 0x3000, 8); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument on read, got %v", err)
	}
	if _, err := tr.WriteDemodRegister(1, 0x01, 1, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument on demod write, got %v", err)
	}
}

func TestReadRegisterRequestsAtLeastEightBytes(t *testing.T) {
	fake := &usbtest.Device{}
	tr := New(fake, nil)
	if _, err := tr.ReadRegister(BlockUSB, 0x2000, 1); err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if got := fake.Log()[0]; got.Length != 8 || got.Index != BlockUSB {
		t.Errorf("Unexpected read transfer %s", got)
	}
}

func TestWriteDemodRegister(t *testing.T) {
	fake := &usbtest.Device{}
	tr := New(fake, nil)
	if _, err := tr.WriteDemodRegister(1, 0x9f, 0x0384, 2); err != nil {
		t.Fatalf("WriteDemodRegister failed: %v", err)
	}
	log := fake.Log()
	if len(log) != 2 {
		t.Fatalf("Expected a write and a latch read, got %d transfers", len(log))
	}
	if w := log[0]; w.Value != 0x9f20 || w.Index != 0x11 || !bytes.Equal(w.Data, []byte{0x03, 0x84}) {
		t.Errorf("Unexpected demod write %s", w)
	}
	if r := log[1]; r.Kind != usbtest.KindControlIn || r.Value != 0x0120 || r.Index != 0x0a {
		t.Errorf("Unexpected latch read %s", r)
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("pipe error")
	fake := &usbtest.Device{FailOut: func(uint16, uint16, []byte) error { return cause }}
	tr := New(fake, nil)

	err := tr.WriteRegister(BlockSys, 0x3000, 0xe8, 1)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected a TransportError, got %v", err)
	}
	if te.Value != 0x3000 || te.Index != BlockSys|WriteFlag || !bytes.Equal(te.Data, []byte{0xe8}) {
		t.Errorf("Unexpected error context %+v", te)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the cause to be wrapped")
	}
}

func TestBulkReadStall(t *testing.T) {
	fake := &usbtest.Device{Bulk: func(int) ([]byte, error) { return nil, usb.ErrStall }}
	tr := New(fake, nil)

	data, err := tr.BulkRead(32)
	if err != nil {
		t.Fatalf("Expected stall to be absorbed, got %v", err)
	}
	if !bytes.Equal(data, make([]byte, 32)) {
		t.Errorf("Expected 32 zero bytes, got % x", data)
	}
	log := fake.Log()
	if last := log[len(log)-1]; last.Kind != usbtest.KindClearHalt || last.Index != BulkEndpoint {
		t.Errorf("Expected clear halt on endpoint 1, got %s", last)
	}
}

func TestBulkReadFailure(t *testing.T) {
	fake := &usbtest.Device{Bulk: func(int) ([]byte, error) { return nil, errors.New("no device") }}
	tr := New(fake, nil)
	var te *TransportError
	if _, err := tr.BulkRead(32); !errors.As(err, &te) {
		t.Errorf("Expected a TransportError, got %v", err)
	}
}

func TestWithI2CClosesOnError(t *testing.T) {
	fake := &usbtest.Device{}
	tr := New(fake, nil)
	cause := errors.New("tuner failed")

	err := tr.WithI2C(func() error { return cause })
	if !errors.Is(err, cause) {
		t.Errorf("Expected the callback error, got %v", err)
	}
	writes := fake.Writes()
	if len(writes) != 2 {
		t.Fatalf("Expected open and close, got %d writes", len(writes))
	}
	if writes[0].Data[0] != repeaterOpen || writes[1].Data[0] != repeaterClosed {
		t.Errorf("Unexpected repeater sequence %s, %s", writes[0], writes[1])
	}
}

func TestI2CBus(t *testing.T) {
	fake := usbtest.New()
	tr := New(fake, nil)
	bus := tr.I2CBus()

	if err := bus.Tx(0x34, []byte{0x0c, 0x5a}, nil); err != nil {
		t.Fatalf("Tx write failed: %v", err)
	}
	if fake.Tuner.Regs[0x0c] != 0x5a {
		t.Errorf("Expected register 0x0c to be 0x5a, got 0x%02x", fake.Tuner.Regs[0x0c])
	}
	id := make([]byte, 1)
	if err := bus.Tx(0x34, []byte{0x00}, id); err != nil {
		t.Fatalf("Tx read failed: %v", err)
	}
	if id[0] != 0x69 {
		t.Errorf("Expected chip id 0x69, got 0x%02x", id[0])
	}
	if err := bus.Tx(0x50, []byte{0x00}, nil); err == nil {
		t.Error("Expected an error for an absent device")
	}
	if err := bus.SetSpeed(400000); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected SetSpeed to be unsupported, got %v", err)
	}
}
