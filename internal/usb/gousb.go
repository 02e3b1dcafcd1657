package usb

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gousb"
)

const (
	controlTimeout = 300 * time.Millisecond

	requestClearFeature = 0x01
	featureEndpointHalt = 0x00
	endpointDirIn       = 0x80
)

// LibUSBDevice is a Device backed by libusb through gousb.
type LibUSBDevice struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	info Info
}

// List enumerates attached dongles matching ids without keeping them open.
func List(ids []ID) ([]Info, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []Info
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if info, ok := describe(ids, desc); ok {
			found = append(found, info)
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return found, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return found, nil
}

// Open opens the index-th attached dongle matching ids.
func Open(ids []ID, index int) (*LibUSBDevice, error) {
	ctx := gousb.NewContext()

	// devs holds only the devices that opened, so it is indexed on its own
	// rather than alongside the descriptors seen.
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := describe(ids, desc)
		return ok
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB devices: %w", err)
	}
	if index < 0 || index >= len(devs) {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("%w (index %d, %d found)", ErrNoDevice, index, len(devs))
	}
	for i, d := range devs {
		if i != index {
			d.Close()
		}
	}

	dev := devs[index]
	info, _ := describe(ids, dev.Desc)
	dev.ControlTimeout = controlTimeout
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to enable kernel driver auto-detach: %w", err)
	}

	return &LibUSBDevice{ctx: ctx, dev: dev, info: info}, nil
}

func describe(ids []ID, desc *gousb.DeviceDesc) (Info, bool) {
	return Describe(ids, uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
}

// Info returns the identity of the opened dongle.
func (d *LibUSBDevice) Info() Info {
	return d.info
}

// ClaimInterface implements Device.
func (d *LibUSBDevice) ClaimInterface() error {
	cfg, err := d.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to select configuration 1: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface 0: %w", err)
	}
	in, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		return fmt.Errorf("failed to open bulk endpoint 1: %w", err)
	}
	d.cfg, d.intf, d.in = cfg, intf, in
	return nil
}

// ReleaseInterface implements Device.
func (d *LibUSBDevice) ReleaseInterface() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf, d.in = nil, nil
	}
	if d.cfg != nil {
		err := d.cfg.Close()
		d.cfg = nil
		if err != nil {
			return fmt.Errorf("failed to release configuration: %w", err)
		}
	}
	return nil
}

// ControlIn implements Device.
func (d *LibUSBDevice) ControlIn(value, index uint16, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := d.dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice, 0, value, index, buf)
	if err != nil {
		return nil, translate(err)
	}
	return buf[:n], nil
}

// ControlOut implements Device.
func (d *LibUSBDevice) ControlOut(value, index uint16, data []byte) error {
	n, err := d.dev.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice, 0, value, index, data)
	if err != nil {
		return translate(err)
	}
	if n != len(data) {
		return fmt.Errorf("short control write: %d of %d bytes", n, len(data))
	}
	return nil
}

// BulkIn implements Device.
func (d *LibUSBDevice) BulkIn(endpoint int, length int) ([]byte, error) {
	if d.in == nil {
		return nil, errors.New("usb: interface not claimed")
	}
	if endpoint != d.in.Desc.Number {
		return nil, fmt.Errorf("usb: endpoint %d not open", endpoint)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.in, buf); err != nil {
		return nil, translate(err)
	}
	return buf, nil
}

// ClearHalt implements Device with a standard CLEAR_FEATURE(ENDPOINT_HALT)
// request addressed to the endpoint. gousb does not expose
// libusb_clear_halt, so this clears the halt on the device only and leaves
// the host's data toggle for the endpoint as it was. If reads still fail
// after a stall, look at the toggle first.
func (d *LibUSBDevice) ClearHalt(endpoint int) error {
	_, err := d.dev.Control(gousb.ControlOut|gousb.ControlStandard|gousb.ControlEndpoint,
		requestClearFeature, featureEndpointHalt, uint16(endpointDirIn|endpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to clear halt on endpoint %d: %w", endpoint, err)
	}
	return nil
}

// Close implements Device.
func (d *LibUSBDevice) Close() error {
	var errs []error
	if err := d.ReleaseInterface(); err != nil {
		errs = append(errs, err)
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device close error: %w", err))
		}
		d.dev = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("context close error: %w", err))
		}
		d.ctx = nil
	}
	return errors.Join(errs...)
}

func translate(err error) error {
	if errors.Is(err, gousb.ErrorPipe) || errors.Is(err, gousb.TransferStall) {
		return fmt.Errorf("%w: %v", ErrStall, err)
	}
	return err
}
