// Package usb defines the transfer primitives the dongle drivers are built on
// and provides a libusb-backed implementation of them.
package usb

import (
	"errors"
	"fmt"
)

// ErrStall is reported when an endpoint answers a transfer with a STALL
// handshake.
var ErrStall = errors.New("usb: endpoint stalled")

// ErrNoDevice is returned by Open when no matching dongle is attached.
var ErrNoDevice = errors.New("usb: no matching device")

// Device is the set of transfer primitives needed to talk to a dongle.
// Control transfers are vendor requests (request 0) addressed to the device.
type Device interface {
	// ClaimInterface claims interface 0 and readies the bulk endpoint.
	ClaimInterface() error

	// ReleaseInterface releases interface 0.
	ReleaseInterface() error

	// ControlIn reads up to length bytes from a vendor control request.
	ControlIn(value, index uint16, length int) ([]byte, error)

	// ControlOut writes data with a vendor control request.
	ControlOut(value, index uint16, data []byte) error

	// BulkIn reads length bytes from the given IN endpoint. A stalled
	// endpoint yields an error matching ErrStall.
	BulkIn(endpoint int, length int) ([]byte, error)

	// ClearHalt clears a halt condition on the given IN endpoint.
	ClearHalt(endpoint int) error

	// Close releases the device handle.
	Close() error
}

// ID is a USB vendor/product pair.
type ID struct {
	Vendor  uint16
	Product uint16
	Name    string
}

func (id ID) String() string {
	return fmt.Sprintf("%04x:%04x", id.Vendor, id.Product)
}

// KnownDongles lists RTL2832U based receivers this package will open.
var KnownDongles = []ID{
	{Vendor: 0x0bda, Product: 0x2832, Name: "Generic RTL2832U"},
	{Vendor: 0x0bda, Product: 0x2838, Name: "Generic RTL2832U OEM"},
	{Vendor: 0x0ccd, Product: 0x00a9, Name: "Terratec Cinergy T Stick Black"},
	{Vendor: 0x0ccd, Product: 0x00b3, Name: "Terratec NOXON DAB/DAB+ USB dongle"},
	{Vendor: 0x185b, Product: 0x0620, Name: "Compro Videomate U620F"},
	{Vendor: 0x1d19, Product: 0x1101, Name: "Dexatek DK DVB-T Dongle"},
	{Vendor: 0x1f4d, Product: 0xb803, Name: "GTek T803"},
}

// Lookup returns the entry in ids matching vendor and product.
func Lookup(ids []ID, vendor, product uint16) (ID, bool) {
	for _, id := range ids {
		if id.Vendor == vendor && id.Product == product {
			return id, true
		}
	}
	return ID{}, false
}

// Info describes an attached dongle.
type Info struct {
	ID      ID
	Bus     int
	Address int
}

// Describe returns the Info of the device at bus and address when its
// vendor and product are in ids.
func Describe(ids []ID, vendor, product uint16, bus, address int) (Info, bool) {
	id, ok := Lookup(ids, vendor, product)
	if !ok {
		return Info{}, false
	}
	return Info{ID: id, Bus: bus, Address: address}, true
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s) at bus %d address %d", i.ID.Name, i.ID, i.Bus, i.Address)
}
