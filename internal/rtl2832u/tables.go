package rtl2832u

import (
	"go-rtl-radio/internal/transport"
)

// USB and system block registers.
const (
	regUSBSysctl    = 0x2000
	regUSBEPACtl    = 0x2148
	regUSBEPAMaxPkt = 0x2158
	regDemodCtl     = 0x3000
	regDemodCtl1    = 0x300b
)

// EPA_CTL values: stall endpoint and reset FIFO, then run.
const (
	epaStallReset = 0x0210
	epaRun        = 0x0000
)

type blockWrite struct {
	block   uint16
	address uint16
	value   uint32
	width   int
}

type demodWrite struct {
	page    uint16
	address uint16
	value   uint32
}

var usbSetup = []blockWrite{
	// DMA enable, full packet mode
	{transport.BlockUSB, regUSBSysctl, 0x09, 1},
	// 512 byte packets
	{transport.BlockUSB, regUSBEPAMaxPkt, 0x0200, 2},
	{transport.BlockUSB, regUSBEPACtl, epaStallReset, 2},
	{transport.BlockSys, regDemodCtl1, 0x22, 1},
	// ADC_I, ADC_Q and PLL on, out of reset
	{transport.BlockSys, regDemodCtl, 0xe8, 1},
}

// Channel low-pass filter coefficients, page 1 0x1c-0x2f.
var lpfCoefficients = []uint32{
	0xca, 0xdc, 0xd7, 0xd8, 0xe0, 0xf2, 0x0e, 0x35, 0x06, 0x50,
	0x9c, 0x0d, 0x71, 0x11, 0x14, 0x71, 0x74, 0x19, 0x41, 0xa5,
}

func demodSetup() []demodWrite {
	w := []demodWrite{
		{1, 0x01, 0x14},
		{1, 0x01, 0x10},
		// spectrum not inverted, no adjacent channel rejection
		{1, 0x15, 0x00},
		// carrier offset
		{1, 0x16, 0x00},
		{1, 0x17, 0x00},
		{1, 0x18, 0x00},
		// IF offset
		{1, 0x19, 0x00},
		{1, 0x1a, 0x00},
		{1, 0x1b, 0x00},
	}
	for i, c := range lpfCoefficients {
		w = append(w, demodWrite{1, 0x1c + uint16(i), c})
	}
	return append(w,
		// SDR mode, DAGC off
		demodWrite{0, 0x19, 0x05},
		// FSM init
		demodWrite{1, 0x93, 0xf0},
		demodWrite{1, 0x94, 0x0f},
		demodWrite{1, 0x11, 0x00},
		// AGC loop gain 0
		demodWrite{1, 0x04, 0x00},
		demodWrite{0, 0x61, 0x60},
		demodWrite{0, 0x06, 0x80},
		// zero-IF input
		demodWrite{1, 0xb1, 0x1b},
		// TP_CK0 off
		demodWrite{0, 0x0d, 0x83},
	)
}

// lowIFSetup switches the demodulator to take the tuner's low IF on ADC_Q
// with IQ estimation and compensation, spectrum inverted.
var lowIFSetup = []demodWrite{
	{1, 0xb1, 0x1a},
	{0, 0x08, 0x4d},
	{1, 0x15, 0x01},
}
