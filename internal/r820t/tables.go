package r820t

// regWrite sets the bits of mask in register addr to the matching bits of
// value.
type regWrite struct {
	addr  uint8
	value uint8
	mask  uint8
}

// Power-on values for registers 0x05-0x1f.
var defaultRegisters = [numRegisters]uint8{
	0x83, 0x32, 0x75, 0xc0, 0x40, 0xd6, 0x6c, 0xf5, 0x63, 0x75,
	0x68, 0x6c, 0x83, 0x80, 0x00, 0x0f, 0x00, 0xc0, 0x30, 0x48,
	0xcc, 0x60, 0x00, 0x54, 0xae, 0x4a, 0xc0,
}

// muxBand is the front-end configuration used from thresholdMHz upwards.
type muxBand struct {
	thresholdMHz float64
	reg17        uint8
	reg1a        uint8
	reg1b        uint8
}

var muxBands = []muxBand{
	{0, 0x08, 0x02, 0xdf},
	{50, 0x08, 0x02, 0xbe},
	{55, 0x08, 0x02, 0x8b},
	{60, 0x08, 0x02, 0x7b},
	{65, 0x08, 0x02, 0x69},
	{70, 0x08, 0x02, 0x58},
	{75, 0x00, 0x02, 0x44},
	{90, 0x00, 0x02, 0x34},
	{110, 0x00, 0x02, 0x24},
	{140, 0x00, 0x02, 0x14},
	{180, 0x00, 0x02, 0x13},
	{250, 0x00, 0x02, 0x11},
	{280, 0x00, 0x02, 0x00},
	{310, 0x00, 0x41, 0x00},
	{588, 0x00, 0x40, 0x00},
}

// Nibble bit reversal. The chip returns status bytes LSB first.
var bitRevs = [16]uint8{
	0x0, 0x8, 0x4, 0xc, 0x2, 0xa, 0x6, 0xe,
	0x1, 0x9, 0x5, 0xd, 0x3, 0xb, 0x7, 0xf,
}

var electronicsPrepare = []regWrite{
	{0x0c, 0x00, 0x0f},
	{0x13, 49, 0x3f},
	{0x1d, 0x00, 0x38},
}

// electronicsFinish runs after filter calibration; the first entry's value
// is combined with the calibrated filter capacitance.
var electronicsFinish = []regWrite{
	{0x0a, 0x10, 0x1f},
	{0x0b, 0x6b, 0xef},
	{0x07, 0x00, 0x80},
	{0x06, 0x10, 0x30},
	{0x1e, 0x40, 0x60},
	{0x05, 0x00, 0x80},
	{0x1f, 0x00, 0x80},
	{0x0f, 0x00, 0x80},
	{0x19, 0x60, 0x60},
	{0x1d, 0xe5, 0xc7},
	{0x1c, 0x24, 0xf8},
	{0x0d, 0x53, 0xff},
	{0x0e, 0x75, 0xff},
	{0x05, 0x00, 0x60},
	{0x06, 0x00, 0x08},
	{0x11, 0x38, 0x08},
	{0x17, 0x30, 0x30},
	{0x0a, 0x40, 0x60},
	{0x1d, 0x00, 0x38},
	{0x1c, 0x00, 0x04},
	{0x06, 0x00, 0x40},
	{0x1a, 0x30, 0x30},
	{0x1d, 0x18, 0x38},
	{0x1c, 0x24, 0x04},
	{0x1e, 0x0d, 0x1f},
	{0x1a, 0x20, 0x30},
}

var calibrationMode = []regWrite{
	{0x0b, 0x6b, 0x60},
	{0x0f, 0x04, 0x04},
	{0x10, 0x00, 0x03},
}

var calibrationTrigger = []regWrite{
	{0x0b, 0x10, 0x10},
	{0x0b, 0x00, 0x10},
	{0x0f, 0x00, 0x04},
}

var pllSetup = []regWrite{
	{0x10, 0x00, 0x10},
	{0x1a, 0x00, 0x0c},
	{0x12, 0x80, 0xe0},
}

var autoGain = []regWrite{
	{0x05, 0x00, 0x10},
	{0x07, 0x10, 0x10},
	{0x0c, 0x0b, 0x9f},
}

var manualGainMode = []regWrite{
	{0x05, 0x10, 0x10},
	{0x07, 0x00, 0x10},
	{0x0c, 0x08, 0x9f},
}

var shutdown = []regWrite{
	{0x06, 0xb1, 0xff},
	{0x05, 0xb3, 0xff},
	{0x07, 0x3a, 0xff},
	{0x08, 0x40, 0xff},
	{0x09, 0xc0, 0xff},
	{0x0a, 0x36, 0xff},
	{0x0c, 0x35, 0xff},
	{0x0f, 0x68, 0xff},
	{0x11, 0x03, 0xff},
	{0x17, 0xf4, 0xff},
	{0x19, 0x0c, 0xff},
}
