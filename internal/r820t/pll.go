package r820t

import (
	"math"
)

const vcoMin = 1_770_000_000

// LockState is the PLL lock status.
type LockState int

const (
	LockUnknown LockState = iota
	Locked
	Unlocked
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	}
	return "unknown"
}

// PLL describes the synthesizer settings of the last tuning.
type PLL struct {
	Xtal   float64
	DivNum int
	MixDiv float64
	NInt   int
	SDM    int
	Lock   LockState
}

// setPLL programs the synthesizer for freq. Dividers that would overflow
// leave the PLL Unlocked and return no frequency.
func (t *Tuner) setPLL(freq float64) (float64, bool, error) {
	xtal := math.Floor(t.xtal)
	if err := t.writeEach(pllSetup); err != nil {
		return 0, false, err
	}

	divNum := min(6, int(math.Floor(math.Log2(vcoMin/freq))))
	mixDiv := math.Exp2(float64(divNum + 1))

	status, err := t.readStatus(5)
	if err != nil {
		return 0, false, err
	}
	// The fine tune threshold of 2 is empirical.
	vcoFineTune := (status[4] & 0x30) >> 4
	if vcoFineTune > 2 {
		divNum--
	} else if vcoFineTune < 2 {
		divNum++
	}
	if err := t.writeMasked(0x10, uint8(divNum<<5), 0xe0); err != nil {
		return 0, false, err
	}

	vcoFreq := freq * mixDiv
	nint := math.Floor(vcoFreq / (2 * xtal))
	vcoFra := math.Mod(vcoFreq, 2*xtal)
	t.pll = PLL{Xtal: xtal, DivNum: divNum, MixDiv: mixDiv, NInt: int(nint)}
	if nint > 63 {
		t.pll.Lock = Unlocked
		t.logger.Debug("PLL dividers out of range", "freq", freq, "nint", nint)
		return 0, false, nil
	}

	ni := math.Floor((nint - 13) / 4)
	si := math.Mod(nint-13, 4)
	var fracMode uint8
	if vcoFra == 0 {
		fracMode = 0x08
	}
	if err := t.writeEach([]regWrite{
		{0x14, uint8(int(ni) + int(si)<<6), 0xff},
		{0x12, fracMode, 0x08},
	}); err != nil {
		return 0, false, err
	}

	sdm := int(min(65535, math.Floor(32768*vcoFra/xtal)))
	t.pll.SDM = sdm
	if err := t.writeEach([]regWrite{
		{0x16, uint8(sdm >> 8), 0xff},
		{0x15, uint8(sdm & 0xff), 0xff},
	}); err != nil {
		return 0, false, err
	}

	if err := t.waitLock(); err != nil {
		return 0, false, err
	}
	if err := t.writeMasked(0x1a, 0x08, 0x08); err != nil {
		return 0, false, err
	}
	achieved := 2 * xtal * (nint + float64(sdm)/65536) / mixDiv
	return achieved, t.pll.Lock == Locked, nil
}

// waitLock polls the lock bit. After one unlocked reading the VCO current is
// raised and the second reading is accepted whatever it says.
func (t *Tuner) waitLock() error {
	for attempt := 1; ; attempt++ {
		status, err := t.readStatus(3)
		if err != nil {
			return err
		}
		if status[2]&0x40 != 0 || attempt >= 2 {
			t.pll.Lock = Locked
			return nil
		}
		if err := t.writeMasked(0x12, 0x60, 0xe0); err != nil {
			return err
		}
	}
}
