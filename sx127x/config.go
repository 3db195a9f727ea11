// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx127x

import "fmt"

// Config holds the physical layer configuration of the radio.
type Config struct {
	Frequency       int  // carrier frequency in MHz, must be a key of Frequencies
	TxPower         int  // output power in dBm, clamped per power amp
	PABoost         bool // true: use the PA_BOOST pin (2..17dBm), false: RFO pin (0..14dBm)
	Bandwidth       int  // signal bandwidth in Hz, snapped up to an entry of Bandwidths
	SpreadingFactor int  // 6..12, clamped
	CodingRate      int  // denominator of the 4/x coding rate, 5..8, clamped
	PreambleLength  int  // preamble length in symbols
	ImplicitHeader  bool // receive with implicit (fixed length) header
	SyncWord        byte // sync word, 0x12 is the private network default
	EnableCRC       bool // append and check a payload CRC
}

// DefaultConfig returns the configuration used when nothing else is specified.
func DefaultConfig() Config {
	return Config{
		Frequency:       915,
		TxPower:         2,
		Bandwidth:       125000,
		SpreadingFactor: 8,
		CodingRate:      5,
		PreambleLength:  8,
		SyncWord:        0x12,
	}
}

// Frequencies maps the supported carrier frequencies in MHz to the values of the
// RegFrfMsb, RegFrfMid, and RegFrfLsb registers.
var Frequencies = map[int][3]byte{
	196: {42, 64, 0},
	433: {108, 64, 0},
	434: {108, 128, 0},
	866: {216, 128, 0},
	868: {217, 0, 0},
	915: {228, 192, 0},
}

// Bandwidths is the table of signal bandwidths in Hz, the index is the register value.
var Bandwidths = [...]int{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

// bandwidthIndex returns the index of the smallest bandwidth >= bw, or of the highest
// bandwidth if bw is larger than all of them.
func bandwidthIndex(bw int) int {
	for i, b := range Bandwidths {
		if bw <= b {
			return i
		}
	}
	return len(Bandwidths) - 1
}

// BandwidthFor returns the bandwidth from the table that is used when requesting bw Hz.
func BandwidthFor(bw int) int { return Bandwidths[bandwidthIndex(bw)] }

func clamp(v, min, max int) int {
	switch {
	case v < min:
		return min
	case v > max:
		return max
	}
	return v
}

// lowDataRate returns whether the low data rate optimization needs to be on, which is the
// case when a symbol takes longer than 16ms.
func lowDataRate(bw, sf int) bool {
	return 1000*(1<<uint(sf)) > 16*bw
}

// Mode is an operating mode of the chip.
type Mode byte

const (
	MODE_SLEEP     Mode = iota
	MODE_STANDBY
	MODE_FS_TX     // frequency synthesis TX
	MODE_TX        // TX
	MODE_FS_RX     // frequency synthesis RX
	MODE_RX_CONT   // RX continuous
	MODE_RX_SINGLE // RX single
)

var modeNames = [...]string{"sleep", "standby", "fs-tx", "tx", "fs-rx", "rx-cont", "rx-single"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", byte(m))
}
