// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx127x_test

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/tve/loradev/sx127x"
	"github.com/tve/loradev/sx127x/sx127xtest"
)

const version = 0x12

type rxEvent struct {
	payload []byte
	crcOK   bool
	rssi    int
	snr     float64
}

// recorder is a Handler that records received packets and hands out queued TX packets.
type recorder struct {
	radio *sx127x.Radio
	rx    []rxEvent
	next  [][]byte
	txCnt int
}

func (h *recorder) OnReceive(payload []byte, crcOK bool, rssi int) {
	// PacketSNR takes the radio lock again, which must not deadlock.
	h.rx = append(h.rx, rxEvent{payload, crcOK, rssi, h.radio.PacketSNR()})
}

func (h *recorder) OnTransmit() []byte {
	h.txCnt++
	if len(h.next) == 0 {
		return nil
	}
	pkt := h.next[0]
	h.next = h.next[1:]
	return pkt
}

func newRadio(t *testing.T, cfg sx127x.Config) (*sx127x.Radio, *sx127xtest.Chip, *recorder) {
	chip := sx127xtest.NewChip(version)
	h := &recorder{}
	r := sx127x.New(chip, h, sx127x.RadioOpts{Config: cfg, Logger: t.Logf})
	h.radio = r
	if err := r.Init(version, true); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r, chip, h
}

func TestInit(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())

	if chip.Resets() != 1 {
		t.Errorf("chip reset %d times, expected once", chip.Resets())
	}
	if m := chip.Mode(); m != sx127x.MODE_RX_CONT {
		t.Errorf("mode: got %s expected %s", m, sx127x.MODE_RX_CONT)
	}
	if r.Mode() != sx127x.MODE_RX_CONT {
		t.Errorf("radio mode: got %s", r.Mode())
	}
	if !chip.Attached() {
		t.Errorf("no interrupt handler attached")
	}
	regs := map[string]struct {
		addr, mask, want byte
	}{
		"opmode":    {sx127x.REG_OPMODE, 0xff, 0x85},
		"frf-msb":   {sx127x.REG_FRFMSB, 0xff, 228},
		"frf-mid":   {sx127x.REG_FRFMID, 0xff, 192},
		"frf-lsb":   {sx127x.REG_FRFLSB, 0xff, 0},
		"lna-boost": {sx127x.REG_LNA, sx127x.LNA_BOOST, sx127x.LNA_BOOST},
		"bw":        {sx127x.REG_MODEMCONF1, 0xf0, 7 << 4},
		"cr":        {sx127x.REG_MODEMCONF1, 0x0e, 1 << 1},
		"explicit":  {sx127x.REG_MODEMCONF1, 0x01, 0},
		"sf":        {sx127x.REG_MODEMCONF2, 0xf0, 8 << 4},
		"crc-off":   {sx127x.REG_MODEMCONF2, sx127x.CONF2_CRC, 0},
		"agc":       {sx127x.REG_MODEMCONF3, 0xff, sx127x.CONF3_AGC},
		"preamble":  {sx127x.REG_PREAMBLELSB, 0xff, 8},
		"sync":      {sx127x.REG_SYNC, 0xff, 0x12},
		"pa":        {sx127x.REG_PACONFIG, 0xff, 0x72},
		"irqmask":   {sx127x.REG_IRQMASK, 0xff, 0xb7},
		"irqflags":  {sx127x.REG_IRQFLAGS, 0xff, 0},
		"dio0":      {sx127x.REG_DIOMAPPING1, 0xc0, sx127x.DIO0_RXDONE},
	}
	for n, tc := range regs {
		if got := chip.Reg(tc.addr) & tc.mask; got != tc.want {
			t.Errorf("%s: reg %#02x got %#02x expected %#02x", n, tc.addr, got, tc.want)
		}
	}
}

func TestInitStandby(t *testing.T) {
	chip := sx127xtest.NewChip(version)
	r := sx127x.New(chip, nil, sx127x.RadioOpts{Config: sx127x.DefaultConfig()})
	if err := r.Init(version, false); err != nil {
		t.Fatal(err)
	}
	if m := chip.Mode(); m != sx127x.MODE_STANDBY {
		t.Errorf("mode: got %s expected %s", m, sx127x.MODE_STANDBY)
	}
	if chip.Attached() {
		t.Errorf("interrupt handler attached in standby")
	}
}

func TestInitWrongVersion(t *testing.T) {
	chip := sx127xtest.NewChip(0x11)
	r := sx127x.New(chip, nil, sx127x.RadioOpts{Config: sx127x.DefaultConfig()})
	err := r.Init(version, true)
	if !errors.Is(err, sx127x.ErrWrongVersion) {
		t.Fatalf("got %v expected %v", err, sx127x.ErrWrongVersion)
	}
	if chip.Mode() == sx127x.MODE_RX_CONT {
		t.Errorf("radio started despite version mismatch")
	}
}

func TestInitInvalidFrequency(t *testing.T) {
	cfg := sx127x.DefaultConfig()
	cfg.Frequency = 900
	chip := sx127xtest.NewChip(version)
	r := sx127x.New(chip, nil, sx127x.RadioOpts{Config: cfg})
	if err := r.Init(version, true); !errors.Is(err, sx127x.ErrInvalidFrequency) {
		t.Fatalf("got %v expected %v", err, sx127x.ErrInvalidFrequency)
	}
}

func TestUnimplementedBus(t *testing.T) {
	bus := struct{ sx127x.UnimplementedBus }{}
	r := sx127x.New(bus, nil, sx127x.RadioOpts{Config: sx127x.DefaultConfig()})
	if err := r.Init(version, true); !errors.Is(err, sx127x.ErrNotImplemented) {
		t.Fatalf("got %v expected %v", err, sx127x.ErrNotImplemented)
	}
}

func TestSpreadingFactor(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	for _, sf := range []int{-1, 0, 5, 6, 7, 8, 9, 10, 11, 12, 13, 100} {
		want := sf
		switch {
		case sf < 6:
			want = 6
		case sf > 12:
			want = 12
		}
		if err := r.SetSpreadingFactor(sf); err != nil {
			t.Fatal(err)
		}
		if got := int(chip.Reg(sx127x.REG_MODEMCONF2) >> 4); got != want {
			t.Errorf("sf %d: got %d expected %d", sf, got, want)
		}
		if got := r.Config().SpreadingFactor; got != want {
			t.Errorf("sf %d: config has %d expected %d", sf, got, want)
		}
		opt, thr := byte(sx127x.DETECTOPT_SF7UP), byte(sx127x.DETECTTHR_SF7UP)
		if want == 6 {
			opt, thr = sx127x.DETECTOPT_SF6, sx127x.DETECTTHR_SF6
		}
		if got := chip.Reg(sx127x.REG_DETECTOPT); got != opt {
			t.Errorf("sf %d: detect optimize %#x expected %#x", sf, got, opt)
		}
		if got := chip.Reg(sx127x.REG_DETECTTHR); got != thr {
			t.Errorf("sf %d: detect threshold %#x expected %#x", sf, got, thr)
		}
		if chip.Reg(sx127x.REG_MODEMCONF2)&sx127x.CONF2_CRC != 0 {
			t.Errorf("sf %d: clobbered CRC bit", sf)
		}
	}
}

func TestBandwidth(t *testing.T) {
	tests := map[string]struct {
		bw, want, reg int
	}{
		"tiny":    {1, 7800, 0},
		"exact":   {125000, 125000, 7},
		"between": {50000, 62500, 6},
		"31k":     {31000, 31250, 4},
		"500k":    {500000, 500000, 9},
		"huge":    {1000000, 500000, 9},
	}
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	for n, tc := range tests {
		if err := r.SetBandwidth(tc.bw); err != nil {
			t.Fatal(err)
		}
		if got := r.Config().Bandwidth; got != tc.want {
			t.Errorf("%s: got %d expected %d", n, got, tc.want)
		}
		if got := int(chip.Reg(sx127x.REG_MODEMCONF1) >> 4); got != tc.reg {
			t.Errorf("%s: register got %d expected %d", n, got, tc.reg)
		}
		if chip.Reg(sx127x.REG_MODEMCONF1)&0x0e != 1<<1 {
			t.Errorf("%s: clobbered coding rate", n)
		}
	}

	// Never snap down, and snapping is idempotent.
	for bw := 0; bw <= 600000; bw += 100 {
		got := sx127x.BandwidthFor(bw)
		if bw <= 500000 && got < bw {
			t.Fatalf("bandwidth %d snapped down to %d", bw, got)
		}
		if again := sx127x.BandwidthFor(got); again != got {
			t.Fatalf("bandwidth %d -> %d -> %d", bw, got, again)
		}
	}
}

func TestFrequency(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	for f, frf := range sx127x.Frequencies {
		if err := r.SetFrequency(f); err != nil {
			t.Fatalf("%dMHz: %v", f, err)
		}
		got := [3]byte{chip.Reg(sx127x.REG_FRFMSB), chip.Reg(sx127x.REG_FRFMID), chip.Reg(sx127x.REG_FRFLSB)}
		if got != frf {
			t.Errorf("%dMHz: got %v expected %v", f, got, frf)
		}
	}

	if err := r.SetFrequency(915); err != nil {
		t.Fatal(err)
	}
	for _, f := range []int{0, 900, 869, 915000000} {
		if err := r.SetFrequency(f); !errors.Is(err, sx127x.ErrInvalidFrequency) {
			t.Errorf("%dMHz: got %v expected %v", f, err, sx127x.ErrInvalidFrequency)
		}
	}
	if r.Config().Frequency != 915 || chip.Reg(sx127x.REG_FRFMSB) != 228 {
		t.Errorf("invalid frequency changed the configuration")
	}
	if err := r.Error(); err != nil {
		t.Errorf("invalid frequency recorded persistent error %v", err)
	}
}

func TestCodingRate(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	for rate, want := range map[int]byte{1: 1, 5: 1, 6: 2, 7: 3, 8: 4, 9: 4} {
		if err := r.SetCodingRate(rate); err != nil {
			t.Fatal(err)
		}
		if got := chip.Reg(sx127x.REG_MODEMCONF1) & 0x0e >> 1; got != want {
			t.Errorf("rate 4/%d: got %d expected %d", rate, got, want)
		}
	}
}

func TestTxPower(t *testing.T) {
	tests := map[string]struct {
		dBm   int
		boost bool
		reg   byte
		power int
	}{
		"rfo-low":    {-3, false, 0x70, 0},
		"rfo-mid":    {10, false, 0x7a, 10},
		"rfo-high":   {20, false, 0x7e, 14},
		"boost-low":  {0, true, 0x80, 2},
		"boost-mid":  {10, true, 0x88, 10},
		"boost-high": {20, true, 0x8f, 17},
	}
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	for n, tc := range tests {
		if err := r.SetTxPower(tc.dBm, tc.boost); err != nil {
			t.Fatal(err)
		}
		if got := chip.Reg(sx127x.REG_PACONFIG); got != tc.reg {
			t.Errorf("%s: got %#02x expected %#02x", n, got, tc.reg)
		}
		if got := r.Config().TxPower; got != tc.power {
			t.Errorf("%s: config power %d expected %d", n, got, tc.power)
		}
	}
}

func TestLowDataRate(t *testing.T) {
	tests := map[string]struct {
		bw, sf int
		on     bool
	}{
		"125k-sf7":  {125000, 7, false},
		"125k-sf11": {125000, 11, true},
		"125k-sf12": {125000, 12, true},
		"62k-sf9":   {62500, 9, false},
		"62k-sf10":  {62500, 10, true},
		"500k-sf12": {500000, 12, false},
	}
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	for n, tc := range tests {
		r.SetBandwidth(tc.bw)
		r.SetSpreadingFactor(tc.sf)
		on := chip.Reg(sx127x.REG_MODEMCONF3)&sx127x.CONF3_LOWRATE != 0
		if on != tc.on {
			t.Errorf("%s: low data rate %v expected %v", n, on, tc.on)
		}
		if chip.Reg(sx127x.REG_MODEMCONF3)&sx127x.CONF3_AGC == 0 {
			t.Errorf("%s: clobbered AGC bit", n)
		}
	}
}

func TestImplicitHeaderElided(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	n := chip.Writes(sx127x.REG_MODEMCONF1)
	if err := r.SetImplicitHeader(false); err != nil {
		t.Fatal(err)
	}
	if got := chip.Writes(sx127x.REG_MODEMCONF1); got != n {
		t.Errorf("unchanged header mode rewritten: %d writes, expected %d", got, n)
	}
	if err := r.SetImplicitHeader(true); err != nil {
		t.Fatal(err)
	}
	if got := chip.Writes(sx127x.REG_MODEMCONF1); got != n+1 {
		t.Errorf("changed header mode: %d writes, expected %d", got, n+1)
	}
	if chip.Reg(sx127x.REG_MODEMCONF1)&sx127x.CONF1_IMPLICIT == 0 {
		t.Errorf("implicit header bit not set")
	}
}

func TestPreambleSyncCRC(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	r.SetPreambleLength(0x1234)
	r.SetSyncWord(0x34)
	r.SetEnableCRC(true)
	if chip.Reg(sx127x.REG_PREAMBLEMSB) != 0x12 || chip.Reg(sx127x.REG_PREAMBLELSB) != 0x34 {
		t.Errorf("preamble: got %#x %#x", chip.Reg(sx127x.REG_PREAMBLEMSB), chip.Reg(sx127x.REG_PREAMBLELSB))
	}
	if chip.Reg(sx127x.REG_SYNC) != 0x34 {
		t.Errorf("sync: got %#x", chip.Reg(sx127x.REG_SYNC))
	}
	if chip.Reg(sx127x.REG_MODEMCONF2)&sx127x.CONF2_CRC == 0 {
		t.Errorf("CRC not enabled")
	}
	r.SetEnableCRC(false)
	if chip.Reg(sx127x.REG_MODEMCONF2)&sx127x.CONF2_CRC != 0 {
		t.Errorf("CRC not disabled")
	}
	if chip.Reg(sx127x.REG_MODEMCONF2)>>4 != 8 {
		t.Errorf("clobbered spreading factor")
	}
}

func TestStickyBusError(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	chip.SetError(io.ErrUnexpectedEOF)
	err := r.SetSyncWord(0x34)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v expected %v", err, io.ErrUnexpectedEOF)
	}
	chip.SetError(nil)
	if err := r.SetCodingRate(6); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error not persistent, got %v", err)
	}
	if err := r.Error(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Error() got %v", err)
	}
	// A fresh Init clears it.
	if err := r.Init(version, true); err != nil {
		t.Errorf("re-init: %v", err)
	}
}

// TestBusErrorLog checks that a bus error is logged once with a single package prefix and
// that the returned error still says where it came from.
func TestBusErrorLog(t *testing.T) {
	var lines []string
	logf := func(format string, v ...interface{}) { lines = append(lines, fmt.Sprintf(format, v...)) }
	chip := sx127xtest.NewChip(version)
	r := sx127x.New(chip, nil, sx127x.RadioOpts{Config: sx127x.DefaultConfig(), Logger: logf})
	if err := r.Init(version, true); err != nil {
		t.Fatal(err)
	}
	chip.SetError(io.ErrUnexpectedEOF)
	err := r.SetSyncWord(0x34)
	if err == nil || !strings.Contains(err.Error(), "write reg") {
		t.Fatalf("got %v", err)
	}
	errLines := 0
	for _, l := range lines {
		if strings.Contains(l, "sx127x: sx127x:") {
			t.Errorf("doubled prefix: %q", l)
		}
		if strings.Contains(l, io.ErrUnexpectedEOF.Error()) {
			errLines++
			if !strings.HasPrefix(l, "sx127x: write reg") {
				t.Errorf("unexpected error log %q", l)
			}
		}
	}
	if errLines != 1 {
		t.Errorf("error logged %d times, expected once", errLines)
	}
}

func TestClose(t *testing.T) {
	r, chip, _ := newRadio(t, sx127x.DefaultConfig())
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if chip.Attached() {
		t.Errorf("interrupt handler still attached")
	}
	if chip.Reg(sx127x.REG_IRQMASK) != 0xff {
		t.Errorf("interrupts not masked: %#x", chip.Reg(sx127x.REG_IRQMASK))
	}
}

func TestWithLockReentrant(t *testing.T) {
	r, _, _ := newRadio(t, sx127x.DefaultConfig())
	err := r.WithLock(func() error {
		return r.WithLock(func() error { return r.SetSyncWord(0x21) })
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Config().SyncWord != 0x21 {
		t.Errorf("sync word not set")
	}
}
