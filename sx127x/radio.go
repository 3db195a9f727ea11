// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// The sx127x package drives a Semtech SX1276/77/78/79 LoRa radio, such as found on HopeRF
// RFM95/96/97/98 modules, in interrupt driven half-duplex packet mode.
//
// The driver does not talk to hardware directly, it uses a Bus that provides register access,
// the DIO0 interrupt line, and the reset line. The spibus package provides a Bus for radios
// connected to an SPI bus and the sx127xtest package simulates a chip for tests.
//
// The radio is normally parked in continuous receive mode. When a packet arrives the RX
// interrupt handler reads it out of the FIFO and passes it to Handler.OnReceive. Transmitting
// a packet switches the radio to TX and when the TX interrupt fires Handler.OnTransmit is
// asked for the next packet: if it provides one that is transmitted immediately, else the
// radio goes back to receive mode.
//
// All chip access happens while holding a reentrant lock, the interrupt handlers hold it
// while calling the Handler, so the Handler may call back into the Radio.
//
// Radio interface errors are treated as fatal: the first error is recorded and returned by
// all further operations as well as by Error. To recover the radio has to be initialized again.
package sx127x

import (
	"github.com/pkg/errors"

	"github.com/tve/loradev/thread"
)

const versionTries = 5 // attempts at reading the version register

var (
	// ErrWrongVersion is returned by Init when the version register doesn't have the expected value.
	ErrWrongVersion = errors.New("sx127x: wrong chip version")
	// ErrInvalidFrequency is returned when setting a frequency that is not in Frequencies.
	ErrInvalidFrequency = errors.New("sx127x: invalid frequency")
)

// LogPrintf is a function used by the driver to print logging info.
type LogPrintf func(format string, v ...interface{})

// Handler receives the packet events of a Radio. Both functions are called from the interrupt
// handler while the radio lock is held, they should not block.
type Handler interface {
	// OnReceive is called for each received packet, crcOK is false if the payload CRC
	// didn't match, rssi is in dBm.
	OnReceive(payload []byte, crcOK bool, rssi int)
	// OnTransmit is called when a packet has been transmitted. It returns the next packet
	// to transmit, or nil to go back to receive mode.
	OnTransmit() []byte
}

// RadioOpts contains options used when creating a Radio.
type RadioOpts struct {
	Config Config    // initial configuration, applied by Init
	Logger LogPrintf // function to use for logging
}

// Radio represents a Semtech SX127x LoRa radio.
type Radio struct {
	bus     Bus
	handler Handler
	log     LogPrintf
	// state
	lock     thread.RMutex // guards the chip and all fields below
	cfg      Config        // current configuration
	rxLength int           // fixed payload length for implicit header reception
	implicit int8          // implicit header bit last written: -1 unknown, 0 off, 1 on
	mode     Mode          // last mode written
	err      error         // persistent error
}

// New creates a Radio using the provided bus. Nothing is written to the chip until Init.
func New(bus Bus, handler Handler, opts RadioOpts) *Radio {
	r := &Radio{
		bus:      bus,
		handler:  handler,
		cfg:      opts.Config,
		implicit: -1,
		log:      func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) {
			opts.Logger("sx127x: "+format, v...)
		}
	}
	return r
}

// Init resets the chip, checks its version, writes the complete configuration, and either
// starts continuous reception (start==true) or parks the radio in standby.
func (r *Radio) Init(wantVersion byte, start bool) error {
	r.lock.Acquire()
	defer r.unlock()

	r.err = nil
	r.implicit = -1
	if err := r.bus.Reset(); err != nil {
		return r.fail(errors.Wrap(err, "reset"))
	}

	var version byte
	for n := 0; n < versionTries; n++ {
		version = r.readReg(REG_VERSION)
		if r.err != nil {
			return r.err
		}
		if version == wantVersion {
			break
		}
	}
	if version != wantVersion {
		return r.fail(errors.Wrapf(ErrWrongVersion, "got %#02x wanted %#02x", version, wantVersion))
	}
	r.log("version %#02x", version)

	r.setMode(MODE_SLEEP)

	if err := r.setFrequency(r.cfg.Frequency); err != nil {
		return err
	}
	r.setBandwidth(r.cfg.Bandwidth)
	r.writeReg(REG_LNA, r.readReg(REG_LNA)|LNA_BOOST)
	r.writeReg(REG_MODEMCONF3, CONF3_AGC)

	r.setTxPower(r.cfg.TxPower, r.cfg.PABoost)
	r.setImplicitHeader(r.cfg.ImplicitHeader)
	r.setSpreadingFactor(r.cfg.SpreadingFactor)
	r.setCodingRate(r.cfg.CodingRate)
	r.setPreambleLength(r.cfg.PreambleLength)
	r.writeReg(REG_SYNC, r.cfg.SyncWord)
	r.setEnableCRC(r.cfg.EnableCRC)
	r.updateLowDataRate()

	r.writeReg(REG_FIFOTXBASE, txFifoBase)
	r.writeReg(REG_FIFORXBASE, rxFifoBase)

	// Only TX and RX done interrupts, and clear anything pending.
	r.writeReg(REG_IRQMASK, 0xff&^(IRQ_TXDONE|IRQ_RXDONE))
	r.writeReg(REG_IRQFLAGS, 0xff)

	if start {
		r.setReceiveMode()
	} else {
		r.setMode(MODE_STANDBY)
	}
	return r.err
}

// Config returns the current configuration.
func (r *Radio) Config() Config {
	r.lock.Acquire()
	defer r.unlock()
	return r.cfg
}

// Mode returns the operating mode last written to the chip.
func (r *Radio) Mode() Mode {
	r.lock.Acquire()
	defer r.unlock()
	return r.mode
}

// Error returns any persistent error that may have been encountered.
func (r *Radio) Error() error {
	r.lock.Acquire()
	defer r.unlock()
	return r.err
}

// WithLock calls fn while holding the radio lock. This makes a sequence of operations atomic
// with respect to the interrupt handlers. Radio methods may be called from fn.
func (r *Radio) WithLock(fn func() error) error {
	r.lock.Acquire()
	defer r.unlock()
	return fn()
}

// SetFrequency changes the carrier frequency, freq is in MHz and must be one of the
// Frequencies.
func (r *Radio) SetFrequency(freq int) error {
	r.lock.Acquire()
	defer r.unlock()
	if err := r.setFrequency(freq); err != nil {
		return err
	}
	r.cfg.Frequency = freq
	return r.err
}

func (r *Radio) setFrequency(freq int) error {
	frf, ok := Frequencies[freq]
	if !ok {
		return errors.Wrapf(ErrInvalidFrequency, "%dMHz", freq)
	}
	r.writeReg(REG_FRFMSB, frf[0])
	r.writeReg(REG_FRFMID, frf[1])
	r.writeReg(REG_FRFLSB, frf[2])
	r.log("SetFreq %dMHz -> %#x %#x %#x", freq, frf[0], frf[1], frf[2])
	return r.err
}

// SetBandwidth sets the signal bandwidth to the smallest entry in Bandwidths that is at least
// bw Hz, or to the highest one.
func (r *Radio) SetBandwidth(bw int) error {
	r.lock.Acquire()
	defer r.unlock()
	r.setBandwidth(bw)
	r.updateLowDataRate()
	return r.err
}

func (r *Radio) setBandwidth(bw int) {
	i := bandwidthIndex(bw)
	r.cfg.Bandwidth = Bandwidths[i]
	r.writeReg(REG_MODEMCONF1, r.readReg(REG_MODEMCONF1)&^CONF1_BWMASK|byte(i)<<4)
}

// SetSpreadingFactor sets the spreading factor, clamped to 6..12.
func (r *Radio) SetSpreadingFactor(sf int) error {
	r.lock.Acquire()
	defer r.unlock()
	r.setSpreadingFactor(sf)
	r.updateLowDataRate()
	return r.err
}

func (r *Radio) setSpreadingFactor(sf int) {
	sf = clamp(sf, 6, 12)
	r.cfg.SpreadingFactor = sf
	if sf == 6 {
		r.writeReg(REG_DETECTOPT, DETECTOPT_SF6)
		r.writeReg(REG_DETECTTHR, DETECTTHR_SF6)
	} else {
		r.writeReg(REG_DETECTOPT, DETECTOPT_SF7UP)
		r.writeReg(REG_DETECTTHR, DETECTTHR_SF7UP)
	}
	r.writeReg(REG_MODEMCONF2, r.readReg(REG_MODEMCONF2)&^CONF2_SFMASK|byte(sf)<<4)
}

// updateLowDataRate turns the low data rate optimization on or off to match the symbol time.
func (r *Radio) updateLowDataRate() {
	conf3 := r.readReg(REG_MODEMCONF3)
	if lowDataRate(r.cfg.Bandwidth, r.cfg.SpreadingFactor) {
		conf3 |= CONF3_LOWRATE
	} else {
		conf3 &^= CONF3_LOWRATE
	}
	r.writeReg(REG_MODEMCONF3, conf3)
}

// SetCodingRate sets the coding rate to 4/rate, rate is clamped to 5..8.
func (r *Radio) SetCodingRate(rate int) error {
	r.lock.Acquire()
	defer r.unlock()
	r.setCodingRate(rate)
	return r.err
}

func (r *Radio) setCodingRate(rate int) {
	rate = clamp(rate, 5, 8)
	r.cfg.CodingRate = rate
	r.writeReg(REG_MODEMCONF1, r.readReg(REG_MODEMCONF1)&^CONF1_CRMASK|byte(rate-4)<<1)
}

// SetTxPower configures the output power in dBm. With paBoost the PA_BOOST pin is used and
// the power is clamped to 2..17dBm, else the RFO pin is used and the power is clamped to 0..14dBm.
// Which one works depends on how the module is wired, RFM9x modules only have PA_BOOST connected.
func (r *Radio) SetTxPower(dBm int, paBoost bool) error {
	r.lock.Acquire()
	defer r.unlock()
	r.setTxPower(dBm, paBoost)
	return r.err
}

func (r *Radio) setTxPower(dBm int, paBoost bool) {
	r.cfg.PABoost = paBoost
	if paBoost {
		dBm = clamp(dBm, 2, 17)
		r.writeReg(REG_PACONFIG, PA_BOOST|byte(dBm-2))
	} else {
		dBm = clamp(dBm, 0, 14)
		r.writeReg(REG_PACONFIG, 0x70|byte(dBm))
	}
	r.cfg.TxPower = dBm
	r.log("SetPower %ddBm (boost=%v)", dBm, paBoost)
}

// SetPreambleLength sets the length of the preamble in symbols.
func (r *Radio) SetPreambleLength(length int) error {
	r.lock.Acquire()
	defer r.unlock()
	r.setPreambleLength(length)
	return r.err
}

func (r *Radio) setPreambleLength(length int) {
	r.cfg.PreambleLength = length
	r.writeReg(REG_PREAMBLEMSB, byte(length>>8))
	r.writeReg(REG_PREAMBLELSB, byte(length))
}

// SetSyncWord sets the sync word.
func (r *Radio) SetSyncWord(sync byte) error {
	r.lock.Acquire()
	defer r.unlock()
	r.cfg.SyncWord = sync
	r.writeReg(REG_SYNC, sync)
	return r.err
}

// SetEnableCRC turns the payload CRC on or off.
func (r *Radio) SetEnableCRC(enable bool) error {
	r.lock.Acquire()
	defer r.unlock()
	r.setEnableCRC(enable)
	return r.err
}

func (r *Radio) setEnableCRC(enable bool) {
	r.cfg.EnableCRC = enable
	conf2 := r.readReg(REG_MODEMCONF2)
	if enable {
		conf2 |= CONF2_CRC
	} else {
		conf2 &^= CONF2_CRC
	}
	r.writeReg(REG_MODEMCONF2, conf2)
}

// SetImplicitHeader selects implicit or explicit header mode for reception.
func (r *Radio) SetImplicitHeader(implicit bool) error {
	r.lock.Acquire()
	defer r.unlock()
	r.cfg.ImplicitHeader = implicit
	r.setImplicitHeader(implicit)
	return r.err
}

// setImplicitHeader writes the header mode bit, unless it is already set that way.
func (r *Radio) setImplicitHeader(implicit bool) {
	var want int8
	if implicit {
		want = 1
	}
	if r.implicit == want {
		return
	}
	conf1 := r.readReg(REG_MODEMCONF1)
	if implicit {
		conf1 |= CONF1_IMPLICIT
	} else {
		conf1 &^= CONF1_IMPLICIT
	}
	r.writeReg(REG_MODEMCONF1, conf1)
	if r.err == nil {
		r.implicit = want
	}
}

// EnableReceive configures the payload length for reception: 0 selects explicit header mode
// where the length is carried in the header, any other value selects implicit header mode
// with packets of exactly that length.
func (r *Radio) EnableReceive(length int) error {
	r.lock.Acquire()
	defer r.unlock()
	r.cfg.ImplicitHeader = length != 0
	r.rxLength = clamp(length, 0, maxPacketLength)
	r.setImplicitHeader(r.cfg.ImplicitHeader)
	if length != 0 {
		r.writeReg(REG_PAYLENGTH, byte(r.rxLength))
	}
	return r.err
}

// PacketRSSI returns the RSSI of the last received packet in dBm.
func (r *Radio) PacketRSSI() int {
	r.lock.Acquire()
	defer r.unlock()
	return r.packetRSSI()
}

// The RSSI offset depends on the RF port: -164 for the bands below 868MHz, -157 above.
func (r *Radio) packetRSSI() int {
	rssi := int(r.readReg(REG_PKTRSSI))
	if r.cfg.Frequency < 868 {
		return rssi - 164
	}
	return rssi - 157
}

// PacketSNR returns the signal to noise ratio of the last received packet in dB.
func (r *Radio) PacketSNR() float64 {
	r.lock.Acquire()
	defer r.unlock()
	return float64(int8(r.readReg(REG_PKTSNR))) / 4
}

// Close detaches the interrupt handler and masks all interrupts in the chip.
func (r *Radio) Close() error {
	r.lock.Acquire()
	defer r.unlock()
	r.attach(nil)
	r.writeReg(REG_IRQMASK, 0xff)
	return r.err
}

// setMode changes the radio's operating mode, keeping it in LoRa mode.
func (r *Radio) setMode(mode Mode) {
	r.writeReg(REG_OPMODE, OPMODE_LONGRANGE|byte(mode)&OPMODE_MASK)
	if r.err == nil {
		r.mode = mode
		r.log("Mode %s", mode)
	}
}

// setReceiveMode starts continuous reception with the RX done interrupt on DIO0.
func (r *Radio) setReceiveMode() {
	r.setImplicitHeader(r.cfg.ImplicitHeader)
	if r.cfg.ImplicitHeader && r.rxLength != 0 {
		r.writeReg(REG_PAYLENGTH, byte(r.rxLength))
	}
	r.writeReg(REG_DIOMAPPING1, DIO0_RXDONE)
	r.attach(r.rxInterrupt)
	r.setMode(MODE_RX_CONT)
}

// setTransmitMode starts transmitting what is in the FIFO with the TX done interrupt on DIO0.
func (r *Radio) setTransmitMode() {
	r.writeReg(REG_DIOMAPPING1, DIO0_TXDONE)
	r.attach(r.txInterrupt)
	r.setMode(MODE_TX)
}

func (r *Radio) attach(handler func()) {
	if r.err != nil {
		return
	}
	if err := r.bus.AttachInterrupt(handler); err != nil {
		r.fail(errors.Wrap(err, "attach interrupt"))
	}
}

// fail records a persistent error, only the first one is kept.
func (r *Radio) fail(err error) error {
	if r.err == nil {
		r.err = err
		r.log("%s", err)
	}
	return r.err
}

// unlock releases the radio lock, which cannot fail: every caller acquired it first.
func (r *Radio) unlock() { r.lock.Release() }

// writeReg writes one register.
func (r *Radio) writeReg(addr, value byte) {
	if r.err != nil {
		return
	}
	if err := r.bus.WriteRegister(addr, value); err != nil {
		r.fail(errors.Wrapf(err, "write reg %#02x", addr))
	}
}

// readReg reads one register and returns its value, 0 after an error.
func (r *Radio) readReg(addr byte) byte {
	if r.err != nil {
		return 0
	}
	v, err := r.bus.ReadRegister(addr)
	if err != nil {
		r.fail(errors.Wrapf(err, "read reg %#02x", addr))
		return 0
	}
	return v
}

func (r *Radio) readBuf(addr byte, length int) []byte {
	if r.err != nil {
		return nil
	}
	buf, err := readBuffer(r.bus, addr, length)
	if err != nil {
		r.fail(errors.Wrapf(err, "read %d bytes from %#02x", length, addr))
		return nil
	}
	return buf
}

func (r *Radio) writeBuf(addr byte, data []byte) {
	if r.err != nil {
		return
	}
	if err := writeBuffer(r.bus, addr, data); err != nil {
		r.fail(errors.Wrapf(err, "write %d bytes to %#02x", len(data), addr))
	}
}
