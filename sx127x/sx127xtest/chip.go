// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package sx127xtest provides a simulated sx127x chip for testing code that uses the sx127x
// package without hardware.
//
// The simulation covers what the driver relies on: a register file, the 256 byte FIFO with
// its auto-incrementing pointer, write-1-to-clear IRQ flags, and the DIO0 interrupt. Entering
// TX mode captures the packet in the FIFO, Receive and TxDone inject completion interrupts.
package sx127xtest

import (
	"sync"

	"github.com/tve/loradev/sx127x"
)

// Chip is a simulated sx127x. It implements sx127x.Bus and sx127x.BufferBus.
type Chip struct {
	mu       sync.Mutex
	version  byte
	regs     [0x80]byte
	fifo     [256]byte
	handler  func()
	writes   map[byte]int // number of writes per register
	sent     [][]byte     // packets captured when entering TX mode
	resets   int
	attaches int
	err      error
}

// NewChip returns a chip whose version register reads as version.
func NewChip(version byte) *Chip {
	c := &Chip{version: version, writes: make(map[byte]int)}
	c.reset()
	return c
}

// reset loads the power-on values of the registers the driver reads back.
func (c *Chip) reset() {
	c.regs = [0x80]byte{}
	c.regs[sx127x.REG_OPMODE] = 0x09
	c.regs[sx127x.REG_LNA] = 0x20
	c.regs[sx127x.REG_MODEMCONF1] = 0x72
	c.regs[sx127x.REG_MODEMCONF2] = 0x70
	c.regs[sx127x.REG_PAYLENGTH] = 0x01
	c.regs[sx127x.REG_SYNC] = 0x12
	c.regs[sx127x.REG_VERSION] = c.version
}

// SetError makes all bus operations fail with err, nil restores normal operation.
func (c *Chip) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Chip) ReadRegister(addr byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.read(addr), nil
}

func (c *Chip) read(addr byte) byte {
	addr &= 0x7f
	if addr == sx127x.REG_FIFO {
		v := c.fifo[c.regs[sx127x.REG_FIFOPTR]]
		c.regs[sx127x.REG_FIFOPTR]++
		return v
	}
	return c.regs[addr]
}

func (c *Chip) WriteRegister(addr, value byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.write(addr, value)
	return nil
}

func (c *Chip) write(addr, value byte) {
	addr &= 0x7f
	c.writes[addr]++
	switch addr {
	case sx127x.REG_FIFO:
		c.fifo[c.regs[sx127x.REG_FIFOPTR]] = value
		c.regs[sx127x.REG_FIFOPTR]++
	case sx127x.REG_IRQFLAGS:
		c.regs[addr] &^= value
	case sx127x.REG_VERSION:
		// read-only
	case sx127x.REG_OPMODE:
		c.regs[addr] = value
		if sx127x.Mode(value&sx127x.OPMODE_MASK) == sx127x.MODE_TX {
			base := int(c.regs[sx127x.REG_FIFOTXBASE])
			n := int(c.regs[sx127x.REG_PAYLENGTH])
			pkt := make([]byte, n)
			for i := range pkt {
				pkt[i] = c.fifo[(base+i)&0xff]
			}
			c.sent = append(c.sent, pkt)
		}
	default:
		c.regs[addr] = value
	}
}

func (c *Chip) ReadBuffer(addr byte, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = c.read(addr)
	}
	return buf, nil
}

func (c *Chip) WriteBuffer(addr byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, v := range data {
		c.write(addr, v)
	}
	return nil
}

func (c *Chip) AttachInterrupt(handler func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.handler = handler
	c.attaches++
	return nil
}

func (c *Chip) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.resets++
	c.reset()
	return nil
}

// Interrupt invokes the attached interrupt handler, as a rising edge on DIO0 would. It
// returns false if no handler is attached.
func (c *Chip) Interrupt() bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// Receive places payload into the FIFO as a received packet with the given raw packet RSSI
// register value, raises RxDone (and the CRC error flag if crcErr) and fires the interrupt.
func (c *Chip) Receive(payload []byte, crcErr bool, rssiReg byte) bool {
	c.mu.Lock()
	base := c.regs[sx127x.REG_FIFORXBASE]
	for i, v := range payload {
		c.fifo[(int(base)+i)&0xff] = v
	}
	c.regs[sx127x.REG_FIFORXCURR] = base
	c.regs[sx127x.REG_RXBYTES] = byte(len(payload))
	c.regs[sx127x.REG_PKTRSSI] = rssiReg
	c.regs[sx127x.REG_IRQFLAGS] |= sx127x.IRQ_RXDONE | sx127x.IRQ_VALIDHDR
	if crcErr {
		c.regs[sx127x.REG_IRQFLAGS] |= sx127x.IRQ_CRCERR
	}
	c.mu.Unlock()
	return c.Interrupt()
}

// TxDone raises the TxDone flag and fires the interrupt.
func (c *Chip) TxDone() bool {
	c.mu.Lock()
	c.regs[sx127x.REG_IRQFLAGS] |= sx127x.IRQ_TXDONE
	c.regs[sx127x.REG_OPMODE] = c.regs[sx127x.REG_OPMODE]&^sx127x.OPMODE_MASK | byte(sx127x.MODE_STANDBY)
	c.mu.Unlock()
	return c.Interrupt()
}

// Mode returns the current operating mode.
func (c *Chip) Mode() sx127x.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sx127x.Mode(c.regs[sx127x.REG_OPMODE] & sx127x.OPMODE_MASK)
}

// Reg returns the value of a register without side effects.
func (c *Chip) Reg(addr byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr&0x7f]
}

// SetReg sets a register without side effects.
func (c *Chip) SetReg(addr, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[addr&0x7f] = value
}

// Writes returns the number of times a register has been written.
func (c *Chip) Writes(addr byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[addr&0x7f]
}

// Sent returns the packets transmitted so far, one per entry into TX mode.
func (c *Chip) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Resets returns how many times the chip has been reset.
func (c *Chip) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Attached reports whether an interrupt handler is attached.
func (c *Chip) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// RegistersOnly returns a view of the chip that only implements sx127x.Bus, forcing the
// driver to transfer the FIFO one register access at a time.
func (c *Chip) RegistersOnly() sx127x.Bus { return regsOnly{c} }

type regsOnly struct{ c *Chip }

func (r regsOnly) ReadRegister(addr byte) (byte, error) { return r.c.ReadRegister(addr) }
func (r regsOnly) WriteRegister(addr, value byte) error { return r.c.WriteRegister(addr, value) }
func (r regsOnly) AttachInterrupt(handler func()) error { return r.c.AttachInterrupt(handler) }
func (r regsOnly) Reset() error { return r.c.Reset() }
