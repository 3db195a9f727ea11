// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// Package spibus connects an sx127x radio to an SPI bus, an interrupt capable GPIO pin wired to
// the radio's DIO0, and optionally a GPIO pin wired to the radio's reset line.
//
// The interrupt pin is watched by a goroutine that calls the attached handler for each rising
// edge. Handler calls never overlap. Should an edge get lost, the pin is still high after
// the edge timeout and the handler is called anyway.
package spibus

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
)

// Conn is an SPI connection, periph's spi.Conn and loradev.SPI both satisfy it.
type Conn interface {
	Tx(w, r []byte) error
}

// IntrPin is the input wired to DIO0, periph's gpio.PinIn and loradev.GPIO both satisfy it.
type IntrPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// ResetPin is the output wired to the radio's reset line.
type ResetPin interface {
	Out(l gpio.Level) error
}

// LogPrintf is a function used to print logging info.
type LogPrintf func(format string, v ...interface{})

// Opts contains options used when creating a Bus.
type Opts struct {
	ResetPulse  time.Duration // how long to hold reset low, default 100ms
	EdgeTimeout time.Duration // how long to wait for an edge before checking the pin, default 1s
	Logger      LogPrintf     // function to use for logging
}

// Bus provides access to an sx127x connected via SPI. It implements sx127x.Bus and sx127x.BufferBus.
type Bus struct {
	conn  Conn
	intr  IntrPin
	reset ResetPin
	opts  Opts
	log   LogPrintf

	mu      sync.Mutex
	handler func()        // interrupt handler, nil if disabled
	stop    chan struct{} // closed to stop the interrupt goroutine
	done    chan struct{} // closed when the interrupt goroutine exits
	intrCnt int           // count interrupts
}

// New returns a Bus, intr and reset may be nil if not connected.
func New(conn Conn, intr IntrPin, reset ResetPin, opts Opts) *Bus {
	if opts.ResetPulse == 0 {
		opts.ResetPulse = 100 * time.Millisecond
	}
	if opts.EdgeTimeout == 0 {
		opts.EdgeTimeout = time.Second
	}
	b := &Bus{conn: conn, intr: intr, reset: reset, opts: opts,
		log: func(format string, v ...interface{}) {}}
	if opts.Logger != nil {
		b.log = func(format string, v ...interface{}) {
			opts.Logger("spibus: "+format, v...)
		}
	}
	return b
}

// ReadRegister reads one register and returns its value.
func (b *Bus) ReadRegister(addr byte) (byte, error) {
	var buf [2]byte
	if err := b.conn.Tx([]byte{addr & 0x7f, 0}, buf[:]); err != nil {
		return 0, errors.Wrap(err, "spibus")
	}
	return buf[1], nil
}

// WriteRegister writes one register.
func (b *Bus) WriteRegister(addr, value byte) error {
	var buf [2]byte
	if err := b.conn.Tx([]byte{addr | 0x80, value}, buf[:]); err != nil {
		return errors.Wrap(err, "spibus")
	}
	return nil
}

// ReadBuffer reads length bytes in one transaction. The sx127x does not auto-increment
// the address for the FIFO register, for other registers consecutive ones are read.
func (b *Bus) ReadBuffer(addr byte, length int) ([]byte, error) {
	wBuf := make([]byte, length+1)
	rBuf := make([]byte, length+1)
	wBuf[0] = addr & 0x7f
	if err := b.conn.Tx(wBuf, rBuf); err != nil {
		return nil, errors.Wrap(err, "spibus")
	}
	return rBuf[1:], nil
}

// WriteBuffer writes data in one transaction.
func (b *Bus) WriteBuffer(addr byte, data []byte) error {
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = addr | 0x80
	copy(wBuf[1:], data)
	if err := b.conn.Tx(wBuf, rBuf); err != nil {
		return errors.Wrap(err, "spibus")
	}
	return nil
}

// Reset pulses the reset line low and gives the radio time to come back up. Without reset
// pin this does nothing.
func (b *Bus) Reset() error {
	if b.reset == nil {
		return nil
	}
	if err := b.reset.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "spibus: reset")
	}
	time.Sleep(b.opts.ResetPulse)
	if err := b.reset.Out(gpio.High); err != nil {
		return errors.Wrap(err, "spibus: reset")
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

// AttachInterrupt sets the handler called for rising edges on the interrupt pin, nil disables
// it. It may be called from within the handler.
func (b *Bus) AttachInterrupt(handler func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	if handler == nil || b.stop != nil {
		return nil
	}
	if b.intr == nil {
		return errors.New("spibus: no interrupt pin")
	}
	if err := b.intr.In(gpio.Float, gpio.RisingEdge); err != nil {
		return errors.Wrap(err, "spibus: error initializing interrupt pin")
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.watch(b.stop, b.done)
	return nil
}

// Interrupts returns the number of interrupts serviced.
func (b *Bus) Interrupts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.intrCnt
}

// watch is the interrupt goroutine, it waits for edges and calls the handler.
func (b *Bus) watch(stop, done chan struct{}) {
	defer close(done)
	// Make sure we're not missing an initial edge due to a race condition.
	if b.intr.Read() == gpio.High {
		b.interrupt()
	}
	for {
		select {
		case <-stop:
			b.log("interrupt goroutine exiting")
			return
		default:
		}
		if b.intr.WaitForEdge(b.opts.EdgeTimeout) {
			// Some pins report both edges, only rising ones are interrupts.
			if b.intr.Read() == gpio.High {
				b.interrupt()
			}
		} else if b.intr.Read() == gpio.High {
			b.log("Interrupt was missed!")
			b.interrupt()
		}
	}
}

func (b *Bus) interrupt() {
	b.mu.Lock()
	h := b.handler
	if h != nil {
		b.intrCnt++
	}
	b.mu.Unlock()
	if h != nil {
		h()
	}
}

// Close stops the interrupt goroutine and closes the SPI connection if it can be closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.handler = nil, nil
	b.mu.Unlock()
	if stop != nil {
		close(stop)
		b.intr.In(gpio.Float, gpio.NoEdge) // causes WaitForEdge to return
		<-done
	}
	if c, ok := b.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
