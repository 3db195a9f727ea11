// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx127x

import "errors"

// ErrNotImplemented is returned by UnimplementedBus for every operation.
var ErrNotImplemented = errors.New("sx127x: bus operation not implemented")

// Bus is the hardware access needed to drive an sx127x: register access, the interrupt line
// from DIO0, and the reset line.
type Bus interface {
	// ReadRegister reads one register.
	ReadRegister(addr byte) (byte, error)
	// WriteRegister writes one register.
	WriteRegister(addr, value byte) error
	// AttachInterrupt arranges for handler to be called on each rising edge of DIO0.
	// Passing nil disables the interrupt. Handler invocations must not overlap.
	// AttachInterrupt is called from within the handler itself, it must not wait for the
	// handler to return.
	AttachInterrupt(handler func()) error
	// Reset pulses the reset line of the chip.
	Reset() error
}

// BufferBus is implemented by buses that can transfer a burst of bytes to or from one
// register address, which is much faster when accessing the FIFO. Buses that don't implement
// it get one register access per byte.
type BufferBus interface {
	ReadBuffer(addr byte, length int) ([]byte, error)
	WriteBuffer(addr byte, data []byte) error
}

// UnimplementedBus can be embedded in a Bus implementation so it only needs to provide the
// operations it actually supports.
type UnimplementedBus struct{}

func (UnimplementedBus) ReadRegister(addr byte) (byte, error) { return 0, ErrNotImplemented }
func (UnimplementedBus) WriteRegister(addr, value byte) error { return ErrNotImplemented }
func (UnimplementedBus) AttachInterrupt(handler func()) error { return ErrNotImplemented }
func (UnimplementedBus) Reset() error { return ErrNotImplemented }

// readBuffer reads length bytes from addr, using a burst if the bus supports it.
func readBuffer(bus Bus, addr byte, length int) ([]byte, error) {
	if bb, ok := bus.(BufferBus); ok {
		return bb.ReadBuffer(addr, length)
	}
	buf := make([]byte, length)
	for i := range buf {
		v, err := bus.ReadRegister(addr)
		if err != nil {
			return nil, err
		}
		buf[i] = v
	}
	return buf, nil
}

// writeBuffer writes data to addr, using a burst if the bus supports it.
func writeBuffer(bus Bus, addr byte, data []byte) error {
	if bb, ok := bus.(BufferBus); ok {
		return bb.WriteBuffer(addr, data)
	}
	for _, v := range data {
		if err := bus.WriteRegister(addr, v); err != nil {
			return err
		}
	}
	return nil
}
