// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package spibus

import (
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/pkg/errors"
	"github.com/tve/loradev"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// Pins names the hardware used to reach a radio.
type Pins struct {
	SPI   string // periph: SPI port name, "" for the first one; embd: channel "0" or "1"
	Speed int    // SPI clock in Hz, default 4MHz
	Intr  string // name of the pin wired to DIO0, gpiochipN:offset selects the GPIO character device
	Reset string // name of the pin wired to the reset line, "" if not connected
}

const defaultSpeed = 4000000

// OpenPeriph opens the radio's SPI port and pins using periph.io.
func OpenPeriph(pins Pins, opts Opts) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "spibus: periph init")
	}
	if pins.Speed == 0 {
		pins.Speed = defaultSpeed
	}
	port, err := spireg.Open(pins.SPI)
	if err != nil {
		return nil, errors.Wrapf(err, "spibus: cannot open SPI %q", pins.SPI)
	}
	conn, err := port.Connect(physic.Frequency(pins.Speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, errors.Wrap(err, "spibus: cannot connect to SPI")
	}
	intr, reset, err := openPins(pins, func(name string) (pin, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, errors.Errorf("spibus: cannot open pin %s", name)
		}
		return p, nil
	})
	if err != nil {
		port.Close()
		return nil, err
	}
	return New(&periphConn{conn, port}, intr, reset, opts), nil
}

// periphConn closes the port along with the connection.
type periphConn struct {
	spi.Conn
	port spi.PortCloser
}

func (c *periphConn) Close() error { return c.port.Close() }

// OpenEmbd opens the radio's SPI channel and pins using embd.
func OpenEmbd(pins Pins, opts Opts) (*Bus, error) {
	if err := embd.InitGPIO(); err != nil {
		return nil, errors.Wrap(err, "spibus: embd gpio init")
	}
	if err := embd.InitSPI(); err != nil {
		return nil, errors.Wrap(err, "spibus: embd spi init")
	}
	if pins.Speed == 0 {
		pins.Speed = defaultSpeed
	}
	var channel byte
	if pins.SPI == "1" {
		channel = 1
	}
	intr, reset, err := openPins(pins, func(name string) (pin, error) {
		p, err := loradev.NewGPIO(name)
		return p, errors.Wrap(err, "spibus")
	})
	if err != nil {
		return nil, err
	}
	return New(loradev.NewSPI(channel, pins.Speed), intr, reset, opts), nil
}

var _ pin = gpio.PinIO(nil)
