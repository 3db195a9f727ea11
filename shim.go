package loradev

// stuff in here is a hack to be able to switch between embd and periph...
// The interfaces use periph's gpio types so either library can back a spibus.Bus.

import (
	"fmt"
	"time"

	"github.com/kidoman/embd"
	"periph.io/x/periph/conn/gpio"
)

type SPI interface {
	Tx(w, r []byte) error
	Close() error
}

type GPIO interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
	Out(l gpio.Level) error
	Number() int
}

//===== SPI shim for embd

// NewSPI opens the SPI bus in mode 0 with 8-bit words. embd.InitSPI must have been called.
func NewSPI(channel byte, speedHz int) SPI {
	return &embdSPI{embd.NewSPIBus(embd.SPIMode0, channel, speedHz, 8, 0)}
}

type embdSPI struct {
	embd.SPIBus
}

func (s *embdSPI) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

//===== GPIO shim for embd

// NewGPIO opens a pin by name. embd.InitGPIO must have been called.
func NewGPIO(name string) (GPIO, error) {
	g, err := embd.NewDigitalPin(name)
	if err != nil {
		return nil, fmt.Errorf("NewDigitalPin %s: %s", name, err)
	}
	return &embdPin{p: g, dir: embd.In, edge: make(chan struct{}, 1)}, nil
}

type embdPin struct {
	p        embd.DigitalPin
	dir      embd.Direction
	watching bool
	edge     chan struct{}
}

var embdEdges = map[gpio.Edge]embd.Edge{
	gpio.RisingEdge:  embd.EdgeRising,
	gpio.FallingEdge: embd.EdgeFalling,
	gpio.BothEdges:   embd.EdgeBoth,
}

func (g *embdPin) In(pull gpio.Pull, edge gpio.Edge) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	switch pull {
	case gpio.PullUp:
		if err := g.p.PullUp(); err != nil {
			return err
		}
	case gpio.PullDown:
		if err := g.p.PullDown(); err != nil {
			return err
		}
	}
	if g.watching {
		g.p.StopWatching()
		g.watching = false
		g.edgeCB(g.p) // wake up anyone in WaitForEdge
	}
	if e, ok := embdEdges[edge]; ok {
		if err := g.p.Watch(e, g.edgeCB); err != nil {
			return err
		}
		g.watching = true
	}
	return nil
}

func (g *embdPin) Read() gpio.Level {
	v, _ := g.p.Read()
	return v == embd.High
}

func (g *embdPin) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *embdPin) Out(l gpio.Level) error {
	if g.dir != embd.Out {
		if err := g.p.SetDirection(embd.Out); err != nil {
			return err
		}
		g.dir = embd.Out
	}
	if l {
		return g.p.Write(embd.High)
	}
	return g.p.Write(embd.Low)
}

func (g *embdPin) Number() int {
	return g.p.N()
}

func (g *embdPin) edgeCB(embd.DigitalPin) {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}
