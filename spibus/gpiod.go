// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package spibus

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/gpiod"
	"periph.io/x/periph/conn/gpio"
)

// pin is what a radio needs from a GPIO pin, either as interrupt or as reset.
type pin interface {
	IntrPin
	ResetPin
}

// gpiodName splits a "gpiochip0:25" style pin name into chip and line offset.
func gpiodName(name string) (string, int, bool) {
	i := strings.LastIndexByte(name, ':')
	if i <= 0 || !strings.HasPrefix(name, "gpiochip") {
		return "", 0, false
	}
	offset, err := strconv.Atoi(name[i+1:])
	if err != nil || offset < 0 {
		return "", 0, false
	}
	return name[:i], offset, true
}

// openPins opens the interrupt and reset pins. Names of the form gpiochipN:offset go
// through the GPIO character device, others are looked up using the hardware library.
func openPins(pins Pins, lookup func(name string) (pin, error)) (IntrPin, ResetPin, error) {
	open := func(name string) (pin, error) {
		if chip, offset, ok := gpiodName(name); ok {
			return &gpiodPin{chip: chip, offset: offset, edges: make(chan struct{}, 1)}, nil
		}
		return lookup(name)
	}
	intr, err := open(pins.Intr)
	if err != nil {
		return nil, nil, err
	}
	if pins.Reset == "" {
		return intr, nil, nil
	}
	reset, err := open(pins.Reset)
	if err != nil {
		return nil, nil, err
	}
	return intr, reset, nil
}

// gpiodPin is a GPIO line accessed through the character device. The line is requested
// anew each time its configuration changes.
type gpiodPin struct {
	chip   string
	offset int
	mu     sync.Mutex
	line   *gpiod.Line
	edges  chan struct{}
}

func (p *gpiodPin) request(opts ...gpiod.LineReqOption) error {
	if p.line != nil {
		p.line.Close()
		p.line = nil
	}
	l, err := gpiod.RequestLine(p.chip, p.offset, opts...)
	if err != nil {
		return errors.Wrapf(err, "gpiod %s:%d", p.chip, p.offset)
	}
	p.line = l
	return nil
}

func (p *gpiodPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts := []gpiod.LineReqOption{gpiod.AsInput}
	switch pull {
	case gpio.PullUp:
		opts = append(opts, gpiod.WithPullUp)
	case gpio.PullDown:
		opts = append(opts, gpiod.WithPullDown)
	}
	switch edge {
	case gpio.RisingEdge:
		opts = append(opts, gpiod.WithRisingEdge, gpiod.WithEventHandler(p.event))
	case gpio.FallingEdge:
		opts = append(opts, gpiod.WithFallingEdge, gpiod.WithEventHandler(p.event))
	case gpio.BothEdges:
		opts = append(opts, gpiod.WithBothEdges, gpiod.WithEventHandler(p.event))
	default:
		p.event(gpiod.LineEvent{}) // wake up anyone in WaitForEdge
	}
	return p.request(opts...)
}

func (p *gpiodPin) event(gpiod.LineEvent) {
	select {
	case p.edges <- struct{}{}:
	default:
	}
}

func (p *gpiodPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return gpio.Low
	}
	v, _ := p.line.Value()
	return v != 0
}

func (p *gpiodPin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *gpiodPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := 0
	if l {
		v = 1
	}
	if p.line == nil {
		return p.request(gpiod.AsOutput(v))
	}
	if err := p.line.SetValue(v); err != nil {
		// Probably still configured as input.
		return p.request(gpiod.AsOutput(v))
	}
	return nil
}
