// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package lora turns an sx127x radio into a packet node: Send queues packets for transmission
// one at a time, received packets with a valid CRC are queued and handed to a callback by a
// worker goroutine, away from the interrupt handler.
package lora

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tve/loradev/sx127x"
	"github.com/tve/loradev/thread"
)

// MaxPacketLength is the largest payload that fits into the radio's FIFO.
const MaxPacketLength = 255

var (
	// ErrPacketTooLarge is returned by Send for payloads over MaxPacketLength bytes.
	ErrPacketTooLarge = errors.New("lora: packet too large")
	// ErrClosed is returned when using a node after Close.
	ErrClosed = errors.New("lora: node closed")
)

// LogPrintf is a function used to print logging info.
type LogPrintf func(format string, v ...interface{})

// Packet is a received packet.
type Packet struct {
	Payload []byte
	Rssi    int       // signal strength in dBm
	Snr     float64   // signal to noise ratio in dB
	At      time.Time // time of reception
}

// Options contains options used when creating a Node.
type Options struct {
	Config      sx127x.Config // radio configuration, zero value means sx127x.DefaultConfig
	WantVersion byte          // expected chip version, default 0x12
	TxQueueLen  int           // max packets waiting for transmission, 0 is unbounded
	RxQueueLen  int           // max packets waiting for the worker, 0 is unbounded
	OnPacket    func(*Packet) // called by the worker for each packet, default logs it
	Logger      LogPrintf     // function to use for logging
	Realtime    bool          // run the worker with realtime priority
	StackSize   int           // stack size hint for the worker
}

// Node is a LoRa radio with transmit and receive queues.
type Node struct {
	radio  *sx127x.Radio
	opts   Options
	log    LogPrintf
	txq    *thread.Queue[[]byte]  // head is the packet being transmitted
	rxq    *thread.Queue[*Packet] // nil is the shutdown sentinel
	worker *thread.Thread

	mu     sync.Mutex
	closed bool
}

// New creates a node for the radio on bus. Nothing happens until Start.
func New(bus sx127x.Bus, opts Options) *Node {
	if opts.Config == (sx127x.Config{}) {
		opts.Config = sx127x.DefaultConfig()
	}
	if opts.WantVersion == 0 {
		opts.WantVersion = 0x12
	}
	n := &Node{
		opts: opts,
		log:  func(format string, v ...interface{}) {},
		txq:  thread.NewQueue[[]byte](opts.TxQueueLen),
		rxq:  thread.NewQueue[*Packet](opts.RxQueueLen),
	}
	if opts.Logger != nil {
		n.log = func(format string, v ...interface{}) {
			opts.Logger("lora: "+format, v...)
		}
	}
	n.radio = sx127x.New(bus, n, sx127x.RadioOpts{Config: opts.Config, Logger: sx127x.LogPrintf(opts.Logger)})
	topts := []thread.Option{thread.WithLogger(n.log), thread.WithStack(opts.StackSize)}
	if opts.Realtime {
		topts = append(topts, thread.WithRealtime())
	}
	n.worker = thread.New("lora-rx", n.work, topts...)
	return n
}

// Radio returns the underlying radio, for example to change its configuration.
func (n *Node) Radio() *sx127x.Radio { return n.radio }

// Start initializes the radio into continuous receive mode and starts the worker.
func (n *Node) Start() error {
	if n.isClosed() {
		return ErrClosed
	}
	if err := n.radio.Init(n.opts.WantVersion, true); err != nil {
		return err
	}
	n.worker.Start()
	return nil
}

// Send queues pkt for transmission. If nothing is being transmitted the transmission starts
// right away, else the packet goes out after the ones queued before it. Once the radio has
// failed Send returns its error and queues nothing.
func (n *Node) Send(pkt []byte) error {
	if len(pkt) > MaxPacketLength {
		return errors.Wrapf(ErrPacketTooLarge, "%d bytes", len(pkt))
	}
	if n.isClosed() {
		return ErrClosed
	}
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	// Queueing and starting the transmission must be atomic with respect to the TX
	// interrupt, which takes the next packet off the queue.
	return n.radio.WithLock(func() error {
		if err := n.radio.Error(); err != nil {
			return err
		}
		if err := n.txq.Put(buf); err != nil {
			return err
		}
		if n.txq.Len() == 1 {
			if _, err := n.radio.TransmitPacket(buf, false); err != nil {
				n.txq.TryGet() // nothing went out, don't leave it blocking the queue
				return err
			}
		}
		return nil
	})
}

// TxPending returns the number of packets queued for transmission, including the one on air.
func (n *Node) TxPending() int { return n.txq.Len() }

// OnReceive queues packets with a valid CRC for the worker. It is called by the radio's RX
// interrupt handler.
func (n *Node) OnReceive(payload []byte, crcOK bool, rssi int) {
	if !crcOK {
		n.log("dropping packet with CRC error, rssi %ddBm", rssi)
		return
	}
	p := &Packet{Payload: payload, Rssi: rssi, Snr: n.radio.PacketSNR(), At: time.Now()}
	if err := n.rxq.Put(p); err != nil {
		n.log("dropping packet: %s", err)
	}
}

// OnTransmit drops the packet that was just sent and returns the next one, if any. It is
// called by the radio's TX interrupt handler.
func (n *Node) OnTransmit() []byte {
	n.txq.TryGet()
	next, _ := n.txq.Head()
	return next
}

// work is the worker's body: it hands received packets to OnPacket until stopped.
func (n *Node) work(ctx context.Context, t *thread.Thread) int {
	n.log("%s started", t)
	for t.Running() {
		p, err := n.rxq.Get(ctx)
		if err != nil || p == nil {
			break
		}
		if n.opts.OnPacket != nil {
			n.opts.OnPacket(p)
		} else {
			n.log("RX rssi=%ddBm snr=%.1fdB len=%d: %q", p.Rssi, p.Snr, len(p.Payload), p.Payload)
		}
	}
	n.log("%s exiting", t)
	return 0
}

// Close shuts the radio's interrupts off and stops the worker. Packets still queued are
// dropped.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.closed = true
	n.mu.Unlock()

	err := n.radio.Close()
	n.worker.Stop()
	if perr := n.rxq.Put(nil); perr != nil {
		// A full queue: the cancelled context still gets the worker out.
		n.log("cannot queue shutdown sentinel: %s", perr)
	}
	n.worker.Wait(true)
	return err
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
