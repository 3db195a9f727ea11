// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

// lora-node brings up one sx127x radio and either transmits numbered test packets or prints
// the packets it receives.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tve/loradev/lora"
	"github.com/tve/loradev/spibus"
	"github.com/tve/loradev/sx127x"
)

var log = logrus.New()

func main() {
	hw := flag.String("hw", "periph", "hardware access library: periph or embd")
	spiName := flag.String("spi", "", "SPI port (periph) or channel (embd)")
	intr := flag.String("intr", "GPIO25", "interrupt pin name (DIO0)")
	reset := flag.String("reset", "", "reset pin name")
	freq := flag.Int("freq", 915, "frequency in MHz")
	bw := flag.Int("bw", 125000, "bandwidth in Hz")
	sf := flag.Int("sf", 8, "spreading factor 6..12")
	cr := flag.Int("cr", 5, "coding rate 5..8 (4/x)")
	power := flag.Int("power", 2, "output power in dBm")
	boost := flag.Bool("boost", false, "use the PA_BOOST output")
	syncStr := flag.String("sync", "0x12", "sync word")
	crc := flag.Bool("crc", false, "enable payload CRC")
	count := flag.Int("count", 10, "number of packets to transmit")
	interval := flag.Duration("interval", time.Second, "time between transmitted packets")
	realtime := flag.Bool("realtime", false, "run the receive worker with realtime priority")
	debug := flag.Bool("debug", false, "enable debug output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] tx|rx\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "Valid frequencies:")
		for f := range sx127x.Frequencies {
			fmt.Fprintf(os.Stderr, " %d", f)
		}
		fmt.Fprintf(os.Stderr, "\nValid bandwidths:")
		for _, b := range sx127x.Bandwidths {
			fmt.Fprintf(os.Stderr, " %d", b)
		}
		fmt.Fprint(os.Stderr, "\n")
		os.Exit(1)
	}
	flag.Parse()
	mode := flag.Arg(0)
	if mode != "tx" && mode != "rx" {
		flag.Usage()
	}

	log.Formatter = new(logrus.TextFormatter)
	log.Level = logrus.InfoLevel
	if *debug {
		log.Level = logrus.DebugLevel
	}

	sy, err := strconv.ParseUint(*syncStr, 0, 8)
	if err != nil {
		log.Fatalf("cannot parse sync byte %s: %s", *syncStr, err)
	}
	cfg := sx127x.Config{
		Frequency:       *freq,
		TxPower:         *power,
		PABoost:         *boost,
		Bandwidth:       *bw,
		SpreadingFactor: *sf,
		CodingRate:      *cr,
		PreambleLength:  8,
		SyncWord:        byte(sy),
		EnableCRC:       *crc,
	}

	pins := spibus.Pins{SPI: *spiName, Intr: *intr, Reset: *reset}
	busOpts := spibus.Opts{Logger: log.Debugf}
	var bus *spibus.Bus
	switch *hw {
	case "periph":
		bus, err = spibus.OpenPeriph(pins, busOpts)
	case "embd":
		bus, err = spibus.OpenEmbd(pins, busOpts)
	default:
		err = fmt.Errorf("unknown hardware library %q", *hw)
	}
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	log.Infof("Initializing LoRa radio...")
	t0 := time.Now()
	node := lora.New(bus, lora.Options{
		Config: cfg,
		OnPacket: func(p *lora.Packet) {
			log.Infof("Got len=%d snr=%.1fdB rssi=%ddBm %q", len(p.Payload), p.Snr, p.Rssi, p.Payload)
		},
		Logger:   log.Debugf,
		Realtime: *realtime,
	})
	if err := node.Start(); err != nil {
		bus.Close()
		log.Fatal(err)
	}
	defer node.Close()
	log.Infof("Ready (%.1fms)", time.Since(t0).Seconds()*1000)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if mode == "rx" {
		log.Infof("Receiving packets ...")
		<-sig
		log.Infof("Bye...")
		return
	}

	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for i := 1; i <= *count; i++ {
		msg := fmt.Sprintf("\x01Hello %03d", i)
		if err := node.Send([]byte(msg)); err != nil {
			log.Errorf("Send %d: %s", i, err)
		} else {
			log.Infof("Queued packet %d, %d pending", i, node.TxPending())
		}
		select {
		case <-tick.C:
		case <-sig:
			log.Infof("Interrupted")
			return
		}
	}
	log.Infof("Bye...")
}
