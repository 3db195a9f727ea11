// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

// loragw is a gateway between a LoRa radio and an MQTT broker: received packets are published
// as JSON to <prefix>/rx and packets published to <prefix>/tx are transmitted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/tve/loradev/lora"
	"github.com/tve/loradev/spibus"
)

var log = logrus.New()

// openBus opens the radio hardware.
func openBus(r RadioConfig) (*spibus.Bus, error) {
	pins := spibus.Pins{SPI: r.SPI, Speed: r.Speed, Intr: r.IntrPin, Reset: r.ResetPin}
	opts := spibus.Opts{Logger: log.Debugf}
	switch r.Hardware {
	case "periph", "":
		return spibus.OpenPeriph(pins, opts)
	case "embd":
		return spibus.OpenEmbd(pins, opts)
	}
	return nil, fmt.Errorf("unknown hardware library %q", r.Hardware)
}

// run starts the radio and hooks it up to MQTT. The returned function shuts everything down.
func run(conf Config) (func(), error) {
	cfg, err := conf.Radio.radioConfig()
	if err != nil {
		return nil, err
	}
	mq, err := newMQ(conf.Mqtt)
	if err != nil {
		return nil, err
	}
	bus, err := openBus(conf.Radio)
	if err != nil {
		mq.Close()
		return nil, err
	}

	gw := &gateway{prefix: conf.Radio.Prefix, pub: mq}
	node := lora.New(bus, lora.Options{
		Config:     cfg,
		TxQueueLen: conf.Radio.TxQueue,
		RxQueueLen: conf.Radio.RxQueue,
		OnPacket:   gw.onPacket,
		Logger:     log.Debugf,
		Realtime:   conf.Radio.Realtime,
	})
	gw.node = node

	log.Infof("Initializing LoRa radio for %s", conf.Radio.Prefix)
	if err := node.Start(); err != nil {
		bus.Close()
		mq.Close()
		return nil, err
	}
	if err := mq.Subscribe(conf.Radio.Prefix+"/tx", gw.onTx); err != nil {
		node.Close()
		bus.Close()
		mq.Close()
		return nil, err
	}
	return func() {
		mq.Close()
		if err := node.Close(); err != nil {
			log.Warnf("closing radio: %s", err)
		}
		bus.Close()
	}, nil
}

func main() {
	confFile := flag.String("config", "loragw.json5", "path to the JSON5 config file")
	debug := flag.Bool("debug", false, "enable debug output, overrides the config")
	flag.Parse()

	log.Formatter = new(logrus.TextFormatter)
	conf, err := loadConfig(*confFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad log_level: %s\n", err)
		os.Exit(1)
	}
	log.Level = level
	if *debug {
		log.Level = logrus.DebugLevel
	}

	stop, err := run(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Exiting due to error: %s\n", err)
		os.Exit(2)
	}
	log.Infof("Gateway is ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Infof("Shutting down")
	stop()
}
