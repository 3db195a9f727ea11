// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"encoding/json"
	"time"

	"github.com/tve/loradev/lora"
)

// RxPacket is the structure published to MQTT for packets received on the radio.
type RxPacket struct {
	Packet []byte    `json:"packet"` // payload, base64 encoded in JSON
	Rssi   int       `json:"rssi"`   // RSSI in dBm
	Snr    float64   `json:"snr"`    // signal to noise in dB
	At     time.Time `json:"at"`     // time of recv interrupt
}

// TxPacket is the payload expected via MQTT for packets to be transmitted on the radio.
// It is a struct for symmetry with RxPacket and to allow more fields to be added in the
// future as needed.
type TxPacket struct {
	Packet []byte `json:"packet"`
}

// publisher is the part of mq the gateway uses to send packets on their way.
type publisher interface {
	Publish(topic string, payload interface{}) error
}

// sender is the part of lora.Node the gateway uses to transmit.
type sender interface {
	Send(pkt []byte) error
}

// gateway shuffles packets between the radio and MQTT.
type gateway struct {
	prefix string
	pub    publisher
	node   sender
}

// onPacket publishes a received packet to <prefix>/rx. It runs on the node's worker.
func (gw *gateway) onPacket(p *lora.Packet) {
	log.Debugf("%s: RX %ddBm %.1fdB %db: %#x", gw.prefix, p.Rssi, p.Snr, len(p.Payload), p.Payload)
	rx := &RxPacket{Packet: p.Payload, Rssi: p.Rssi, Snr: p.Snr, At: p.At}
	if err := gw.pub.Publish(gw.prefix+"/rx", rx); err != nil {
		log.Errorf("%s: cannot publish packet: %s", gw.prefix, err)
	}
}

// onTx queues a packet arriving on <prefix>/tx for transmission.
func (gw *gateway) onTx(payload []byte) {
	var tx TxPacket
	if err := json.Unmarshal(payload, &tx); err != nil {
		log.Errorf("%s: cannot json decode tx payload: %s", gw.prefix, err)
		return
	}
	log.Debugf("%s: TX %db: %#x", gw.prefix, len(tx.Packet), tx.Packet)
	if err := gw.node.Send(tx.Packet); err != nil {
		log.Errorf("%s: cannot transmit: %s", gw.prefix, err)
	}
}
