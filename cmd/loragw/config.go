// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"io/ioutil"
	"strconv"

	"github.com/flynn/json5"
	"github.com/pkg/errors"
	"github.com/tve/loradev/sx127x"
)

// Config is the gateway's configuration file. JSON5 allows comments and trailing commas.
type Config struct {
	LogLevel string      `json:"log_level"` // logrus level name, default info
	Mqtt     MqttConfig  `json:"mqtt"`
	Radio    RadioConfig `json:"radio"`
}

// MqttConfig describes the connection to the MQTT broker.
type MqttConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	ClientID string `json:"client_id"` // default loragw-<hostname>
}

// RadioConfig describes the radio hardware and its settings.
type RadioConfig struct {
	Prefix    string `json:"prefix"`    // MQTT topic prefix, packets go to <prefix>/rx and come from <prefix>/tx
	Hardware  string `json:"hardware"`  // periph or embd
	SPI       string `json:"spi"`       // SPI port name
	Speed     int    `json:"speed"`     // SPI clock in Hz
	IntrPin   string `json:"intr_pin"`  // pin wired to DIO0
	ResetPin  string `json:"reset_pin"` // pin wired to the reset line
	Freq      int    `json:"freq"`      // MHz
	Bandwidth int    `json:"bw"`        // Hz
	SF        int    `json:"sf"`
	CR        int    `json:"cr"`
	Power     int    `json:"power"` // dBm
	PABoost   bool   `json:"pa_boost"`
	Sync      string `json:"sync"` // sync word, e.g. "0x12"
	CRC       bool   `json:"crc"`
	Preamble  int    `json:"preamble"`
	TxQueue   int    `json:"tx_queue"` // max queued packets, 0 is unbounded
	RxQueue   int    `json:"rx_queue"`
	Realtime  bool   `json:"realtime"`
}

// defaultConfig returns a config with everything but the pins filled in.
func defaultConfig() Config {
	d := sx127x.DefaultConfig()
	return Config{
		LogLevel: "info",
		Mqtt:     MqttConfig{Host: "localhost", Port: 1883},
		Radio: RadioConfig{
			Prefix:    "radio/lora",
			Hardware:  "periph",
			Freq:      d.Frequency,
			Bandwidth: d.Bandwidth,
			SF:        d.SpreadingFactor,
			CR:        d.CodingRate,
			Power:     d.TxPower,
			Sync:      "0x12",
			Preamble:  d.PreambleLength,
			TxQueue:   16,
			RxQueue:   16,
		},
	}
}

// loadConfig reads a JSON5 config file, missing fields keep their defaults.
func loadConfig(path string) (Config, error) {
	conf := defaultConfig()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return conf, errors.Wrap(err, "reading config")
	}
	if err := json5.Unmarshal(data, &conf); err != nil {
		return conf, errors.Wrapf(err, "parsing %s", path)
	}
	return conf, nil
}

// radioConfig converts the radio section into the driver's configuration.
func (r RadioConfig) radioConfig() (sx127x.Config, error) {
	sy, err := strconv.ParseUint(r.Sync, 0, 8)
	if err != nil {
		return sx127x.Config{}, errors.Errorf("cannot parse sync byte %s: %s", r.Sync, err)
	}
	if _, ok := sx127x.Frequencies[r.Freq]; !ok {
		return sx127x.Config{}, errors.Wrapf(sx127x.ErrInvalidFrequency, "%dMHz", r.Freq)
	}
	return sx127x.Config{
		Frequency:       r.Freq,
		TxPower:         r.Power,
		PABoost:         r.PABoost,
		Bandwidth:       r.Bandwidth,
		SpreadingFactor: r.SF,
		CodingRate:      r.CR,
		PreambleLength:  r.Preamble,
		SyncWord:        byte(sy),
		EnableCRC:       r.CRC,
	}, nil
}
