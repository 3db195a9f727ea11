// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// mq is a handle onto a MQTT broker connection.
type mq struct {
	conn mqtt.Client             // broker connection
	mu   sync.Mutex              // protects subs
	subs map[string]func([]byte) // subscriptions, renewed after a reconnect
}

// newMQ connects to a broker and returns a new mq object. The connection is persistent, i.e.,
// re-establishes itself if there is a disconnect. Subscriptions also get renewed after a reconnect.
func newMQ(conf MqttConfig) (*mq, error) {
	id := conf.ClientID
	if id == "" {
		hostname, _ := os.Hostname()
		id = "loragw-" + hostname
	}
	log.Debugf("Configuring MQTT with client id %s: %s:%d", id, conf.Host, conf.Port)
	mqtt.ERROR = log
	mq := &mq{subs: make(map[string]func([]byte))}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port)).
		SetClientID(id).
		SetUsername(conf.User).
		SetPassword(conf.Password).
		SetAutoReconnect(true).
		SetOnConnectHandler(mq.onConnect).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Warnf("MQTT connection lost: %s", err)
		})

	mq.conn = mqtt.NewClient(opts)
	token := mq.conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("timeout connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connecting to MQTT broker")
	}
	log.Infof("MQTT connected")
	return mq, nil
}

// onConnect renews all subscriptions.
func (mq *mq) onConnect(c mqtt.Client) {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	for topic, fn := range mq.subs {
		mq.subscribe(topic, fn)
	}
}

// Publish publishes payload JSON encoded.
func (mq *mq) Publish(topic string, payload interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	mq.conn.Publish(topic, 1, false, jsonPayload)
	return nil
}

// Subscribe subscribes to an MQTT topic, fn gets the raw message payload.
func (mq *mq) Subscribe(topic string, fn func([]byte)) error {
	mq.mu.Lock()
	mq.subs[topic] = fn
	mq.mu.Unlock()
	token := mq.subscribe(topic, fn)
	if !token.WaitTimeout(2 * time.Second) {
		return errors.Errorf("timeout subscribing to %s", topic)
	}
	return token.Error()
}

func (mq *mq) subscribe(topic string, fn func([]byte)) mqtt.Token {
	return mq.conn.Subscribe(topic, 1, func(c mqtt.Client, m mqtt.Message) {
		fn(m.Payload())
	})
}

// Close disconnects from the broker.
func (mq *mq) Close() {
	mq.conn.Disconnect(250)
}
