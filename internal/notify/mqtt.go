package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 10 * time.Second

// MQTTBridge republishes every coordinator event onto an external broker so
// that out-of-process consumers (mobile push gateways, monitoring) can follow
// the dispatch stream. Topic layout: <prefix>/responders and
// <prefix>/user/<id>.
type MQTTBridge struct {
	client mqtt.Client
	prefix string
}

func NewMQTTBridge(brokerURL, clientID, prefix string) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}

	return &MQTTBridge{client: client, prefix: prefix}, nil
}

func (b *MQTTBridge) Publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := b.prefix + "/" + strings.ReplaceAll(e.Topic, ":", "/")
	token := b.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
