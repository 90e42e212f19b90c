package ingest

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is the subset of paho client operations the bridge uses.
// Tests substitute their own implementation.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

type defaultClient struct {
	client mqtt.Client
}

func (d *defaultClient) Connect() mqtt.Token {
	return d.client.Connect()
}

func (d *defaultClient) Disconnect(quiesce uint) {
	d.client.Disconnect(quiesce)
}

func (d *defaultClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return d.client.Subscribe(topic, qos, callback)
}

func (d *defaultClient) IsConnected() bool {
	return d.client.IsConnected()
}
