package mqttx

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"riverpulse/shared/config"
)

// EventKind tags the variants delivered on a client's event channel.
type EventKind int

const (
	EventConnected EventKind = iota
	EventMessage
	EventDisconnected
)

// Event is one occurrence on the local bus: a (re)connect, an inbound
// message, or a connection loss. Exactly the fields for the tagged kind
// are populated.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	QoS     byte
	Err     error
}

// Client wraps a paho connection and surfaces bus activity on a channel
// so a single consumer loop can own all state. Automatic reconnect is
// disabled: the consumer decides when and how to reconnect.
type Client struct {
	client mqtt.Client
	events chan Event
	qos    byte
}

func NewClient(cfg config.Config) *Client {
	c := &Client{
		events: make(chan Event, 256),
		qos:    byte(cfg.MQTTQoS),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBrokerURL)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.emit(Event{Kind: EventConnected})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.emit(Event{Kind: EventDisconnected, Err: err})
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Events returns the channel bus activity is delivered on. The channel
// is buffered; if the consumer falls behind, messages are dropped rather
// than blocking the paho network loop.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Connect(timeout time.Duration) error {
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(filter string, timeout time.Duration) error {
	token := c.client.Subscribe(filter, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.emit(Event{
			Kind:    EventMessage,
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
			QoS:     msg.Qos(),
		})
	})
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt subscribe %s timed out", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	return nil
}

func (c *Client) Publish(topic string, payload []byte, timeout time.Duration) error {
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
