// Package mqtttest provides an in-memory paho client for tests.
package mqtttest

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one publish seen by the fake client.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Client records publishes and lets tests deliver messages to subscriptions.
// Methods it does not implement panic through the embedded nil interface.
type Client struct {
	mqtt.Client

	mu            sync.Mutex
	connected     bool
	published     []Message
	subscriptions map[string]mqtt.MessageHandler
	disconnects   int

	// PublishErr, when set, fails every publish.
	PublishErr error
}

func NewClient() *Client {
	return &Client{
		connected:     true,
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &token{}
}

func (c *Client) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = append([]byte(nil), p...)
	case bytes.Buffer:
		data = p.Bytes()
	case *bytes.Buffer:
		data = p.Bytes()
	default:
		return &token{err: fmt.Errorf("unknown payload type %T", payload)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return &token{err: c.PublishErr}
	}
	c.published = append(c.published, Message{Topic: topic, Payload: data, QoS: qos, Retained: retained})
	return &token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = callback
	return &token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	return &token{}
}

// Deliver calls every subscription whose filter matches topic, the way the
// broker would.
func (c *Client) Deliver(topic string, payload string) int {
	c.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, handler := range c.subscriptions {
		if Match(filter, topic) {
			handlers = append(handlers, handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(c, &message{topic: topic, payload: []byte(payload)})
	}
	return len(handlers)
}

// Published returns all publishes in order.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// On returns the publishes to topic in order.
func (c *Client) On(topic string) []Message {
	var messages []Message
	for _, m := range c.Published() {
		if m.Topic == topic {
			messages = append(messages, m)
		}
	}
	return messages
}

// Last returns the most recent publish to topic.
func (c *Client) Last(topic string) (Message, bool) {
	messages := c.On(topic)
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[len(messages)-1], true
}

func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = nil
}

// Match reports whether topic matches the subscription filter, honouring the
// + and # wildcards.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

type token struct {
	err error
}

func (t *token) Wait() bool                       { return true }
func (t *token) WaitTimeout(_ time.Duration) bool { return true }
func (t *token) Error() error                     { return t.err }

func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
