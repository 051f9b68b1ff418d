// Package mqttbus adapts the Eclipse Paho MQTT client to bus.Bus. It
// matches the "Tether"-style interface the original pipeline was built
// against: topic/retained/QoS semantics, automatic reconnect with
// exponential backoff, and graceful disconnect on cancellation.
package mqttbus

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/lidar2d-fusion/internal/bus"
	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
	"github.com/banshee-data/lidar2d-fusion/internal/taskctx"
)

// Config holds the connection parameters for the broker.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string // empty generates a random id via google/uuid
	Username string
	Password string

	ConnectTimeout    time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultConfig returns connection parameters matching the CLI flag
// defaults.
func DefaultConfig(broker string) Config {
	return Config{
		Broker:            broker,
		ConnectTimeout:    10 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Client is a bus.Bus backed by a live MQTT connection.
type Client struct {
	cfg    Config
	client mqtt.Client

	pending []pendingSubscription
}

type pendingSubscription struct {
	filter string
	qos    byte
	handle bus.Handler
}

// New builds a disconnected Client. Call Run to connect and block until
// ctx is cancelled.
func New(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "lidar2d-fusion-" + uuid.NewString()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) opts() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.MaxReconnectDelay)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqttbus: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		monitoring.Logf("mqttbus: connected to %s", c.cfg.Broker)
		for _, sub := range c.pending {
			sub := sub
			token := client.Subscribe(sub.filter, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
				sub.handle(bus.Message{
					Topic:    msg.Topic(),
					Payload:  msg.Payload(),
					Retained: msg.Retained(),
					QoS:      bus.QoS(msg.Qos()),
				})
			})
			if token.Wait() && token.Error() != nil {
				monitoring.Logf("mqttbus: re-subscribe to %s failed: %v", sub.filter, token.Error())
			}
		}
	})
	return opts
}

// Publish publishes msg, blocking until the broker acknowledges or the
// configured ConnectTimeout elapses.
func (c *Client) Publish(ctx context.Context, msg bus.Message) error {
	if c.client == nil || !c.client.IsConnected() {
		return fmt.Errorf("mqttbus: not connected")
	}
	token := c.client.Publish(msg.Topic, byte(msg.QoS), msg.Retained, msg.Payload)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqttbus: publish to %s timed out", msg.Topic)
	}
	return token.Error()
}

// Subscribe registers h for topicFilter. If the client is not yet
// connected the subscription is recorded and applied once Run
// establishes (or re-establishes) a connection.
func (c *Client) Subscribe(ctx context.Context, topicFilter string, qos bus.QoS, h bus.Handler) error {
	sub := pendingSubscription{filter: topicFilter, qos: byte(qos), handle: h}
	c.pending = append(c.pending, sub)

	if c.client == nil || !c.client.IsConnected() {
		return nil
	}
	token := c.client.Subscribe(topicFilter, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h(bus.Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			Retained: msg.Retained(),
			QoS:      bus.QoS(msg.Qos()),
		})
	})
	token.Wait()
	return token.Error()
}

// Run connects to the broker and blocks until ctx is cancelled, at which
// point it disconnects cleanly. Reconnection after an unexpected drop is
// handled internally by the client's auto-reconnect.
func (c *Client) Run(ctx context.Context) error {
	c.client = mqtt.NewClient(c.opts())
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqttbus: connect to %s timed out", c.cfg.Broker)
	}
	if token.Error() != nil {
		return fmt.Errorf("mqttbus: connect to %s failed: %w", c.cfg.Broker, token.Error())
	}

	<-ctx.Done()
	c.client.Disconnect(250)
	return taskctx.FromContext(ctx)
}
