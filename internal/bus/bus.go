// Package bus defines the transport-agnostic publish/subscribe contract
// the pipeline and configuration controller talk to. Concrete adapters
// live in mqttbus (production) and busmem (tests, in-process wiring).
package bus

import "context"

// QoS mirrors the MQTT quality-of-service levels the adapter maps onto;
// in-process adapters may treat every level as at-most-once.
type QoS int

const (
	QoSAtMostOnce QoS = iota
	QoSAtLeastOnce
	QoSExactlyOnce
)

// Message is the envelope carried across the bus boundary in both
// directions.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	QoS      QoS
}

// Handler processes one inbound message. Handlers must not block for
// long; the in-process bus delivers every subscription's messages from
// a single dispatch goroutine.
type Handler func(Message)

// Bus is the capability the pipeline needs from the message transport:
// publish outbound payloads and subscribe to inbound topic templates.
// Topic templates use the device-serial wildcard conventions of the
// caller (e.g. "+/scans" for MQTT); adapters are responsible for
// resolving the concrete device serial and handing it to the handler
// via the topic on the delivered Message.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topicFilter string, qos QoS, h Handler) error
	// Run blocks, maintaining the connection (reconnecting with backoff
	// for networked adapters) until ctx is cancelled.
	Run(ctx context.Context) error
}
