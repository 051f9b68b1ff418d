package bus

import "context"

// ConfigPublisher adapts a Bus to the narrow Publisher shape the config
// controller depends on, so the controller never imports this package.
type ConfigPublisher struct {
	Bus Bus
	Ctx context.Context
}

// Publish satisfies config.Publisher. Retained publishes use QoS 2 to
// match the provideLidarConfig contract; everything else uses QoS 0.
func (a ConfigPublisher) Publish(topic string, payload []byte, retained bool) error {
	qos := QoSAtMostOnce
	if retained {
		qos = QoSExactlyOnce
	}
	ctx := a.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return a.Bus.Publish(ctx, Message{Topic: topic, Payload: payload, Retained: retained, QoS: qos})
}
