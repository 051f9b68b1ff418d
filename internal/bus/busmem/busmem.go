// Package busmem is an in-process bus.Bus implementation used for tests
// and for wiring the pipeline without a live broker. It mirrors the
// teacher's broadcast-loop publisher: a bounded channel feeding a single
// dispatch goroutine, with slow or absent consumers simply dropping
// messages rather than blocking the publisher.
package busmem

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/lidar2d-fusion/internal/bus"
	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
	"github.com/banshee-data/lidar2d-fusion/internal/taskctx"
)

type subscription struct {
	filter string
	qos    bus.QoS
	handle bus.Handler
}

// Bus is a single-process pub/sub hub satisfying bus.Bus.
type Bus struct {
	mu       sync.RWMutex
	subs     []*subscription
	retained map[string]bus.Message

	publishCh chan bus.Message
	dropped   atomic.Uint64
}

// New creates a Bus whose internal dispatch channel holds up to
// bufferSize messages before publishers start dropping.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		retained:  make(map[string]bus.Message),
		publishCh: make(chan bus.Message, bufferSize),
	}
}

// Publish enqueues msg for dispatch. Retained messages are recorded
// immediately so subscriptions registered afterwards still observe the
// latest value, matching provideLidarConfig's retained semantics.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	if msg.Retained {
		b.mu.Lock()
		b.retained[msg.Topic] = msg
		b.mu.Unlock()
	}

	select {
	case b.publishCh <- msg:
	default:
		dropped := b.dropped.Add(1)
		monitoring.Logf("busmem: dispatch channel full, dropped message on %s (total dropped: %d)", msg.Topic, dropped)
	}
	return nil
}

// Subscribe registers h for every future message whose topic matches
// topicFilter (MQTT-style single-level "+" and trailing multi-level "#"
// wildcards supported). Any already-retained message matching the filter
// is delivered immediately.
func (b *Bus) Subscribe(ctx context.Context, topicFilter string, qos bus.QoS, h bus.Handler) error {
	sub := &subscription{filter: topicFilter, qos: qos, handle: h}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	var matched []bus.Message
	for topic, msg := range b.retained {
		if matchTopic(topicFilter, topic) {
			matched = append(matched, msg)
		}
	}
	b.mu.Unlock()

	for _, msg := range matched {
		h(msg)
	}
	return nil
}

// Run dispatches published messages to matching subscribers until ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-b.publishCh:
			b.dispatch(msg)
		case <-ctx.Done():
			return taskctx.FromContext(ctx)
		}
	}
}

func (b *Bus) dispatch(msg bus.Message) {
	b.mu.RLock()
	var handlers []bus.Handler
	for _, sub := range b.subs {
		if matchTopic(sub.filter, msg.Topic) {
			handlers = append(handlers, sub.handle)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Dropped reports how many published messages were discarded because the
// dispatch channel was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func matchTopic(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if fp != "+" && fp != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
