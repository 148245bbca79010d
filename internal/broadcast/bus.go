// Package broadcast implements the Event Broadcaster (C8): an
// in-process topic bus that fans events out to subscriber channels,
// with an optional NATS-backed Publisher forwarding the same events
// externally. Grounded on the teacher's internal/gateway WSClient
// (per-client buffered Send channel, Done channel for teardown) for
// the "never let a slow consumer stall the publisher" shape.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kmrl/induction/shared/events"
)

const subscriberBufferSize = 64

// Subscription is a live feed of events for one topic (or every topic,
// when Topic is empty).
type Subscription struct {
	ID     uint64
	Topic  string
	Events chan events.Event
	Done   chan struct{}
}

// Bus is the in-process event broadcaster. It always implements
// events.Publisher so callers don't need to special-case "no external
// transport configured".
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	external events.Publisher // optional NATS forwarding, nil if unset
	log      *zap.Logger
}

// New builds a Bus. external may be nil; when set (typically a
// *messaging.Client), every published event is also forwarded to it.
func New(external events.Publisher, log *zap.Logger) *Bus {
	return &Bus{subs: make(map[uint64]*Subscription), external: external, log: log}
}

// Publish implements events.Publisher. It fans the event out to every
// matching subscriber without blocking: a subscriber whose buffer is
// full has the event dropped for it rather than stalling the
// publisher, and a warning is logged.
func (b *Bus) Publish(topic string, evt events.Event) error {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.Topic == "" || s.Topic == topic {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.Events <- evt:
		default:
			if b.log != nil {
				b.log.Warn("dropping event for slow subscriber", zap.String("topic", topic), zap.Uint64("subscriber", s.ID))
			}
		}
	}

	if b.external != nil {
		if err := b.external.Publish(topic, evt); err != nil && b.log != nil {
			b.log.Warn("external publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}

	return nil
}

// Subscribe registers a new subscription. topic == "" subscribes to
// every topic, matching SubscribeEvents' "all events" mode.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		ID:     b.nextID,
		Topic:  topic,
		Events: make(chan events.Event, subscriberBufferSize),
		Done:   make(chan struct{}),
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its Done channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		close(sub.Done)
		delete(b.subs, id)
	}
}

// SubscriberCount reports the current number of live subscriptions,
// used by health checks and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
