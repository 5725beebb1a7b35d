package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/opencode-nexus/nexus/internal/logging"
)

const (
	// SubscriberBuffer bounds each subscriber queue. When a queue is full
	// the oldest undelivered event for that subscriber is dropped.
	SubscriberBuffer = 64

	// SinkTopic is the watermill topic carrying serialized events to
	// external sinks (the UI bridge).
	SinkTopic = "nexus.events"

	// MetaCategory is the watermill metadata key holding the category.
	MetaCategory = "category"
)

// Subscription is an independent receive queue over bus events. It observes
// every matching event emitted after it was created; there is no replay.
type Subscription struct {
	id       string
	category Category // empty matches all categories

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Category returns the category filter, or empty for all-event subscriptions.
func (s *Subscription) Category() Category {
	return s.category
}

// Close stops delivery and closes the channel. Removal from the bus happens
// on the next CleanupSubscribers pass.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver performs a non-blocking handoff, dropping this subscriber's
// oldest undelivered event when the queue is full. Never blocks the emitter
// and never affects other subscribers.
func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- e:
	default:
	}
}

// Bus fans out every emitted event to all general subscribers, all
// category-matching subscribers, and the watermill sink topic.
type Bus struct {
	mu         sync.RWMutex
	global     []*Subscription
	byCategory map[Category][]*Subscription
	closed     bool

	pubsub *gochannel.GoChannel
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		byCategory: make(map[Category][]*Subscription),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 256,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Subscribe returns a queue observing every event emitted from now on.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Event, SubscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.Close()
		return sub
	}
	b.global = append(b.global, sub)
	return sub
}

// SubscribeCategory returns a queue observing only events of one category.
func (b *Bus) SubscribeCategory(category Category) *Subscription {
	sub := &Subscription{
		id:       uuid.NewString(),
		category: category,
		ch:       make(chan Event, SubscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.Close()
		return sub
	}
	b.byCategory[category] = append(b.byCategory[category], sub)
	return sub
}

// Emit delivers an event to all general subscribers, all subscribers of the
// event's category, and the sink topic. Delivery never blocks.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.global)+len(b.byCategory[e.Category]))
	subs = append(subs, b.global...)
	subs = append(subs, b.byCategory[e.Category]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(e)
	}

	b.publishSink(e)
}

// publishSink forwards the event to the watermill topic for external
// consumers. Failures are logged, never propagated to the emitter.
func (b *Bus) publishSink(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warn().Err(err).Str("category", string(e.Category)).Msg("event sink marshal failed")
		return
	}
	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set(MetaCategory, string(e.Category))
	if err := b.pubsub.Publish(SinkTopic, msg); err != nil {
		logging.Warn().Err(err).Msg("event sink publish failed")
	}
}

// Sink returns a watermill subscription over the serialized event feed.
// Used by the UI bridge; messages must be Acked by the consumer.
func (b *Bus) Sink(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, SinkTopic)
}

// CleanupSubscribers removes subscriptions that have been closed. Must be
// called periodically; abandonment is not detected automatically.
func (b *Bus) CleanupSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	b.global, removed = compactOpen(b.global, removed)
	for cat, subs := range b.byCategory {
		kept, r := compactOpen(subs, 0)
		removed += r
		if len(kept) == 0 {
			delete(b.byCategory, cat)
		} else {
			b.byCategory[cat] = kept
		}
	}
	return removed
}

func compactOpen(subs []*Subscription, removed int) ([]*Subscription, int) {
	kept := subs[:0]
	for _, sub := range subs {
		sub.mu.Lock()
		closed := sub.closed
		sub.mu.Unlock()
		if closed {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	return kept, removed
}

// SubscriberCount returns the number of registered subscriptions, open or
// not yet cleaned up.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.global)
	for _, subs := range b.byCategory {
		n += len(subs)
	}
	return n
}

// Close shuts the bus down. Open subscriptions are closed and further
// emissions are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := append([]*Subscription{}, b.global...)
	for _, catSubs := range b.byCategory {
		subs = append(subs, catSubs...)
	}
	b.global = nil
	b.byCategory = make(map[Category][]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return b.pubsub.Close()
}
