// Package events is the orchestrator's in-process publish/subscribe bus.
//
// Results are published on per-session topics and health notifications on
// the global topic. Publishing never blocks: each subscriber owns a bounded
// buffer and an event that does not fit is dropped for that subscriber and
// counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/strumspace/internal/logging"
)

// GlobalTopic carries system-wide notifications.
const GlobalTopic = "global"

// DefaultBufferSize is the per-subscriber queue length used when NewBus is
// given a non-positive size.
const DefaultBufferSize = 64

// Event types published by the orchestrator.
const (
	TypeCoordinatedResponse = "coordinated-response"
	TypeChordHighlight      = "chord-highlight"
	TypeSystemHealth        = "system-health"
	TypeServiceAlert        = "service-alert"
	TypeServiceRegistered   = "service-registered"
)

// SessionTopic returns the topic for one client session.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// Event is one message on the bus.
type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription receives events for one topic, or for every topic when
// created with SubscribeAll.
type Subscription struct {
	id      uint64
	topic   string
	all     bool
	ch      chan Event
	dropped atomic.Uint64
}

// Events returns the receive channel. It is closed on Unsubscribe or Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Topic returns the subscribed topic, or "" for a wildcard subscription.
func (s *Subscription) Topic() string { return s.topic }

// Dropped returns how many events this subscriber missed because its buffer
// was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) matches(topic string) bool {
	return s.all || s.topic == topic
}

// Bus fans events out to subscribers. It is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates a bus whose subscribers buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: bufferSize,
		now:    time.Now,
	}
}

// Publish delivers ev to every subscriber of topic plus every wildcard
// subscriber. Topic and a missing Timestamp are filled in.
func (b *Bus) Publish(topic string, ev Event) {
	ev.Topic = topic
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			logging.Debug("Events", "Dropped %s event on %s for a slow subscriber", ev.Type, topic)
		}
	}
}

// Subscribe registers interest in one topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	return b.add(&Subscription{topic: topic})
}

// SubscribeAll registers interest in every topic.
func (b *Bus) SubscribeAll() *Subscription {
	return b.add(&Subscription{all: true})
}

func (b *Bus) add(sub *Subscription) *Subscription {
	sub.ch = make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice, or after
// Close, is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Close unsubscribes everyone. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of dropped deliveries across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
