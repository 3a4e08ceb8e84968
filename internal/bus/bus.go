// Package bus is the in-process publish/subscribe fan-out for registry
// mutations. Delivery is best-effort over bounded channels: a slow consumer
// is dropped rather than allowed to block a mutation.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic partitions the event stream.
type Topic string

const (
	TopicAgent   Topic = "agent"
	TopicMetrics Topic = "metrics"
)

// Event is one notification.
type Event struct {
	Topic   Topic     `json:"topic"`
	Type    string    `json:"type"` // registered | updated | unregistered | metrics
	AgentID string    `json:"agent_id"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// publishWait bounds how long a publish waits on a full subscriber queue
// before counting a failed delivery.
const publishWait = 50 * time.Millisecond

// subscriber is one bounded delivery queue.
type subscriber struct {
	id     string
	topics map[Topic]struct{}

	mu     sync.Mutex
	ch     chan Event
	closed bool
	drops  int
}

// deliver attempts a bounded-wait send and returns the consecutive-drop
// count after this event (0 on success or when the subscriber is gone).
func (s *subscriber) deliver(ev Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	select {
	case s.ch <- ev:
		s.drops = 0
	case <-time.After(publishWait):
		s.drops++
	}
	return s.drops
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	maxDrop int
	logger  *zap.Logger
}

// New creates a Bus. maxDrop is the number of consecutive failed deliveries
// tolerated before a subscriber is evicted (default 10).
func New(maxDrop int, logger *zap.Logger) *Bus {
	if maxDrop <= 0 {
		maxDrop = 10
	}
	return &Bus{
		subs:    make(map[string]*subscriber),
		maxDrop: maxDrop,
		logger:  logger,
	}
}

// Subscribe registers a consumer for the given topics and returns its event
// channel plus an unsubscribe function. buffer bounds the queue (default 16).
func (b *Bus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{
		id:     uuid.New().String(),
		topics: make(map[Topic]struct{}, len(topics)),
		ch:     make(chan Event, buffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub.ch, func() { b.remove(sub.id) }
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers ev to every subscriber of its topic. A publish never
// blocks longer than publishWait per subscriber; persistent laggards are
// evicted rather than allowed to stall registry mutations.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if _, ok := sub.topics[ev.Topic]; ok {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.deliver(ev) >= b.maxDrop {
			b.logger.Warn("bus: evicting slow subscriber",
				zap.String("subscriber", sub.id),
				zap.String("topic", string(ev.Topic)),
			)
			b.remove(sub.id)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
