package notify

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer bounds each subscriber's queue; a subscriber that falls
// further behind loses events rather than blocking publishers.
const subscriberBuffer = 100

// Hub is the in-process notification channel. Subscribers attach to one or
// more topics and receive every event published to any of them over a single
// channel. Delivery is best-effort.
type Hub struct {
	mu     sync.RWMutex
	nextID atomic.Uint64
	subs   map[uint64]*subscription
	topics map[string]map[uint64]*subscription
}

type subscription struct {
	ch     chan Event
	topics []string
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[uint64]*subscription),
		topics: make(map[string]map[uint64]*subscription),
	}
}

// Subscribe attaches a new subscriber to the given topics.
func (h *Hub) Subscribe(topics ...string) (uint64, chan Event) {
	id := h.nextID.Add(1)
	sub := &subscription{
		ch:     make(chan Event, subscriberBuffer),
		topics: topics,
	}

	h.mu.Lock()
	h.subs[id] = sub
	for _, topic := range topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[uint64]*subscription)
		}
		h.topics[topic][id] = sub
	}
	h.mu.Unlock()

	return id, sub.ch
}

func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	if sub, ok := h.subs[id]; ok {
		h.detach(id, sub)
	}
	h.mu.Unlock()
}

// detach removes and closes a subscription. Caller holds h.mu.
func (h *Hub) detach(id uint64, sub *subscription) {
	close(sub.ch)
	delete(h.subs, id)
	for _, topic := range sub.topics {
		delete(h.topics[topic], id)
		if len(h.topics[topic]) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish delivers the event to every subscriber of its topic.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.topics[e.Topic] {
		select {
		case sub.ch <- e:
		default:
			// Skip slow subscribers
		}
	}
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close closes all subscriber channels, detaching every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		h.detach(id, sub)
	}
}
