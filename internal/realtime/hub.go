package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub is an in-process Broker. A subscriber whose buffer is full is dropped
// instead of blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]chan Event
	nextID uint64
	buffer int
	logger *logrus.Logger
	closed bool
}

// NewHub constructs an empty Hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[uint64]chan Event),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Publish hands event to every current subscriber of topic.
func (h *Hub) Publish(_ context.Context, topic string, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	for id, ch := range subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(subs, id)
			if h.logger != nil {
				h.logger.WithFields(logrus.Fields{
					"component":  "realtime",
					"topic":      topic,
					"subscriber": id,
				}).Warn("closing slow subscriber")
			}
		}
	}
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	return nil
}

// Subscribe registers a subscriber for topic. The subscription also ends when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	h.mu.Lock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}

	h.nextID++
	id := h.nextID
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]chan Event)
	}
	h.topics[topic][id] = ch
	h.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(stop)
			h.remove(topic, id)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()

	return ch, cancel, nil
}

// Subscribers reports how many subscribers topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for topic, subs := range h.topics {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.topics, topic)
	}
}

func (h *Hub) remove(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	ch, ok := subs[id]
	if !ok {
		return
	}
	close(ch)
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}
