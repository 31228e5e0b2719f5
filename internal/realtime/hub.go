package realtime

import (
	"log"
	"sync"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// TopicAll subscribes a client to every bus in the fleet.
const TopicAll = "all"

// Subscription is one attached viewer. Events arrive on C; the transport
// layer drains it and closes the subscription when the client goes away.
type Subscription struct {
	ClientID string
	C        chan model.BusLocationEvent

	mu    sync.Mutex
	topic string
}

func (s *Subscription) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

func (s *Subscription) setTopic(t string) {
	s.mu.Lock()
	s.topic = t
	s.mu.Unlock()
}

// Hub is the in-process subscriber registry. A subscription listens to
// either the all-fleet topic or a single bus. There is no replay buffer:
// a client that reconnects pulls current state over HTTP instead.
type Hub struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	col  *metrics.Collector
}

func NewHub(col *metrics.Collector) *Hub {
	return &Hub{subs: make(map[string]*Subscription), col: col}
}

// Subscribe attaches a client to a topic (TopicAll or a bus id). A
// second subscribe for the same client replaces the previous
// subscription, closing its channel.
func (h *Hub) Subscribe(clientID, topic string) *Subscription {
	sub := &Subscription{
		ClientID: clientID,
		C:        make(chan model.BusLocationEvent, 16),
		topic:    topic,
	}
	h.mu.Lock()
	if old, ok := h.subs[clientID]; ok {
		close(old.C)
	}
	h.subs[clientID] = sub
	n := len(h.subs)
	h.mu.Unlock()
	if h.col != nil {
		h.col.WSClients.Set(float64(n))
	}
	log.Printf("client %s subscribed to %s", clientID, topic)
	return sub
}

// SetTopic retargets an existing subscription.
func (h *Hub) SetTopic(clientID, topic string) {
	h.mu.Lock()
	sub, ok := h.subs[clientID]
	h.mu.Unlock()
	if ok {
		sub.setTopic(topic)
		log.Printf("client %s subscribed to %s", clientID, topic)
	}
}

// Unsubscribe detaches a client and closes its channel. Safe to call for
// an unknown client.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	sub, ok := h.subs[clientID]
	if ok {
		delete(h.subs, clientID)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		close(sub.C)
		log.Printf("client %s unsubscribed", clientID)
	}
	if h.col != nil {
		h.col.WSClients.Set(float64(n))
	}
}

// Deliver sends the event to every subscription attached to the event's
// bus or to the fleet topic. A subscriber whose buffer is full misses
// the event rather than blocking the pipeline.
func (h *Hub) Deliver(ev model.BusLocationEvent) {
	busTopic := ev.BusID.String()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		t := sub.Topic()
		if t != TopicAll && t != busTopic {
			continue
		}
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// ClientCount reports how many subscriptions are attached.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
