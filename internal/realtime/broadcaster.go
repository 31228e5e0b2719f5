package realtime

import (
	"sync"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// Sink delivers an already-gated event to one transport. Deliver must
// not block; slow consumers are the sink's problem.
type Sink interface {
	Deliver(ev model.BusLocationEvent)
}

// Broadcaster fans location events out to its sinks behind a per-bus
// sequence gate: an event whose sequence number is not strictly greater
// than the last published one for that bus is dropped here, at the
// publish boundary, so a stale update can never overwrite a fresher view
// downstream. Delivery runs under the bus's gate lock, which gives each
// bus topic non-decreasing sequence order; buses do not serialize
// against each other. Best effort, at most once, no replay.
type Broadcaster struct {
	mu    sync.Mutex
	buses map[uuid.UUID]*busGate

	sinks []Sink
	col   *metrics.Collector
}

type busGate struct {
	mu      sync.Mutex
	lastSeq int64
}

func NewBroadcaster(col *metrics.Collector, sinks ...Sink) *Broadcaster {
	return &Broadcaster{
		buses: make(map[uuid.UUID]*busGate),
		sinks: sinks,
		col:   col,
	}
}

func (b *Broadcaster) Publish(ev model.BusLocationEvent) {
	g := b.gate(ev.BusID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if ev.Sequence <= g.lastSeq {
		if b.col != nil {
			b.col.FixesDropped.Inc()
		}
		return
	}
	g.lastSeq = ev.Sequence

	for _, s := range b.sinks {
		s.Deliver(ev)
	}
	if b.col != nil {
		b.col.FixesPublished.Inc()
	}
}

func (b *Broadcaster) gate(busID uuid.UUID) *busGate {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.buses[busID]
	if !ok {
		g = &busGate{}
		b.buses[busID] = g
	}
	return g
}
