package realtime

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

const (
	subjectFleet     = "bus.fleet"
	subjectBusPrefix = "bus."
)

// NATSPublisher mirrors every gated location event onto NATS for
// out-of-process consumers (notification workers, analytics). It is a
// Sink behind the Broadcaster, so the sequence gate applies here too.
type NATSPublisher struct {
	nc  *nats.Conn
	col *metrics.Collector
}

func NewNATSPublisher(url string, col *metrics.Collector) (*NATSPublisher, error) {
	setConnected := func(up bool) {
		if col == nil {
			return
		}
		if up {
			col.NATSConnected.Set(1)
		} else {
			col.NATSConnected.Set(0)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("schoolbus-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)
	return &NATSPublisher{nc: nc, col: col}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) Deliver(ev model.BusLocationEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("nats marshal error: %v", err)
		return
	}
	start := time.Now()
	err = p.nc.Publish(subjectFleet, b)
	if err == nil {
		err = p.nc.Publish(subjectBusPrefix+subjectToken(ev.BusID.String()), b)
	}
	if p.col != nil {
		p.col.PublishDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			p.col.NATSPublishErrs.Inc()
		} else {
			p.col.NATSPublished.Inc()
		}
	}
	if err != nil {
		log.Printf("nats publish error for bus %s: %v", ev.BusID, err)
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
