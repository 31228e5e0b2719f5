package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	FixesIngested  prometheus.Counter
	FixesRejected  prometheus.Counter
	FixesPublished prometheus.Counter
	FixesDropped   prometheus.Counter

	Transitions        *prometheus.CounterVec // status label: onboard|dropped|absent
	TransitionRejects  prometheus.Counter
	SchedulesStarted   prometheus.Counter
	SchedulesCompleted prometheus.Counter
	TripsProvisioned   prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	WSClients prometheus.Gauge

	IngestDuration  prometheus.Histogram
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FixesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_fixes_ingested_total",
			Help: "Total GPS fixes accepted and persisted.",
		}),
		FixesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_fixes_rejected_total",
			Help: "Total GPS fixes rejected for invalid coordinates.",
		}),
		FixesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_fixes_published_total",
			Help: "Total fixes fanned out to realtime subscribers.",
		}),
		FixesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_fixes_dropped_total",
			Help: "Total fixes dropped at the publish boundary for stale sequence.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_trip_transitions_total",
			Help: "Successful trip status transitions by target status.",
		}, []string{"status"}),
		TransitionRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_trip_transition_rejects_total",
			Help: "Trip status transitions rejected as invalid.",
		}),
		SchedulesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_schedules_started_total",
			Help: "Total schedules moved to active.",
		}),
		SchedulesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_schedules_completed_total",
			Help: "Total schedules moved to completed.",
		}),
		TripsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_trips_provisioned_total",
			Help: "Total trip rows created by provisioning.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_ws_clients",
			Help: "Number of currently attached realtime subscribers.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_ingest_duration_seconds",
			Help:    "Duration of location ingest transactions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.FixesIngested, c.FixesRejected, c.FixesPublished, c.FixesDropped,
		c.Transitions, c.TransitionRejects,
		c.SchedulesStarted, c.SchedulesCompleted, c.TripsProvisioned,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.WSClients, c.IngestDuration, c.PublishDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
