package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	EventsIngested  prometheus.Counter
	EventsRejected  prometheus.Counter
	FanoutPublished prometheus.Counter
	FanoutDropped   prometheus.Counter
	QueryDurationMs prometheus.Histogram
	PagesServed     prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dutylog_events_ingested_total",
			Help: "Total number of activity events accepted by the ingest endpoint",
		}),
		EventsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dutylog_events_rejected_total",
			Help: "Total number of activity events rejected at ingest",
		}),
		FanoutPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dutylog_fanout_published_total",
			Help: "Total number of events published to the Kafka audit topic",
		}),
		FanoutDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dutylog_fanout_dropped_total",
			Help: "Total number of events dropped because the fan-out inbox was full",
		}),
		QueryDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dutylog_query_page_duration_ms",
			Help:    "Latency of reviewer page fetches in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		PagesServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dutylog_query_pages_served_total",
			Help: "Total number of reviewer pages served",
		}),
	}
}
