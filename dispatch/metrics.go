package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks bulk-dispatch activity on an injected registry so tests and
// the process-wide /metrics endpoint can each own their own.
type Metrics struct {
	itemsSent     prometheus.Counter
	itemsFailed   prometheus.Counter
	jobsStarted   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobActive     prometheus.Gauge
	sendDuration  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		itemsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulk_items_sent_total",
			Help: "Total number of bulk items delivered to the transport",
		}),
		itemsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulk_items_failed_total",
			Help: "Total number of bulk items that failed to send",
		}),
		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulk_jobs_started_total",
			Help: "Total number of bulk jobs accepted",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bulk_jobs_completed_total",
			Help: "Total number of bulk jobs drained to completion",
		}),
		jobActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bulk_job_active",
			Help: "Whether a bulk job is currently draining (0 or 1)",
		}),
		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulk_send_duration_seconds",
			Help:    "Time taken to send one bulk item",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
