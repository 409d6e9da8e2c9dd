// Package metrics exposes executor and queue outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
)

// Collector implements engine.Recorder with Prometheus instruments.
type Collector struct {
	applied      *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	applyLatency *prometheus.HistogramVec
	drains       prometheus.Counter
	drainLatency prometheus.Histogram
	deferred     prometheus.Gauge
	online       prometheus.Gauge
	queueDepth   prometheus.Gauge
}

var _ engine.Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brandmodel_actions_applied_total",
			Help: "Actions whose remote effect was confirmed.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brandmodel_actions_failed_total",
			Help: "Failed apply attempts by error code.",
		}, []string{"kind", "code"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brandmodel_actions_dead_lettered_total",
			Help: "Actions moved to the dead-letter set.",
		}, []string{"kind", "code"}),
		applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brandmodel_action_apply_seconds",
			Help:    "Latency of successful applies.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brandmodel_drains_total",
			Help: "Completed queue drains.",
		}),
		drainLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brandmodel_drain_seconds",
			Help:    "Duration of queue drains.",
			Buckets: prometheus.DefBuckets,
		}),
		deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brandmodel_actions_deferred",
			Help: "Actions left waiting after the last drain.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brandmodel_remote_online",
			Help: "1 while the remote store is reachable.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brandmodel_queue_depth",
			Help: "Pending actions in the local queue.",
		}),
	}

	reg.MustRegister(
		c.applied,
		c.failed,
		c.deadLettered,
		c.applyLatency,
		c.drains,
		c.drainLatency,
		c.deferred,
		c.online,
		c.queueDepth,
	)
	return c
}

func (c *Collector) ActionApplied(kind model.ActionKind, elapsed time.Duration) {
	c.applied.WithLabelValues(string(kind)).Inc()
	c.applyLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (c *Collector) ActionFailed(kind model.ActionKind, code engine.ErrorCode) {
	c.failed.WithLabelValues(string(kind), string(code)).Inc()
}

func (c *Collector) ActionDeadLettered(kind model.ActionKind, code engine.ErrorCode) {
	c.deadLettered.WithLabelValues(string(kind), string(code)).Inc()
}

func (c *Collector) DrainCompleted(report engine.DrainReport, elapsed time.Duration) {
	c.drains.Inc()
	c.drainLatency.Observe(elapsed.Seconds())
	c.deferred.Set(float64(report.Deferred))
}

// SetOnline records connectivity.
func (c *Collector) SetOnline(online bool) {
	if online {
		c.online.Set(1)
		return
	}
	c.online.Set(0)
}

// SetQueueDepth records the pending action count.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
