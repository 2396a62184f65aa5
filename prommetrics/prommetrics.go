// Package prommetrics exports cache metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	mc, err := prommetrics.New(reg)
//	c, err := blockcache.New(blockcache.WithMetricsCollector(mc))
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/blockcache"
)

// Collector implements blockcache.MetricsCollector with Prometheus metrics.
type Collector struct {
	fetches   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	evictions *prometheus.CounterVec
	exhausted prometheus.Counter
}

var _ blockcache.MetricsCollector = (*Collector)(nil)

type options struct {
	namespace string
	buckets   []float64
}

// Option configures New.
type Option func(*options)

// WithNamespace sets the metric namespace. The default is "blockcache".
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithBuckets sets the latency histogram buckets in seconds.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// New creates a collector and registers its metrics with reg. A nil reg
// means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, optFns ...Option) (*Collector, error) {
	o := options{
		namespace: "blockcache",
		buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "fetches_total",
			Help:      "Fetches by result (hit or miss) and status.",
		}, []string{"result", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of fetch and commit, including device I/O.",
			Buckets:   o.buckets,
		}, []string{"op", "status"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "evictions_total",
			Help:      "Buffers recycled on a miss, from the home shard (lru) or another shard (steal).",
		}, []string{"kind"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "exhausted_total",
			Help:      "Fetches that found every buffer referenced.",
		}),
	}

	for _, m := range []prometheus.Collector{c.fetches, c.latency, c.evictions, c.exhausted} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordFetch implements blockcache.MetricsCollector.
func (c *Collector) RecordFetch(hit bool, d time.Duration, err error) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.fetches.WithLabelValues(result, status(err)).Inc()
	c.latency.WithLabelValues("fetch", status(err)).Observe(d.Seconds())
}

// RecordCommit implements blockcache.MetricsCollector.
func (c *Collector) RecordCommit(d time.Duration, err error) {
	c.latency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
}

// RecordEviction implements blockcache.MetricsCollector.
func (c *Collector) RecordEviction(steal bool) {
	kind := "lru"
	if steal {
		kind = "steal"
	}
	c.evictions.WithLabelValues(kind).Inc()
}

// RecordExhausted implements blockcache.MetricsCollector.
func (c *Collector) RecordExhausted() {
	c.exhausted.Inc()
}
