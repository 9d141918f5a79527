// Package metric exports store metrics to Prometheus.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/funk"
)

var _ funk.MetricsCollector = (*PrometheusCollector)(nil)

// PrometheusCollector implements funk.MetricsCollector on top of Prometheus
// counters and histograms.
type PrometheusCollector struct {
	opLatency *prometheus.HistogramVec
	ops       *prometheus.CounterVec
	published prometheus.Counter
	cancelled prometheus.Counter
}

// NewPrometheusCollector creates the collector and registers its metrics
// with reg. Every metric name starts with namespace ("funk" if empty).
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if namespace == "" {
		namespace = "funk"
	}

	c := &PrometheusCollector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of store operations",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Store operations by outcome",
		}, []string{"op", "status"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_transactions_total",
			Help:      "Transactions that became canonical",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancelled_transactions_total",
			Help:      "Transactions discarded by Cancel, CancelSiblings and CancelChildren",
		}),
	}

	for _, col := range []prometheus.Collector{c.opLatency, c.ops, c.published, c.cancelled} {
		if err := reg.Register(col); err != nil {
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

func (c *PrometheusCollector) observe(op string, d time.Duration, err error) {
	st := status(err)
	c.opLatency.WithLabelValues(op, st).Observe(d.Seconds())
	c.ops.WithLabelValues(op, st).Inc()
}

// RecordPrepare implements funk.MetricsCollector.
func (c *PrometheusCollector) RecordPrepare(d time.Duration, err error) {
	c.observe("prepare", d, err)
}

// RecordPublish implements funk.MetricsCollector.
func (c *PrometheusCollector) RecordPublish(published int, d time.Duration, err error) {
	c.observe("publish", d, err)
	c.published.Add(float64(published))
}

// RecordCancel implements funk.MetricsCollector.
func (c *PrometheusCollector) RecordCancel(cancelled int, d time.Duration, err error) {
	c.observe("cancel", d, err)
	c.cancelled.Add(float64(cancelled))
}

// RecordInsert implements funk.MetricsCollector.
func (c *PrometheusCollector) RecordInsert(d time.Duration, err error) {
	c.observe("insert", d, err)
}

// RecordRemove implements funk.MetricsCollector.
func (c *PrometheusCollector) RecordRemove(d time.Duration, err error) {
	c.observe("remove", d, err)
}

// RecordVerify implements funk.MetricsCollector.
func (c *PrometheusCollector) RecordVerify(d time.Duration, err error) {
	c.observe("verify", d, err)
}
