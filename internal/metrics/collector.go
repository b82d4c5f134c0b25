// Package metrics exposes relay counters in Prometheus exposition format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	registry   *prometheus.Registry
	startTime  time.Time
	dispatches *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	deletes    prometheus.Counter
	inflight   prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_dispatches_total",
			Help: "Dispatches finished, by platform and outcome status.",
		}, []string{"platform", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_strategy_attempts_total",
			Help: "Strategy attempts, by platform, strategy and result kind.",
		}, []string{"platform", "strategy", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaybot_strategy_duration_seconds",
			Help:    "Strategy attempt latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"platform", "strategy"}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_delete_failures_total",
			Help: "Original messages that could not be deleted.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_inflight_dispatches",
			Help: "Dispatches currently running.",
		}),
	}
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relaybot_uptime_seconds",
		Help: "Time since start in seconds.",
	}, func() float64 { return c.Uptime().Seconds() })

	c.registry.MustRegister(
		c.dispatches, c.attempts, c.latency, c.deletes, c.inflight, uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// ObserveAttempt records one strategy attempt.
func (c *Collector) ObserveAttempt(platform, strategy, result string, d time.Duration) {
	c.attempts.WithLabelValues(platform, strategy, result).Inc()
	c.latency.WithLabelValues(platform, strategy).Observe(d.Seconds())
}

func (c *Collector) DispatchStarted() { c.inflight.Inc() }

func (c *Collector) DispatchFinished(platform, status string, _ time.Duration) {
	c.inflight.Dec()
	c.dispatches.WithLabelValues(platform, status).Inc()
}

func (c *Collector) DeleteFailed() { c.deletes.Inc() }

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler renders the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
