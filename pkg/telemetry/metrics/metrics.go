// Package metrics exposes Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/orchestrator"
)

// Collector owns the gateway's Prometheus registry and metric vectors.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	imagesTotal     *prometheus.CounterVec
}

// NewCollector creates and registers the gateway metrics.
func NewCollector(cfg config.MetricsConfig) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total upstream requests by model and final status",
			},
			[]string{"model", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end upstream request duration in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"model"},
		),

		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "attempts_total",
				Help:      "Total upstream attempts consumed, including retries",
			},
			[]string{"model"},
		),

		imagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "images_total",
				Help:      "Generated image slots by outcome",
			},
			[]string{"outcome"},
		),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.attemptsTotal,
		c.imagesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RecordOutcome implements orchestrator.OutcomeSink.
func (c *Collector) RecordOutcome(o orchestrator.Outcome) {
	c.requestsTotal.WithLabelValues(o.Model, strconv.Itoa(o.Status)).Inc()
	c.requestDuration.WithLabelValues(o.Model).Observe(o.Duration.Seconds())
	c.attemptsTotal.WithLabelValues(o.Model).Add(float64(o.Attempts))
}

// RecordImage counts one generated image slot. outcome is "ok" or
// "failed".
func (c *Collector) RecordImage(outcome string) {
	c.imagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one request outside the orchestrator path,
// such as a websocket image generation.
func (c *Collector) ObserveRequest(model string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(model, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// Handler returns the /metrics endpoint handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
