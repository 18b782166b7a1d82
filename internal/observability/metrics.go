// Package observability carries the client's metrics and optional tracing.
// The collector feeds the connector and bridge counters; a long-running
// connect session can expose them over a local prometheus endpoint.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns the prometheus registry and every client metric.
type Collector struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	started  time.Time

	uptime          prometheus.GaugeFunc
	connectAttempts *prometheus.CounterVec
	connectOutcomes *prometheus.CounterVec
	healthChecks    *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// NewCollector builds and registers all metrics.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger:   logger.With(zap.String("component", "metrics")),
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
	}

	c.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "memctl_uptime_seconds",
		Help: "Time since the client started",
	}, func() float64 { return time.Since(c.started).Seconds() })

	c.connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memctl_connect_attempts_total",
			Help: "Connection dial attempts by transport mode",
		},
		[]string{"mode"},
	)

	c.connectOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memctl_connect_outcomes_total",
			Help: "Connection outcomes by transport mode and result",
		},
		[]string{"mode", "outcome"},
	)

	c.healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memctl_health_checks_total",
			Help: "Health probe results by transport mode",
		},
		[]string{"mode", "result"},
	)

	c.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memctl_tool_calls_total",
			Help: "Tool invocations by tool, mode, and status",
		},
		[]string{"tool", "mode", "status"},
	)

	c.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memctl_tool_call_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool", "mode"},
	)

	c.registry.MustRegister(
		c.uptime,
		c.connectAttempts,
		c.connectOutcomes,
		c.healthChecks,
		c.toolCalls,
		c.toolDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ConnectAttempt counts one dial attempt.
func (c *Collector) ConnectAttempt(mode string) {
	c.connectAttempts.WithLabelValues(mode).Inc()
}

// ConnectOutcome counts the result of a connect sequence.
func (c *Collector) ConnectOutcome(mode, outcome string) {
	c.connectOutcomes.WithLabelValues(mode, outcome).Inc()
}

// HealthCheck counts one probe result.
func (c *Collector) HealthCheck(mode string, healthy bool) {
	result := "pass"
	if !healthy {
		result = "fail"
	}
	c.healthChecks.WithLabelValues(mode, result).Inc()
}

// ToolCall records one invocation.
func (c *Collector) ToolCall(tool, mode string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.toolCalls.WithLabelValues(tool, mode, status).Inc()
	c.toolDuration.WithLabelValues(tool, mode).Observe(duration.Seconds())
}

// Handler serves the registry in prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the listener fails. Meant to run in
// a goroutine alongside a long-lived connect session.
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.logger.Info("Serving metrics", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

// Registry exposes the underlying registry for tests and custom handlers.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
