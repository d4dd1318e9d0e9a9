package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the process-local Prometheus registry and the instruments
// the router, memory store, adapters, and pipeline record into.
type Registry struct {
	reg *prometheus.Registry

	RouteRequests    *prometheus.CounterVec
	AdapterLatency   *prometheus.HistogramVec
	AdapterFailures  *prometheus.CounterVec
	MemoryOperations *prometheus.CounterVec
	MemoryLatency    *prometheus.HistogramVec
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RouteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "route_requests_total",
			Help: "Routing requests by dispatch mode",
		}, []string{"mode"}),
		AdapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adapter_latency_ms",
			Help:    "Provider adapter generate latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"model"}),
		AdapterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_failures_total",
			Help: "Provider adapter dispatches that ended in error",
		}, []string{"model"}),
		MemoryOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memory_operations_total",
			Help: "Memory store operations by kind",
		}, []string{"op"}),
		MemoryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memory_operation_seconds",
			Help:    "Memory store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Orchestration pipeline runs by mode and outcome",
		}, []string{"mode", "status"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_duration_ms",
			Help:    "End-to-end pipeline duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
	}
	reg.MustRegister(
		m.RouteRequests,
		m.AdapterLatency,
		m.AdapterFailures,
		m.MemoryOperations,
		m.MemoryLatency,
		m.PipelineRuns,
		m.PipelineDuration,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
