// Package telemetry provides Prometheus metrics for the service.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "factorfit"

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Optimization metrics
	OptimizationsTotal   *prometheus.CounterVec
	OptimizationDuration *prometheus.HistogramVec
	OptimizerIterations  prometheus.Histogram
	TrackingError        prometheus.Histogram

	// Estimation metrics
	EstimationsTotal   *prometheus.CounterVec
	EstimationDuration prometheus.Histogram
	AssetFailures      *prometheus.CounterVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry, so several instances
// can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OptimizationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Total number of optimization runs by method and status",
		}, []string{"method", "status"}),
		OptimizationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "duration_seconds",
			Help:      "Duration of optimization runs in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method"}),
		OptimizerIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "iterations",
			Help:      "Iterations used per optimization run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TrackingError: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "tracking_error",
			Help:      "Exposure tracking error of returned portfolios",
			Buckets:   []float64{1e-8, 1e-6, 1e-4, 1e-3, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		EstimationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betas",
			Name:      "estimations_total",
			Help:      "Total number of beta estimations by result",
		}, []string{"result"}),
		EstimationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "betas",
			Name:      "estimation_duration_seconds",
			Help:      "Duration of beta estimation in seconds, cache lookups included",
			Buckets:   prometheus.DefBuckets,
		}),
		AssetFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betas",
			Name:      "asset_failures_total",
			Help:      "Per-asset regression failures by kind",
		}, []string{"kind"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Calculation cache lookups by namespace and result",
		}, []string{"namespace", "result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOptimization records one optimizer run.
func (m *Metrics) ObserveOptimization(method, status string, iterations int, trackingError float64, elapsed time.Duration) {
	m.OptimizationsTotal.WithLabelValues(method, status).Inc()
	m.OptimizationDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	m.OptimizerIterations.Observe(float64(iterations))
	if status != "infeasible_constraints" {
		m.TrackingError.Observe(trackingError)
	}
}

// ObserveEstimation records one estimation call and its per-asset failures.
func (m *Metrics) ObserveEstimation(diag *betas.Diagnostics, err error, elapsed time.Duration) {
	m.EstimationDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.EstimationsTotal.WithLabelValues("error").Inc()
		return
	}
	m.EstimationsTotal.WithLabelValues("ok").Inc()
	if diag == nil {
		return
	}
	for _, f := range diag.Failures {
		m.AssetFailures.WithLabelValues(f.Kind).Inc()
	}
}

// InstrumentCache wraps a beta cache so that lookups are counted.
func (m *Metrics) InstrumentCache(cache betas.Cache) betas.Cache {
	return &instrumentedCache{Cache: cache, lookups: m.CacheLookups}
}

type instrumentedCache struct {
	betas.Cache
	lookups *prometheus.CounterVec
}

func (c *instrumentedCache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	data, ok, err := c.Cache.Get(ctx, namespace, key)
	switch {
	case err != nil:
		c.lookups.WithLabelValues(namespace, "error").Inc()
	case ok:
		c.lookups.WithLabelValues(namespace, "hit").Inc()
	default:
		c.lookups.WithLabelValues(namespace, "miss").Inc()
	}
	return data, ok, err
}
