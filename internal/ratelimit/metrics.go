/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// Backends reported in metrics.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Decisions reported in metrics.
const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
)

// MetricsCollector collects rate-limiting statistics.
type MetricsCollector interface {
	IncDecisions(namespace, backend, decision string)
	IncFallbacks(namespace string)
}

// PrometheusMetrics is a MetricsCollector exposing Prometheus counters.
type PrometheusMetrics struct {
	Decisions *prometheus.CounterVec
	Fallbacks *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates counters with the given metric namespace (may be empty).
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Number of rate-limit decisions.",
		}, []string{"namespace", "backend", "decision"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_fallbacks_total",
			Help:      "Number of checks served from memory because the durable store failed.",
		}, []string{"namespace"}),
	}
}

// Describe implements prometheus.Collector.
func (pm *PrometheusMetrics) Describe(ch chan<- *prometheus.Desc) {
	pm.Decisions.Describe(ch)
	pm.Fallbacks.Describe(ch)
}

// Collect implements prometheus.Collector.
func (pm *PrometheusMetrics) Collect(ch chan<- prometheus.Metric) {
	pm.Decisions.Collect(ch)
	pm.Fallbacks.Collect(ch)
}

// IncDecisions counts one decision.
func (pm *PrometheusMetrics) IncDecisions(namespace, backend, decision string) {
	pm.Decisions.WithLabelValues(namespace, backend, decision).Inc()
}

// IncFallbacks counts one fallback to memory.
func (pm *PrometheusMetrics) IncFallbacks(namespace string) {
	pm.Fallbacks.WithLabelValues(namespace).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(string, string, string) {}
func (disabledMetrics) IncFallbacks(string)                 {}
