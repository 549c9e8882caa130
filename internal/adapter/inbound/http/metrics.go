// Package http provides the JSON API transport adapter for the engine.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ostiary.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DecisionsTotal    *prometheus.CounterVec
	TransitionsTotal  *prometheus.CounterVec
	ConditionFailures *prometheus.CounterVec
	ExecutorDuration  prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ostiary",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ostiary",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ostiary",
				Name:      "decisions_total",
				Help:      "Total action decisions by applied authority level and outcome",
			},
			[]string{"level", "outcome"}, // outcome=auto/approval/skipped
		),
		TransitionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ostiary",
				Name:      "transitions_total",
				Help:      "Total action log state transitions by destination state",
			},
			[]string{"to"},
		),
		ConditionFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ostiary",
				Name:      "condition_failures_total",
				Help:      "Total condition evaluations that failed, by failing check",
			},
			[]string{"check"},
		),
		ExecutorDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ostiary",
				Name:      "executor_duration_seconds",
				Help:      "Duration of caller-supplied executor callbacks",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
