// Package http provides the HTTP transport adapter for the scan engine.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scan server.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ScansTotal      *prometheus.CounterVec
	ScanDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinelscan",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinelscan",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ScansTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinelscan",
				Name:      "scans_total",
				Help:      "Total scan evaluations by mode and decision",
			},
			[]string{"mode", "decision"},
		),
		ScanDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinelscan",
				Name:      "scan_duration_seconds",
				Help:      "End-to-end scan evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
}
