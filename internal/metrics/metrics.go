// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pharmakhata"

var (
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_entries_total",
		Help:      "Ledger entries appended, by entry type.",
	}, []string{"type"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Settlement operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Time spent inside a settlement transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	BalanceDrift = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_drift_detected_total",
		Help:      "Reconciliation runs that found drift above tolerance.",
	})

	SummaryCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "summary_cache_requests_total",
		Help:      "Monthly summary cache lookups by result.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// Outcome labels a settlement result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
