// Package metrics records vault and diff activity as Prometheus metrics.
//
// Metrics are registered lazily by Init. Until then every Record call is a
// no-op, so library code can record unconditionally.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeNotFound     = "not_found"
	OutcomeAccessDenied = "access_denied"
	OutcomeError        = "error"
)

var (
	vaultOperationsTotal   *prometheus.CounterVec
	vaultOperationDuration *prometheus.HistogramVec
	diffPairsTotal         *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Init registers all metrics with the default registry. Safe to call more
// than once.
func Init() {
	metricsOnce.Do(func() {
		vaultOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagevault_vault_operations_total",
				Help: "Total number of vault operations by outcome",
			},
			[]string{"vault", "op", "outcome"},
		)

		vaultOperationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stagevault_vault_operation_duration_seconds",
				Help:    "Duration of vault operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"vault", "op"},
		)

		diffPairsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagevault_diff_pairs_total",
				Help: "Total number of (vault, stage) pairs listed by the diff engine",
			},
			[]string{"outcome"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordVaultOperation records one vault call.
func RecordVaultOperation(vaultName, op, outcome string, elapsed time.Duration) {
	if !metricsRegistered.Load() {
		return
	}
	vaultOperationsTotal.WithLabelValues(vaultName, op, outcome).Inc()
	vaultOperationDuration.WithLabelValues(vaultName, op).Observe(elapsed.Seconds())
}

// RecordDiffPair records the outcome of listing one (vault, stage) pair.
func RecordDiffPair(outcome string) {
	if !metricsRegistered.Load() {
		return
	}
	diffPairsTotal.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// VaultOperationsTotal returns the operations counter for testing.
func VaultOperationsTotal() *prometheus.CounterVec {
	return vaultOperationsTotal
}

// DiffPairsTotal returns the diff pair counter for testing.
func DiffPairsTotal() *prometheus.CounterVec {
	return diffPairsTotal
}

// IsRegistered reports whether Init has run.
func IsRegistered() bool {
	return metricsRegistered.Load()
}
