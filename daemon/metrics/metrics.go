// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes the daemon's Prometheus instrumentation:
// outcome/latency for the five operations that touch the hypervisor
// directly (acquire, release, prepare, resume, reconcile), plus pool
// occupancy gauges operators dashboard against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hyperorc/domain"
)

var (
	// OperationsTotal tracks outcomes of the five instrumented orchestrator
	// operations, by operation and outcome ("ok"/"error").
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperorc_operations_total",
			Help: "Total orchestrator operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks wall-clock latency of those operations.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperorc_operation_duration_seconds",
			Help:    "Orchestrator operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
		[]string{"operation"},
	)

	// ResumeDuration is broken out from OperationDuration because resume
	// time is the number the fast-resume design exists to keep low; a
	// dedicated histogram keeps its buckets tuned to the 2-5s target
	// instead of sharing prepare's much wider range.
	ResumeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperorc_resume_duration_seconds",
			Help:    "VM resume duration in seconds",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	// PoolVMsByState is a gauge of VM count per pool per domain state,
	// refreshed each time a pool's status is queried; between queries it
	// keeps the last values set.
	PoolVMsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperorc_pool_vms",
			Help: "Number of VMs in a pool by state",
		},
		[]string{"pool", "state"},
	)

	// LeasesActive tracks currently-held leases per pool.
	LeasesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperorc_leases_active",
			Help: "Number of currently active (unreleased) leases per pool",
		},
		[]string{"pool"},
	)

	// APIRequests tracks HTTP API requests.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperorc_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// APIRequestDuration tracks API request duration.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperorc_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReconcileDrift counts VMs whose state Reconcile corrected, by the
	// kind of drift found ("state_mismatch" or "missing_from_hypervisor").
	ReconcileDrift = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperorc_reconcile_drift_total",
			Help: "Total VMs corrected by reconciliation, by drift kind",
		},
		[]string{"kind"},
	)

	// BuildInfo exposes version/go_version as a constant 1-valued gauge,
	// the standard Prometheus build-info pattern.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperorc_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordOperation records the outcome and duration of one orchestrator
// operation. err is nil on success.
func RecordOperation(operation string, durationSeconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordResume records a resume call's duration independent of outcome
// bucketing.
func RecordResume(durationSeconds float64) {
	ResumeDuration.Observe(durationSeconds)
}

// SetPoolState overwrites the gauge for one pool/state pair. Callers pass
// the full count observed for that state so repeated calls don't drift.
func SetPoolState(pool string, state domain.VMState, count float64) {
	PoolVMsByState.WithLabelValues(pool, string(state)).Set(count)
}

// SetLeasesActive overwrites the active-lease gauge for a pool.
func SetLeasesActive(pool string, count float64) {
	LeasesActive.WithLabelValues(pool).Set(count)
}

// RecordAPIRequest records an API request's outcome and latency.
func RecordAPIRequest(method, path, statusCode string, durationSeconds float64) {
	APIRequests.WithLabelValues(method, path, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordReconcileDrift increments the drift counter for one corrected VM.
func RecordReconcileDrift(kind string) {
	ReconcileDrift.WithLabelValues(kind).Inc()
}

// SetBuildInfo sets the build-info gauge.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
