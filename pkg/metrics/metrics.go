// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for secret sharing and
// custody operations. Collection can be switched off at runtime with Disable.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus namespace for all keyshard metrics
	Namespace = "keyshard"

	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	StatusSuccess = "success"
	StatusError   = "error"

	OpSplit   = "split"
	OpCombine = "combine"
	OpSeal    = "seal"
	OpOpen    = "open"
	OpRecover = "recover"
	OpDestroy = "destroy"
	OpRevoke  = "revoke"
	OpPurge   = "purge"
)

var (
	// OperationsTotal counts operations by name and outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of keyshard operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of keyshard operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{LabelOperation},
	)

	// ErrorsTotal counts failures by a short error type such as
	// "insufficient_shares" or "invalid_threshold".
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	SharesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "shares_generated_total",
			Help:      "Total number of shares produced by split",
		},
	)

	// SecretBytes observes the length of secrets passed to split and seal.
	SecretBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "secret_bytes",
			Help:      "Size of secrets processed by split and seal",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
	)

	// FilesActive is the number of sealed files that are neither destroyed
	// nor expired, as last observed by the vault.
	FilesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "files_active",
			Help:      "Number of sealed files that can still be opened",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records one operation outcome and its duration.
//
//	start := time.Now()
//	shares, err := secretsharing.Split(secret, 5, 3)
//	metrics.RecordOperation(metrics.OpSplit, metrics.Status(err), time.Since(start))
func RecordOperation(operation, status string, duration time.Duration) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError increments the error counter for operation.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordSplit records the shares and secret size produced by a split.
func RecordSplit(secretLen, shares int) {
	if !enabled.Load() {
		return
	}
	SharesGenerated.Add(float64(shares))
	SecretBytes.Observe(float64(secretLen))
}

func SetFilesActive(n int) {
	if !enabled.Load() {
		return
	}
	FilesActive.Set(float64(n))
}

func RecordHTTPRequest(method, statusCode string, duration time.Duration) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Status maps an error to StatusSuccess or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func Enable() {
	enabled.Store(true)
}

// Disable stops all recording. Useful in tests and benchmarks.
func Disable() {
	enabled.Store(false)
}

func IsEnabled() bool {
	return enabled.Load()
}
