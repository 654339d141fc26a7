// Copyright 2024 Canonical.

// The servermon package is used to update statistics used
// for monitoring the key lifecycle service.
package servermon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlobCallDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keyturn",
		Subsystem: "blob",
		Name:      "call_duration_seconds",
		Help:      "Histogram of blob store call time in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method"})
	BlobCallErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "blob",
		Name:      "error_total",
		Help:      "The number of blob store call errors.",
	}, []string{"method"})
	DBQueryDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keyturn",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Histogram of database query time in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method"})
	DBQueryErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "db",
		Name:      "error_total",
		Help:      "The number of database errors.",
	}, []string{"method"})
	KeysGeneratedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "generator",
		Name:      "keys_generated_total",
		Help:      "The number of key pairs generated.",
	}, []string{"domain"})
	KeysReapedCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "janitor",
		Name:      "keys_reaped_total",
		Help:      "The number of expired keys reaped.",
	})
	ReapErrorCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "janitor",
		Name:      "reap_error_total",
		Help:      "The number of failures while reaping expired keys.",
	})
	RotationSuccessCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "rotation",
		Name:      "success_total",
		Help:      "The number of successful key rotations.",
	}, []string{"domain"})
	RotationSkippedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "rotation",
		Name:      "skipped_total",
		Help:      "The number of key rotations skipped due to lease contention or rollback.",
	}, []string{"domain"})
	RotationFailCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "rotation",
		Name:      "failure_total",
		Help:      "The number of failed key rotations.",
	}, []string{"domain"})
	RotationDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keyturn",
		Subsystem: "rotation",
		Name:      "duration_seconds",
		Help:      "Histogram of key rotation time in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"domain"})
	SignDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keyturn",
		Subsystem: "signer",
		Name:      "sign_duration_seconds",
		Help:      "Histogram of token signing time in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"domain"})
	SignErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "signer",
		Name:      "error_total",
		Help:      "The number of token signing errors.",
	}, []string{"domain"})
	VaultCallDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keyturn",
		Subsystem: "vault",
		Name:      "call_duration_seconds",
		Help:      "Histogram of vault call time in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method"})
	VaultCallErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyturn",
		Subsystem: "vault",
		Name:      "error_total",
		Help:      "The number of vault call errors.",
	}, []string{"method"})
	ResponseTimeHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keyturn",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "The duration of handling an HTTP request in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method"})
)

// DurationObserver returns a function that, when run with `defer` will
// record the duration of the parent function's execution.
func DurationObserver(m *prometheus.HistogramVec, labelValues ...string) func() {
	start := time.Now()
	return func() {
		m.WithLabelValues(labelValues...).Observe(time.Since(start).Seconds())
	}
}

// ErrorCounter increases the specified counter if the error is not nil.
func ErrorCounter(m *prometheus.CounterVec, err *error, labelValues ...string) {
	if *err == nil {
		return
	}

	m.WithLabelValues(labelValues...).Inc()
}
