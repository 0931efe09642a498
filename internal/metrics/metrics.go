package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Studio metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deedstudio",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deedstudio",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
		},
		[]string{"method", "route"},
	)

	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deedstudio",
			Subsystem: "intake",
			Name:      "selections_total",
			Help:      "Media selections by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deedstudio",
			Subsystem: "publish",
			Name:      "attempts_total",
			Help:      "Publish attempts by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deedstudio",
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "End-to-end publish duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deedstudio",
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes confirmed by the object store or ingest service",
		},
		[]string{"target"},
	)

	UploadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deedstudio",
			Subsystem: "upload",
			Name:      "failures_total",
			Help:      "Failed upload tasks",
		},
		[]string{"target"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deedstudio",
			Subsystem: "record",
			Name:      "status_transitions_total",
			Help:      "Deed status transitions applied",
		},
		[]string{"from", "to"},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, route string, status int, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPublish records one publish attempt.
func RecordPublish(strategy string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if strategy == "" {
		strategy = "none"
	}
	PublishTotal.WithLabelValues(strategy, status).Inc()
	PublishDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordUpload records one upload task outcome.
func RecordUpload(target string, size int64, err error) {
	if err != nil {
		UploadFailuresTotal.WithLabelValues(target).Inc()
		return
	}
	UploadBytesTotal.WithLabelValues(target).Add(float64(size))
}

// RecordSelection records an intake outcome.
func RecordSelection(kind string, err error) {
	status := "accepted"
	if err != nil {
		status = "rejected"
	}
	if kind == "" {
		kind = "unknown"
	}
	SelectionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordTransition records a status change.
func RecordTransition(from, to string) {
	StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}
