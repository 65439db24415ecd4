package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the enrollment
// API: request timings plus domain counters for enrollment outcomes and
// capacity contention.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	enrollmentOps     *prometheus.CounterVec
	capacityConflicts prometheus.Counter
	txRetries         prometheus.Counter
	notificationsSent *prometheus.CounterVec
}

// NewMetricsService registers the core collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_operations_total",
		Help: "Enrollment lifecycle operations by outcome",
	}, []string{"operation", "outcome"})

	capacityConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_conflicts_total",
		Help: "Registrations or transfers rejected because a class was full",
	})

	txRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_tx_retries_total",
		Help: "Serializable transaction retries on the enrollment paths",
	})

	notificationsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Outbound enrollment notifications by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentOps, capacityConflicts, txRetries, notificationsSent, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		enrollmentOps:     enrollmentOps,
		capacityConflicts: capacityConflicts,
		txRetries:         txRetries,
		notificationsSent: notificationsSent,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordEnrollmentOperation counts a lifecycle operation outcome.
func (m *MetricsService) RecordEnrollmentOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.enrollmentOps.WithLabelValues(operation, outcome).Inc()
}

// RecordCapacityConflict counts a rejection due to a full class.
func (m *MetricsService) RecordCapacityConflict(classID string) {
	if m == nil {
		return
	}
	m.capacityConflicts.Inc()
}

// RecordTxRetry counts a serialization retry.
func (m *MetricsService) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// RecordNotification counts a dispatched notification result.
func (m *MetricsService) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(result).Inc()
}
