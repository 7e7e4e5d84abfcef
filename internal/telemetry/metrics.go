package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	CourierErrors     *prometheus.CounterVec
	CourierAttempts   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	WebhooksTotal     *prometheus.CounterVec
	WebhooksRejected  *prometheus.CounterVec
	TrackingCacheHits *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_requests_total",
				Help: "Total number of courier operations by operation, courier, and status",
			},
			[]string{"operation", "courier", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_request_duration_seconds",
				Help:    "Courier operation duration in seconds by operation and courier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "courier"},
		),
		CourierErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_errors_total",
				Help: "Total courier API errors by courier and error code",
			},
			[]string{"courier", "error_code"},
		),
		CourierAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_http_attempts_total",
				Help: "Outbound HTTP attempts to courier APIs by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "courier_circuit_breaker_open",
				Help: "Whether the circuit breaker for a courier is currently open (1) or not (0)",
			},
			[]string{"courier"},
		),
		WebhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_webhooks_total",
				Help: "Total webhook deliveries received by courier",
			},
			[]string{"courier"},
		),
		WebhooksRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_webhooks_rejected_total",
				Help: "Webhook deliveries rejected by courier and reason",
			},
			[]string{"courier", "reason"},
		),
		TrackingCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_tracking_cache_total",
				Help: "Tracking cache lookups by outcome (hit or miss)",
			},
			[]string{"outcome"},
		),
	}
}

// RecordRequest records a courier operation metric.
func (m *Metrics) RecordRequest(operation, courier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, courier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, courier).Observe(duration)
}

// RecordError records a courier error metric.
func (m *Metrics) RecordError(courier, errorCode string) {
	m.CourierErrors.WithLabelValues(courier, errorCode).Inc()
}

// RecordWebhook records a received webhook, with reason set for rejections.
func (m *Metrics) RecordWebhook(courier, reason string) {
	m.WebhooksTotal.WithLabelValues(courier).Inc()
	if reason != "" {
		m.WebhooksRejected.WithLabelValues(courier, reason).Inc()
	}
}

// SetBreakerOpen records whether a courier's circuit is open.
func (m *Metrics) SetBreakerOpen(courier string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.BreakerState.WithLabelValues(courier).Set(v)
}

// RecordCacheLookup records a tracking cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.TrackingCacheHits.WithLabelValues(outcome).Inc()
}

// ObserveAttempt implements the transport attempt observer.
func (m *Metrics) ObserveAttempt(method, url string, statusCode, attempt int, err error) {
	outcome := "success"
	switch {
	case err != nil:
		outcome = "connection_error"
	case statusCode >= 500:
		outcome = "server_error"
	case statusCode >= 400:
		outcome = "client_error"
	}
	m.CourierAttempts.WithLabelValues(method, outcome).Inc()
}
