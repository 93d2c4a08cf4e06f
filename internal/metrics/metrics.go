package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Задержка вызовов платёжных шлюзов (секунды)
	GatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Payment gateway call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"gateway", "operation", "status"},
	)

	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total number of payment gateway retries with the same idempotency key",
		},
		[]string{"gateway", "operation"},
	)

	// Входящие вебхуки по исходу обработки
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound payment webhooks by provider and result",
		},
		[]string{"provider", "result"}, // result: processed, duplicate, ping, bad_signature, failed
	)

	DisputeLegFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispute_leg_failures_total",
			Help: "Dispute resolution legs rejected or timed out at the gateway",
		},
		[]string{"kind"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Background sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"job", "status"},
	)

	// Задержка HTTP запросов (секунды)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordGatewayCall(gateway, operation, status string, duration time.Duration) {
	GatewayCallDuration.WithLabelValues(gateway, operation, status).Observe(duration.Seconds())
}

func IncrementGatewayRetry(gateway, operation string) {
	GatewayRetries.WithLabelValues(gateway, operation).Inc()
}

func IncrementWebhook(provider, result string) {
	WebhookEvents.WithLabelValues(provider, result).Inc()
}

func IncrementDisputeLegFailure(kind string) {
	DisputeLegFailures.WithLabelValues(kind).Inc()
}

func RecordSweep(job, status string, duration time.Duration) {
	SweepDuration.WithLabelValues(job, status).Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
