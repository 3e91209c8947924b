package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_sent_total",
			Help: "Total number of messages published, by transport (count)",
		},
		[]string{"transport"},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_received_total",
			Help: "Total number of messages consumed, by transport (count)",
		},
		[]string{"transport"},
	)

	MessagesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_failed_total",
			Help: "Total number of failed publishes, by transport (count)",
		},
		[]string{"transport"},
	)

	QueueFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_queue_fallback_total",
			Help: "Total number of queue publishes that fell back to the log transport (count)",
		},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_ms",
			Help:    "Publish duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"transport"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_handler_duration_ms",
			Help:    "Message handler duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"stream", "status"},
	)

	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dispatched_total",
			Help: "Total number of events dispatched to handlers (count)",
		},
		[]string{"event_type", "status"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of events dropped during dispatch (count)",
		},
		[]string{"reason"},
	)

	HandlerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_handler_failures_total",
			Help: "Total number of event handler failures (count)",
		},
		[]string{"event_type"},
	)

	OutboxRelayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_relayed_total",
			Help: "Total number of outbox entries relayed to the broker (count)",
		},
	)

	OutboxRelayErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_relay_errors_total",
			Help: "Total number of outbox relay failures (count)",
		},
	)

	SagasStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagas_started_total",
			Help: "Total number of sagas started (count)",
		},
	)

	SagasCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagas_completed_total",
			Help: "Total number of sagas completed (count)",
		},
	)

	SagasCompensatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagas_compensated_total",
			Help: "Total number of sagas that failed and were compensated (count)",
		},
	)

	SweepRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_sweep_recovered_total",
			Help: "Total number of stuck sagas recovered by the timeout sweep (count)",
		},
	)

	ActiveSagas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sagas_active",
			Help: "Number of sagas currently in the active index (count)",
		},
	)

	SagaStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_ms",
			Help:    "Saga step execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)
)

func RegisterBrokerMetrics() {
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(MessagesFailedTotal)
	prometheus.MustRegister(QueueFallbackTotal)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(RetryAttemptsTotal)
}

func RegisterDispatcherMetrics() {
	prometheus.MustRegister(EventsDispatchedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(HandlerFailuresTotal)
	prometheus.MustRegister(OutboxRelayedTotal)
	prometheus.MustRegister(OutboxRelayErrorsTotal)
}

func RegisterSagaMetrics() {
	prometheus.MustRegister(SagasStartedTotal)
	prometheus.MustRegister(SagasCompletedTotal)
	prometheus.MustRegister(SagasCompensatedTotal)
	prometheus.MustRegister(SweepRecoveredTotal)
	prometheus.MustRegister(ActiveSagas)
	prometheus.MustRegister(SagaStepDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObservePublishDuration(transport string, duration time.Duration) {
	PublishDuration.WithLabelValues(transport).Observe(float64(duration.Milliseconds()))
}

func ObserveHandlerDuration(stream, status string, duration time.Duration) {
	HandlerDuration.WithLabelValues(stream, status).Observe(float64(duration.Milliseconds()))
}

func ObserveSagaStepDuration(service, status string, duration time.Duration) {
	SagaStepDuration.WithLabelValues(service, status).Observe(float64(duration.Milliseconds()))
}
