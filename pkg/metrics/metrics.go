package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Kafka metrics
	kafkaMessagesPublished *prometheus.CounterVec
	kafkaMessagesConsumed  *prometheus.CounterVec
	kafkaPublishDuration   *prometheus.HistogramVec
	kafkaConsumerLag       *prometheus.GaugeVec

	// MongoDB metrics
	mongoOperationsTotal   *prometheus.CounterVec
	mongoOperationDuration *prometheus.HistogramVec

	// Temporal activity metrics
	activitiesTotal  *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec

	// Ledger metrics
	ledgerAppendsTotal     *prometheus.CounterVec
	ledgerQuantityTotal    *prometheus.CounterVec
	insufficientStockTotal *prometheus.CounterVec
	transferDecisionsTotal *prometheus.CounterVec
	duplicateCreditsTotal  *prometheus.CounterVec
	guardWaitDuration      *prometheus.HistogramVec

	// Outbox and circuit breaker metrics are nil-safe as well.

// Outbox metrics
	outboxPending        prometheus.Gauge
	outboxPublishedTotal *prometheus.CounterVec
	outboxPublishLatency prometheus.Histogram
	outboxRetriesTotal   *prometheus.CounterVec

	// Circuit breaker metrics
	circuitBreakerState *prometheus.GaugeVec
	circuitBreakerTrips *prometheus.CounterVec
}

// Config holds configuration for metrics
type Config struct {
	ServiceName string
	Namespace   string
	Subsystem   string
}

// DefaultConfig returns a default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "stockledger",
		Subsystem:   "",
	}
}

// New creates a new Metrics instance with its own registry
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"service": config.ServiceName}

	m := &Metrics{
		registry: registry,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   "http",
				Name:        "request_duration_seconds",
				Help:        "HTTP request duration in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Subsystem:   "http",
				Name:        "requests_in_flight",
				Help:        "Current number of HTTP requests being processed",
				ConstLabels: constLabels,
			},
		),

		kafkaMessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "kafka",
				Name:        "messages_published_total",
				Help:        "Total number of Kafka messages published",
				ConstLabels: constLabels,
			},
			[]string{"topic", "event_type", "status"},
		),
		kafkaMessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "kafka",
				Name:        "messages_consumed_total",
				Help:        "Total number of Kafka messages consumed",
				ConstLabels: constLabels,
			},
			[]string{"topic", "event_type", "status"},
		),
		kafkaPublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   "kafka",
				Name:        "publish_duration_seconds",
				Help:        "Kafka publish duration in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"topic"},
		),
		kafkaConsumerLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Subsystem:   "kafka",
				Name:        "consumer_lag",
				Help:        "Kafka consumer lag",
				ConstLabels: constLabels,
			},
			[]string{"topic", "partition"},
		),

		mongoOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "mongodb",
				Name:        "operations_total",
				Help:        "Total number of MongoDB operations",
				ConstLabels: constLabels,
			},
			[]string{"collection", "operation", "status"},
		),
		mongoOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   "mongodb",
				Name:        "operation_duration_seconds",
				Help:        "MongoDB operation duration in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"collection", "operation"},
		),

		activitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "temporal",
				Name:        "activities_total",
				Help:        "Total number of Temporal activities executed",
				ConstLabels: constLabels,
			},
			[]string{"activity_type", "status"},
		),
		activityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   "temporal",
				Name:        "activity_duration_seconds",
				Help:        "Temporal activity duration in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"activity_type"},
		),

		ledgerAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "ledger",
				Name:        "entries_appended_total",
				Help:        "Total number of ledger entries committed",
				ConstLabels: constLabels,
			},
			[]string{"kind"},
		),
		ledgerQuantityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "ledger",
				Name:        "quantity_total",
				Help:        "Absolute quantity moved by committed ledger entries",
				ConstLabels: constLabels,
			},
			[]string{"kind"},
		),
		insufficientStockTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "ledger",
				Name:        "insufficient_stock_total",
				Help:        "Debits refused because the balance was too low",
				ConstLabels: constLabels,
			},
			[]string{"operation"},
		),
		transferDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "transfers",
				Name:        "decisions_total",
				Help:        "Transfer requests by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		duplicateCreditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "ledger",
				Name:        "duplicate_credits_total",
				Help:        "Replenishment credits ignored because the source was already credited",
				ConstLabels: constLabels,
			},
			[]string{"kind"},
		),
		guardWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   "guard",
				Name:        "lock_wait_seconds",
				Help:        "Time spent waiting for stock key locks",
				ConstLabels: constLabels,
				Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),

		outboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Subsystem:   "outbox",
				Name:        "pending_events",
				Help:        "Outbox events waiting to be published",
				ConstLabels: constLabels,
			},
		),
		outboxPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "outbox",
				Name:        "published_total",
				Help:        "Outbox events published",
				ConstLabels: constLabels,
			},
			[]string{"event_type", "status"},
		),
		outboxPublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   "outbox",
				Name:        "publish_duration_seconds",
				Help:        "Outbox publish duration in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		outboxRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "outbox",
				Name:        "retries_total",
				Help:        "Outbox publish retries",
				ConstLabels: constLabels,
			},
			[]string{"event_type"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Subsystem:   "circuit_breaker",
				Name:        "state",
				Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open)",
				ConstLabels: constLabels,
			},
			[]string{"name"},
		),
		circuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   "circuit_breaker",
				Name:        "trips_total",
				Help:        "Total number of circuit breaker trips",
				ConstLabels: constLabels,
			},
			[]string{"name"},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.kafkaMessagesPublished,
		m.kafkaMessagesConsumed,
		m.kafkaPublishDuration,
		m.kafkaConsumerLag,
		m.mongoOperationsTotal,
		m.mongoOperationDuration,
		m.activitiesTotal,
		m.activityDuration,
		m.ledgerAppendsTotal,
		m.ledgerQuantityTotal,
		m.insufficientStockTotal,
		m.transferDecisionsTotal,
		m.duplicateCreditsTotal,
		m.guardWaitDuration,
		m.outboxPending,
		m.outboxPublishedTotal,
		m.outboxPublishLatency,
		m.outboxRetriesTotal,
		m.circuitBreakerState,
		m.circuitBreakerTrips,
	)

	return m
}

// Handler returns the HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTP metrics

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// Kafka metrics

// RecordKafkaPublish records a Kafka publish
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	m.kafkaMessagesPublished.WithLabelValues(topic, eventType, statusLabel(success)).Inc()
	m.kafkaPublishDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordKafkaConsume records a Kafka consume
func (m *Metrics) RecordKafkaConsume(topic, eventType string, success bool) {
	m.kafkaMessagesConsumed.WithLabelValues(topic, eventType, statusLabel(success)).Inc()
}

// SetKafkaConsumerLag sets the Kafka consumer lag
func (m *Metrics) SetKafkaConsumerLag(topic string, partition int, lag int64) {
	m.kafkaConsumerLag.WithLabelValues(topic, strconv.Itoa(partition)).Set(float64(lag))
}

// MongoDB metrics

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration) {
	m.mongoOperationsTotal.WithLabelValues(collection, operation, statusLabel(success)).Inc()
	m.mongoOperationDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// Temporal metrics

// RecordActivityCompleted records an activity execution
func (m *Metrics) RecordActivityCompleted(activityType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.activitiesTotal.WithLabelValues(activityType, statusLabel(success)).Inc()
	m.activityDuration.WithLabelValues(activityType).Observe(duration.Seconds())
}

// Ledger metrics. These are nil-safe so that services can run without metrics in tests.

// RecordLedgerAppend records a committed ledger entry
func (m *Metrics) RecordLedgerAppend(kind string, quantity int64) {
	if m == nil {
		return
	}
	m.ledgerAppendsTotal.WithLabelValues(kind).Inc()
	m.ledgerQuantityTotal.WithLabelValues(kind).Add(float64(quantity))
}

// RecordInsufficientStock records a refused debit
func (m *Metrics) RecordInsufficientStock(operation string) {
	if m == nil {
		return
	}
	m.insufficientStockTotal.WithLabelValues(operation).Inc()
}

// RecordTransferDecision records a transfer request, approval or rejection
func (m *Metrics) RecordTransferDecision(outcome string) {
	if m == nil {
		return
	}
	m.transferDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDuplicateCredit records an idempotent replay of a replenishment credit
func (m *Metrics) RecordDuplicateCredit(kind string) {
	if m == nil {
		return
	}
	m.duplicateCreditsTotal.WithLabelValues(kind).Inc()
}

// ObserveLockWait records how long a guard acquisition waited
func (m *Metrics) ObserveLockWait(outcome string, wait time.Duration) {
	if m == nil {
		return
	}
	m.guardWaitDuration.WithLabelValues(outcome).Observe(wait.Seconds())
}

// Outbox and circuit breaker metrics are nil-safe as well.

// Outbox metrics

// SetOutboxPending sets the number of pending outbox events
func (m *Metrics) SetOutboxPending(count int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(count))
}

// RecordOutboxPublish records an outbox publish attempt
func (m *Metrics) RecordOutboxPublish(eventType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.outboxPublishedTotal.WithLabelValues(eventType, statusLabel(success)).Inc()
	m.outboxPublishLatency.Observe(duration.Seconds())
}

// RecordOutboxRetry records an outbox retry
func (m *Metrics) RecordOutboxRetry(eventType string) {
	if m == nil {
		return
	}
	m.outboxRetriesTotal.WithLabelValues(eventType).Inc()
}

// Circuit breaker metrics

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	if m == nil {
		return
	}
	m.circuitBreakerTrips.WithLabelValues(name).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
