package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes
const (
	outcomeHit       = "hit"
	outcomeMiss      = "miss"
	outcomeMismatch  = "mismatch"
	outcomeCollision = "collision"
)

// Message outcomes
const (
	outcomeDuplicate = "duplicate"
	outcomeProcessed = "processed"
	outcomeError     = "error"
)

// Metrics counts HTTP key replays and consumer deduplication. A nil *Metrics
// records nothing.
type Metrics struct {
	requests    *prometheus.CounterVec
	lockWait    *prometheus.HistogramVec
	storageErrs *prometheus.CounterVec
	messages    *prometheus.CounterVec
}

// NewMetrics registers the idempotency collectors on registry, or on the
// default registerer when registry is nil
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockledger",
			Subsystem: "idempotency",
			Name:      "requests_total",
			Help:      "Requests carrying an Idempotency-Key by outcome (hit, miss, mismatch, collision)",
		}, []string{"service", "endpoint", "method", "outcome"}),

		lockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockledger",
			Subsystem: "idempotency",
			Name:      "lock_acquisition_seconds",
			Help:      "Time to claim an idempotency key",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"service", "endpoint", "method"}),

		storageErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockledger",
			Subsystem: "idempotency",
			Name:      "storage_errors_total",
			Help:      "Key or message store failures by operation",
		}, []string{"service", "operation"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockledger",
			Subsystem: "idempotency",
			Name:      "messages_total",
			Help:      "Consumed messages by deduplication outcome (duplicate, processed, error)",
		}, []string{"service", "topic", "event_type", "outcome"}),
	}
}

func (m *Metrics) request(service, endpoint, method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(service, endpoint, method, outcome).Inc()
}

func (m *Metrics) message(service, topic, eventType, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(service, topic, eventType, outcome).Inc()
}

// RecordHit counts a replayed response
func (m *Metrics) RecordHit(service, endpoint, method string) {
	m.request(service, endpoint, method, outcomeHit)
}

// RecordMiss counts a key seen for the first time
func (m *Metrics) RecordMiss(service, endpoint, method string) {
	m.request(service, endpoint, method, outcomeMiss)
}

// RecordParameterMismatch counts a key reused with a different body
func (m *Metrics) RecordParameterMismatch(service, endpoint, method string) {
	m.request(service, endpoint, method, outcomeMismatch)
}

// RecordConcurrentCollision counts a key that is still being processed
func (m *Metrics) RecordConcurrentCollision(service, endpoint, method string) {
	m.request(service, endpoint, method, outcomeCollision)
}

// RecordLockAcquisitionDuration observes the seconds spent claiming a key
func (m *Metrics) RecordLockAcquisitionDuration(service, endpoint, method string, seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(service, endpoint, method).Observe(seconds)
}

func (m *Metrics) RecordStorageError(service, operation string) {
	if m == nil {
		return
	}
	m.storageErrs.WithLabelValues(service, operation).Inc()
}

func (m *Metrics) RecordMessageDeduplicationHit(service, topic, eventType string) {
	m.message(service, topic, eventType, outcomeDuplicate)
}

func (m *Metrics) RecordMessageDeduplicationMiss(service, topic, eventType string) {
	m.message(service, topic, eventType, outcomeProcessed)
}

func (m *Metrics) RecordMessageDeduplicationError(service, topic, eventType string) {
	m.message(service, topic, eventType, outcomeError)
}
