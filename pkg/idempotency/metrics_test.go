package idempotency

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMiss("stock-ledger-api", "/api/v1/usage", "POST")
	m.RecordHit("stock-ledger-api", "/api/v1/usage", "POST")
	m.RecordHit("stock-ledger-api", "/api/v1/usage", "POST")
	m.RecordMessageDeduplicationHit("stock-ledger-worker", "procurement.purchases", "procurement.purchase.verified")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("stock-ledger-api", "/api/v1/usage", "POST", outcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("stock-ledger-api", "/api/v1/usage", "POST", outcomeMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("stock-ledger-worker", "procurement.purchases", "procurement.purchase.verified", outcomeDuplicate)))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHit("svc", "/", "POST")
		m.RecordLockAcquisitionDuration("svc", "/", "POST", 0.01)
		m.RecordStorageError("svc", "store")
		m.RecordMessageDeduplicationError("svc", "topic", "type")
	})
}
