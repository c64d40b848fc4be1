package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSubmission("01", "ACCEPTED")
	m.ObserveSubmission("01", "ACCEPTED")
	m.ObserveTransportAttempt("sendBill", "transport_error", 20*time.Millisecond)
	m.ObservePoll("pending")
	m.ObserveTerminal("EXPIRED")
	m.IncrementLockContention()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("01", "ACCEPTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportAttempts.WithLabelValues("sendBill", "transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollAttempts.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TerminalDocuments.WithLabelValues("EXPIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockContention))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSubmission("01", "ACCEPTED")
		m.ObserveTransportAttempt("sendBill", "ok", time.Second)
		m.ObservePoll("pending")
		m.ObserveTerminal("ACCEPTED")
		m.IncrementLockContention()
	})
}
