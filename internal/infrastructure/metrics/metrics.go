package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the submission engine's instruments. A nil *Metrics is a no-op.
type Metrics struct {
	Submissions       *prometheus.CounterVec
	TransportAttempts *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	PollAttempts      *prometheus.CounterVec
	TerminalDocuments *prometheus.CounterVec
	LockContention    prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunat_submissions_total",
			Help: "Submit calls by document kind and outcome",
		}, []string{"kind", "outcome"}),
		TransportAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunat_transport_attempts_total",
			Help: "SOAP attempts against billService by operation and result",
		}, []string{"operation", "result"}),
		TransportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sunat_transport_duration_seconds",
			Help:    "Duration of single SOAP attempts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		PollAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunat_poll_attempts_total",
			Help: "getStatus polls by result",
		}, []string{"result"}),
		TerminalDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunat_documents_terminal_total",
			Help: "Documents reaching a terminal state",
		}, []string{"state"}),
		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "sunat_lock_contention_total",
			Help: "Submit or poll calls rejected because the document was locked",
		}),
	}
}

func (m *Metrics) ObserveSubmission(kind, outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) ObserveTransportAttempt(operation, result string, d time.Duration) {
	if m != nil {
		m.TransportAttempts.WithLabelValues(operation, result).Inc()
		m.TransportDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) ObservePoll(result string) {
	if m != nil {
		m.PollAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveTerminal(state string) {
	if m != nil {
		m.TerminalDocuments.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) IncrementLockContention() {
	if m != nil {
		m.LockContention.Inc()
	}
}
