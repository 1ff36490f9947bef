package internal

import "github.com/prometheus/client_golang/prometheus"

// Download and query outcomes used as metric labels.
const (
	OutcomeInstalled = "installed"
	OutcomeCached    = "cached"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeQueued    = "queued"
	OutcomeOk        = "ok"
	OutcomeError     = "error"
)

// Metrics collects engine counters. A nil *Metrics records nothing.
type Metrics struct {
	Downloads        *prometheus.CounterVec
	Queries          *prometheus.CounterVec
	PollHookRefcount prometheus.Gauge
	PendingDownloads prometheus.Gauge
	QueuedDownloads  prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gmsv_workshop",
			Name:      "downloads_total",
			Help:      "Download requests by outcome.",
		}, []string{"outcome"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gmsv_workshop",
			Name:      "queries_total",
			Help:      "Metadata queries by outcome.",
		}, []string{"outcome"}),
		PollHookRefcount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gmsv_workshop",
			Name:      "poll_hook_refcount",
			Help:      "Async operations currently holding the poll hook.",
		}),
		PendingDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gmsv_workshop",
			Name:      "pending_downloads",
			Help:      "Items dispatched to the backend and not yet installed.",
		}),
		QueuedDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gmsv_workshop",
			Name:      "queued_downloads",
			Help:      "Items waiting for the session to log on.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Downloads, m.Queries, m.PollHookRefcount, m.PendingDownloads, m.QueuedDownloads)
	}
	return m
}

func (m *Metrics) download(outcome string) {
	if m != nil {
		m.Downloads.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) query(outcome string) {
	if m != nil {
		m.Queries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) setRefcount(n uint) {
	if m != nil {
		m.PollHookRefcount.Set(float64(n))
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.PendingDownloads.Set(float64(n))
	}
}

func (m *Metrics) setQueued(n int) {
	if m != nil {
		m.QueuedDownloads.Set(float64(n))
	}
}
