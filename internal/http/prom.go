package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fyrsmithlabs/agentgate/internal/services"
)

// Checkpoint outcomes recorded by the watch loop.
const (
	OutcomeCreated = "created"
	OutcomeCounted = "counted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// PromMetrics are the Prometheus collectors scraped from /metrics. Unlike the
// OTel instruments they live for the whole watch process, so cumulative
// counters are meaningful.
type PromMetrics struct {
	registry    *prometheus.Registry
	events      *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
}

// NewPromMetrics registers the watch collectors plus gauges over svc's
// markers and proof state.
func NewPromMetrics(svc services.Registry) *PromMetrics {
	reg := prometheus.NewRegistry()
	m := &PromMetrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgate",
			Subsystem: "watch",
			Name:      "events_total",
			Help:      "Settled filesystem events seen by agentgate watch.",
		}, []string{"op"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgate",
			Subsystem: "watch",
			Name:      "writes_total",
			Help:      "Writes fed to the snapshotter by outcome.",
		}, []string{"outcome"}),
	}

	activeWorkers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "agentgate",
		Name:      "active_workers",
		Help:      "Live markers in the project.",
	}, func() float64 {
		n, err := svc.Markers().Count()
		if err != nil {
			return -1
		}
		return float64(n)
	})
	releaseAllowed := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "agentgate",
		Name:      "release_allowed",
		Help:      "1 when the proof-of-work state admits a release worker.",
	}, func() float64 {
		st, _ := svc.Proof().Read()
		if st.AllowsRelease() {
			return 1
		}
		return 0
	})

	reg.MustRegister(
		m.events,
		m.checkpoints,
		activeWorkers,
		releaseAllowed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the registry served on /metrics.
func (m *PromMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEvent counts one filesystem event.
func (m *PromMetrics) ObserveEvent(op string) {
	m.events.WithLabelValues(op).Inc()
}

// ObserveWrite counts one snapshotter outcome.
func (m *PromMetrics) ObserveWrite(outcome string) {
	m.checkpoints.WithLabelValues(outcome).Inc()
}
