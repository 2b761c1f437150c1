package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
//
// Metrics are registered lazily on first use so constructing a collector
// that is never exercised leaves the registerer untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	lookups      *prometheus.CounterVec
	malformed    prometheus.Counter
	saves        *prometheus.CounterVec
	savedEntries prometheus.Counter
	pending      prometheus.Gauge
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector. A nil reg means prometheus.DefaultRegisterer
// and an empty namespace means "chunkplace".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "chunkplace"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Chunk lookups by outcome (cached, store, fallback, error).",
		}, []string{"outcome"})

		p.malformed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "resolver",
			Name:      "malformed_records_total",
			Help:      "Replica records ignored because they do not parse.",
		})

		p.saves = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "resolver",
			Name:      "saves_total",
			Help:      "Save calls by result (success, failure).",
		}, []string{"result"})

		p.savedEntries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "resolver",
			Name:      "saved_assignments_total",
			Help:      "Fallback assignments written back to the metadata store.",
		})

		p.pending = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "resolver",
			Name:      "pending_assignments",
			Help:      "Fallback assignments not yet written back.",
		})

		p.reg.MustRegister(p.lookups, p.malformed, p.saves, p.savedEntries, p.pending)
	})
}

// RecordLookup increments the lookup counter for outcome.
func (p *PrometheusCollector) RecordLookup(outcome string) {
	p.ensureRegistered()
	p.lookups.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordMalformed(n int) {
	p.ensureRegistered()
	p.malformed.Add(float64(n))
}

// RecordSave counts a save and the entries it wrote.
func (p *PrometheusCollector) RecordSave(written int, failed bool) {
	p.ensureRegistered()
	result := "success"
	if failed {
		result = "failure"
	}
	p.saves.WithLabelValues(result).Inc()
	p.savedEntries.Add(float64(written))
}

// SetPending sets the pending assignment gauge.
func (p *PrometheusCollector) SetPending(n int) {
	p.ensureRegistered()
	p.pending.Set(float64(n))
}
