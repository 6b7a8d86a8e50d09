// Package metrics exposes Prometheus instrumentation for the memory pool.
package metrics

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the pool's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Writes          *prometheus.CounterVec
	Reads           *prometheus.CounterVec
	ConflictsFound  *prometheus.CounterVec
	Resolutions     *prometheus.CounterVec
	EntriesExpired  prometheus.Counter
	EntriesArchived prometheus.Counter
	WorkerCycles    *prometheus.CounterVec
	WorkerErrors    *prometheus.CounterVec
	WriteDuration   prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_writes_total",
			Help: "Writes by outcome.",
		}, []string{"outcome"}), // applied | conflict_pending | permission_denied | error
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_reads_total",
			Help: "Reads by status.",
		}, []string{"status"}),
		ConflictsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_conflicts_detected_total",
			Help: "Conflicts opened, by detection path.",
		}, []string{"type"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_resolutions_total",
			Help: "Conflict resolution attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		EntriesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_entries_expired_total",
			Help: "Entries flipped to expired.",
		}),
		EntriesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_entries_archived_total",
			Help: "Expired entries flipped to archived.",
		}),
		WorkerCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_worker_cycles_total",
			Help: "Completed background worker cycles.",
		}, []string{"worker"}),
		WorkerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_worker_errors_total",
			Help: "Background worker cycle errors.",
		}, []string{"worker"}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "consensus_write_duration_seconds",
			Help:    "Write latency including lock wait.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.Writes, m.Reads, m.ConflictsFound, m.Resolutions,
		m.EntriesExpired, m.EntriesArchived,
		m.WorkerCycles, m.WorkerErrors, m.WriteDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WritePrometheus writes the text exposition format to w.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Write(outcome string) {
	if m != nil {
		m.Writes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Read(status string) {
	if m != nil {
		m.Reads.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ConflictDetected(kind string) {
	if m != nil {
		m.ConflictsFound.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Resolution(strategy, result string) {
	if m != nil {
		m.Resolutions.WithLabelValues(strategy, result).Inc()
	}
}

func (m *Metrics) Expired(n int) {
	if m != nil && n > 0 {
		m.EntriesExpired.Add(float64(n))
	}
}

func (m *Metrics) Archived(n int) {
	if m != nil && n > 0 {
		m.EntriesArchived.Add(float64(n))
	}
}

func (m *Metrics) WorkerCycle(worker string, err error) {
	if m == nil {
		return
	}
	m.WorkerCycles.WithLabelValues(worker).Inc()
	if err != nil {
		m.WorkerErrors.WithLabelValues(worker).Inc()
	}
}

func (m *Metrics) ObserveWrite(seconds float64) {
	if m != nil {
		m.WriteDuration.Observe(seconds)
	}
}
