// Package metrics exposes per-run pipeline counters in Prometheus form. A batch run
// has no scrape endpoint, so the counters are written to a node_exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neilberkman/healthprep/internal/core/models"
)

const namespace = "healthprep"

// Skip reasons recorded by RecordSkipped.
const (
	SkipMissingType  = "missing_type"
	SkipBadDate      = "bad_start_date"
	SkipUnclassified = "unclassified"
)

// Metrics holds the counters for one run. Each instance owns its registry so runs
// (and tests) never collide on global registration.
type Metrics struct {
	registry *prometheus.Registry

	elementsRead   prometheus.Counter
	recordsRouted  *prometheus.CounterVec
	recordsSkipped *prometheus.CounterVec
	batchFlushes   *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	runDuration    prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// New creates and registers a fresh set of run counters.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		elementsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "elements_read_total",
			Help:      "Number of Record and Workout elements read from the export.",
		}),
		recordsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_routed_total",
			Help:      "Number of records routed to a category table.",
		}, []string{"category"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_skipped_total",
			Help:      "Number of elements not routed to any table, by reason.",
		}, []string{"reason"}),
		batchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "batch_flushes_total",
			Help:      "Number of batches appended to category tables.",
		}, []string{"category"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rows_written_total",
			Help:      "Number of rows appended to category tables.",
		}, []string{"category"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last run that wrote metadata.",
		}),
	}

	m.registry.MustRegister(
		m.elementsRead,
		m.recordsRouted,
		m.recordsSkipped,
		m.batchFlushes,
		m.rowsWritten,
		m.runDuration,
		m.lastSuccess,
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordElement() {
	m.elementsRead.Inc()
}

func (m *Metrics) RecordRouted(cat models.Category) {
	m.recordsRouted.WithLabelValues(string(cat)).Inc()
}

func (m *Metrics) RecordSkipped(reason string) {
	m.recordsSkipped.WithLabelValues(reason).Inc()
}

// RecordFlush matches batch.FlushFunc.
func (m *Metrics) RecordFlush(cat models.Category, rows int) {
	m.batchFlushes.WithLabelValues(string(cat)).Inc()
	m.rowsWritten.WithLabelValues(string(cat)).Add(float64(rows))
}

func (m *Metrics) RecordDuration(d time.Duration) {
	m.runDuration.Set(d.Seconds())
}

func (m *Metrics) RecordSuccess(ts time.Time) {
	if ts.IsZero() {
		return
	}
	m.lastSuccess.Set(float64(ts.Unix()))
}

// WriteTextfile writes every counter to path in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
