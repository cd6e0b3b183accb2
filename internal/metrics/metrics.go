// Package metrics provides Prometheus instrumentation for ledgerpack runs.
//
// The tool is a batch process, so metrics live on a private registry that is
// written once in textfile-collector format at exit instead of being served.
// Every method is safe on a nil *Metrics, which disables collection.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledgerpack"

// Metrics is the set of collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	// EventsTotal counts apply outcomes (APPLIED, SKIPPED_DUPLICATE, CONFLICT).
	EventsTotal *prometheus.CounterVec

	// JournalEntriesTotal counts committed journal entries by kind.
	JournalEntriesTotal *prometheus.CounterVec

	// BundlesBuilt counts bundles written, by contract version.
	BundlesBuilt *prometheus.CounterVec

	// BundleEvents observes the event count of each built bundle.
	BundleEvents prometheus.Histogram

	// ValidationsTotal counts validator runs by result and reason code.
	ValidationsTotal *prometheus.CounterVec

	// ComparesTotal counts runner outcomes by exit code.
	ComparesTotal *prometheus.CounterVec

	// DataRefsTotal counts market-data resolutions by status.
	DataRefsTotal *prometheus.CounterVec

	// SinkRetriesTotal counts retried artifact writes.
	SinkRetriesTotal prometheus.Counter

	// EventsIngested counts events inserted into the event store.
	EventsIngested prometheus.Counter
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events applied to a ledger engine, by outcome",
		}, []string{"outcome"}),
		JournalEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_entries_total",
			Help:      "Journal entries committed, by kind",
		}, []string{"kind"}),
		BundlesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_built_total",
			Help:      "Replay bundles written, by contract version",
		}, []string{"contract_version"}),
		BundleEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_events",
			Help:      "Number of events per built bundle",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Bundle validations, by result and reason code",
		}, []string{"result", "code"}),
		ComparesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compares_total",
			Help:      "Replay comparisons, by exit code",
		}, []string{"exit_code"}),
		DataRefsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_refs_total",
			Help:      "Market-data reference resolutions, by status",
		}, []string{"status"}),
		SinkRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_retries_total",
			Help:      "Artifact writes retried after a sink failure",
		}),
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events inserted into the event store",
		}),
	}

	m.registry.MustRegister(
		m.EventsTotal,
		m.JournalEntriesTotal,
		m.BundlesBuilt,
		m.BundleEvents,
		m.ValidationsTotal,
		m.ComparesTotal,
		m.DataRefsTotal,
		m.SinkRetriesTotal,
		m.EventsIngested,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Event records one apply outcome.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(outcome).Inc()
}

// JournalEntry records one committed entry.
func (m *Metrics) JournalEntry(kind string) {
	if m == nil {
		return
	}
	m.JournalEntriesTotal.WithLabelValues(kind).Inc()
}

// BundleBuilt records a written bundle.
func (m *Metrics) BundleBuilt(contractVersion, events int) {
	if m == nil {
		return
	}
	m.BundlesBuilt.WithLabelValues(strconv.Itoa(contractVersion)).Inc()
	m.BundleEvents.Observe(float64(events))
}

// Validation records a validator result. code is empty on success.
func (m *Metrics) Validation(code string) {
	if m == nil {
		return
	}
	result := "pass"
	if code != "" {
		result = "fail"
	}
	m.ValidationsTotal.WithLabelValues(result, code).Inc()
}

// Compare records a runner exit code.
func (m *Metrics) Compare(exitCode int) {
	if m == nil {
		return
	}
	m.ComparesTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// DataRef records one reference resolution status.
func (m *Metrics) DataRef(status string) {
	if m == nil {
		return
	}
	m.DataRefsTotal.WithLabelValues(status).Inc()
}

// SinkRetry records one retried write.
func (m *Metrics) SinkRetry() {
	if m == nil {
		return
	}
	m.SinkRetriesTotal.Inc()
}

// Ingested records n events inserted into the store.
func (m *Metrics) Ingested(n int) {
	if m == nil {
		return
	}
	m.EventsIngested.Add(float64(n))
}

// WriteTextfile writes the registry to path in the node-exporter textfile
// format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
