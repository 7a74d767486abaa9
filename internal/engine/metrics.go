package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "flocksync"

// Metrics is a Hook that turns engine events into Prometheus series.
type Metrics struct {
	hydrations    *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	filtered      prometheus.Counter
	metaWrites    *prometheus.CounterVec
	stateRecords  prometheus.Gauge
	stateVersion  prometheus.Gauge
	tombstoned    prometheus.Counter
	sessionSwitch prometheus.Counter
}

// NewMetrics registers the engine series with reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		hydrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hydrations_total",
			Help:      "Hydration runs by outcome",
		}, []string{"outcome"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mutations_total",
			Help:      "Mutations by operation and result",
		}, []string{"op", "result"}),
		filtered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "filtered_records_total",
			Help:      "Fetched records hidden by a tombstone or suppression entry",
		}),
		metaWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "meta_writes_total",
			Help:      "Meta record writes by result",
		}, []string{"result"}),
		stateRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state_records",
			Help:      "Records in the in-memory collection after the last applied hydration",
		}),
		stateVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state_version",
			Help:      "Current update counter",
		}),
		tombstoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tombstones_total",
			Help:      "Deletions marked in the tombstone cache",
		}),
		sessionSwitch: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_changes_total",
			Help:      "Active strategy swaps",
		}),
	}
}

func (m *Metrics) Emit(ev Event) {
	switch ev.Kind {
	case EventHydrateApplied:
		m.hydrations.WithLabelValues(OutcomeDataSet.String()).Inc()
		m.stateRecords.Set(float64(ev.Count))
	case EventHydrateEmpty:
		m.hydrations.WithLabelValues(OutcomeEmptySet.String()).Inc()
	case EventHydrateNoData:
		m.hydrations.WithLabelValues(OutcomeNoData.String()).Inc()
	case EventHydrateDiscarded:
		m.hydrations.WithLabelValues("discarded").Inc()
	case EventRecordsFiltered:
		m.filtered.Add(float64(ev.Count))
	case EventRecordTombstoned:
		m.tombstoned.Inc()
	case EventMetaPersisted:
		m.metaWrites.WithLabelValues("ok").Inc()
	case EventMetaFailed:
		m.metaWrites.WithLabelValues("error").Inc()
	case EventMutationApplied:
		m.mutations.WithLabelValues(ev.Op, "ok").Inc()
		m.stateVersion.Set(float64(ev.Version))
	case EventMutationFailed:
		m.mutations.WithLabelValues(ev.Op, "error").Inc()
	case EventSessionChanged:
		m.sessionSwitch.Inc()
	}
}
