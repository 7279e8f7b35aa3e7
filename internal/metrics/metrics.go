package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "threatdna"

// Metrics holds all the Prometheus metrics for batch runs
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RowsTotal         prometheus.Counter
	RecordsDropped    *prometheus.CounterVec
	InvalidFields     *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	RuleSkipped       *prometheus.CounterVec
	PatternsLast      prometheus.Gauge
	ConsistencyErrors prometheus.Counter
	RunDuration       prometheus.Histogram
	SinkPublishErrors *prometheus.CounterVec
}

// NewMetrics registers every collector on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of batch runs by outcome",
		}, []string{"outcome"}),
		RowsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of input rows read",
		}),
		RecordsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records excluded from a stage",
		}, []string{"stage"}),
		InvalidFields: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_fields_total",
			Help:      "Mapped field values that failed to parse",
		}, []string{"field"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by rule",
		}, []string{"rule"}),
		RuleSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_skipped_records_total",
			Help:      "Records a rule skipped for missing or malformed values",
		}, []string{"rule"}),
		PatternsLast: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "patterns",
			Help:      "Distinct behaviour patterns found by the last run",
		}),
		ConsistencyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_violations_total",
			Help:      "Fingerprints that hashed to more than one DNA",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a batch run",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		SinkPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_errors_total",
			Help:      "Alert sink publish failures",
		}, []string{"sink"}),
	}
}

// Nop returns metrics registered on a throwaway registry
func Nop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// IncrementSinkErrors increments the publish error counter for sink
func (m *Metrics) IncrementSinkErrors(sink string) {
	m.SinkPublishErrors.WithLabelValues(sink).Inc()
}
