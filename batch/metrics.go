package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recording statuses used as the "status" label.
const (
	StatusWritten = "written"
	StatusSkipped = "skipped"
)

// Metrics holds the run's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Recordings    *prometheus.CounterVec
	ChunksMatched prometheus.Counter
	MatchDistance prometheus.Histogram
	TaskDuration  prometheus.Histogram
	CorpusChunks  prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainlink_recordings_total",
			Help: "Target recordings processed, by outcome",
		}, []string{"status"}),
		ChunksMatched: f.NewCounter(prometheus.CounterOpts{
			Name: "chainlink_chunks_matched_total",
			Help: "Target chunks matched against the corpus",
		}),
		MatchDistance: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainlink_match_distance",
			Help:    "Descriptor distance of accepted matches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01 to ~20
		}),
		TaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainlink_task_duration_seconds",
			Help:    "Wall time per recording",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		CorpusChunks: f.NewGauge(prometheus.GaugeOpts{
			Name: "chainlink_corpus_chunks",
			Help: "Donor chunks in the index",
		}),
	}
}

// Registry exposes the private registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes every collector in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// SetCorpusSize records the number of indexed donor chunks.
func (m *Metrics) SetCorpusSize(n int) {
	if m == nil {
		return
	}
	m.CorpusChunks.Set(float64(n))
}

func (m *Metrics) observeWritten(o Outcome, distances []float64) {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(StatusWritten).Inc()
	m.ChunksMatched.Add(float64(o.Chunks))
	for _, d := range distances {
		m.MatchDistance.Observe(d)
	}
	m.TaskDuration.Observe(o.Elapsed.Seconds())
}

func (m *Metrics) observeSkipped() {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(StatusSkipped).Inc()
}
