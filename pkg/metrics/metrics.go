// Package metrics holds the Prometheus collectors for answering and corpus
// ingestion, registered on a private registry and served at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AnswerBuckets are the answer latency buckets (in seconds). Generated
// answers involve two model calls and land in the upper range.
var AnswerBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics is the set of collectors the service exports.
type Metrics struct {
	reg *prometheus.Registry

	answers       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	answerLatency prometheus.Histogram
	ingestRuns    *prometheus.CounterVec
	ingested      prometheus.Counter
	indexSize     prometheus.Gauge
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finqa_answers_total",
			Help: "Answers returned, by terminal outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finqa_answer_failures_total",
			Help: "Questions that failed, by error kind.",
		}, []string{"kind"}),
		answerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finqa_answer_duration_seconds",
			Help:    "End-to-end answer latency.",
			Buckets: AnswerBuckets,
		}),
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finqa_ingest_runs_total",
			Help: "Corpus load attempts, by result.",
		}, []string{"result"}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finqa_ingested_vectors_total",
			Help: "Question vectors written to the index.",
		}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finqa_index_vectors",
			Help: "Vectors in the similarity index at last check.",
		}),
	}
	reg.MustRegister(
		m.answers, m.failures, m.answerLatency,
		m.ingestRuns, m.ingested, m.indexSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAnswer records a successful answer.
func (m *Metrics) ObserveAnswer(outcome string, elapsed time.Duration) {
	m.answers.WithLabelValues(outcome).Inc()
	m.answerLatency.Observe(elapsed.Seconds())
}

// ObserveFailure records a failed question.
func (m *Metrics) ObserveFailure(kind string, elapsed time.Duration) {
	m.failures.WithLabelValues(kind).Inc()
	m.answerLatency.Observe(elapsed.Seconds())
}

// ObserveIngest records one corpus load. result is "inserted", "skipped"
// or "failed".
func (m *Metrics) ObserveIngest(result string, inserted int) {
	m.ingestRuns.WithLabelValues(result).Inc()
	m.ingested.Add(float64(inserted))
}

// SetIndexSize records the current vector count.
func (m *Metrics) SetIndexSize(n int) {
	m.indexSize.Set(float64(n))
}

// Handler returns an http.Handler serving the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
