package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the Prometheus instruments for the backend. A single
// instance is created at startup and threaded through the components.
type Metrics struct {
	ToolInvocations *prometheus.CounterVec
	ToolLatency     *prometheus.HistogramVec
	TurnsProcessed  *prometheus.CounterVec
	TurnLatency     prometheus.Histogram
	RAGQueries      prometheus.Counter
	RAGIngests      prometheus.Counter
	RAGChunks       prometheus.Gauge
}

// NewMetrics registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesagent_tool_invocations_total",
			Help: "Tool server invocations by server, operation and outcome.",
		}, []string{"server", "operation", "outcome"}),

		ToolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "salesagent_tool_latency_seconds",
			Help:    "Tool server invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),

		TurnsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesagent_turns_total",
			Help: "Conversation turns processed by outcome.",
		}, []string{"outcome"}),

		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesagent_turn_latency_seconds",
			Help:    "End-to-end turn processing latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		RAGQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "salesagent_rag_queries_total",
			Help: "RAG retrieval queries served.",
		}),

		RAGIngests: factory.NewCounter(prometheus.CounterOpts{
			Name: "salesagent_rag_ingests_total",
			Help: "Documents ingested into the RAG index.",
		}),

		RAGChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "salesagent_rag_chunks",
			Help: "Chunks currently in the RAG index.",
		}),
	}
}

// RecordToolInvocation records one invocation outcome.
func (m *Metrics) RecordToolInvocation(server, operation string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ToolInvocations.WithLabelValues(server, operation, outcome).Inc()
	m.ToolLatency.WithLabelValues(server).Observe(latency.Seconds())
}

// RecordTurn records one processed turn.
func (m *Metrics) RecordTurn(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.TurnsProcessed.WithLabelValues(outcome).Inc()
	m.TurnLatency.Observe(latency.Seconds())
}

// RecordRAGQuery counts one retrieval query.
func (m *Metrics) RecordRAGQuery() {
	if m == nil {
		return
	}
	m.RAGQueries.Inc()
}

// RecordRAGIngest counts one ingested document and updates the chunk gauge.
func (m *Metrics) RecordRAGIngest(totalChunks int) {
	if m == nil {
		return
	}
	m.RAGIngests.Inc()
	m.RAGChunks.Set(float64(totalChunks))
}

// RAGChunksSet updates the chunk gauge.
func (m *Metrics) RAGChunksSet(totalChunks int) {
	if m == nil {
		return
	}
	m.RAGChunks.Set(float64(totalChunks))
}
