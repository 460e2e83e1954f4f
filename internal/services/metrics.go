package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the engine
type Metrics struct {
	// Ingestion metrics
	MemoriesIngested prometheus.Counter
	IngestDuration   prometheus.Histogram
	IngestErrors     *prometheus.CounterVec

	// Graph metrics
	Contradictions prometheus.Counter
	Supersessions  prometheus.Counter
	EdgesCreated   *prometheus.CounterVec

	// Lifecycle metrics
	MemoriesArchived *prometheus.CounterVec
	FreshnessBand    *prometheus.GaugeVec

	// Retrieval / QA metrics
	SearchRequests prometheus.Counter
	Answers        prometheus.Counter
	AnswerLatency  prometheus.Histogram

	// Oracle metrics
	OracleLatency *prometheus.HistogramVec
	OracleErrors  *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics and registers a live gauge
// for WebSocket subscribers fed from the event bus
func InitMetrics(events *EventBusService) *Metrics {
	metrics := &Metrics{
		MemoriesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engram_memories_ingested_total",
			Help: "Total number of memories ingested",
		}),

		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "engram_ingest_duration_seconds",
			Help:    "End-to-end ingestion latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}, // oracle calls dominate
		}),

		IngestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_ingest_errors_total",
			Help: "Total number of failed ingestions by error type",
		}, []string{"error_type"}),

		Contradictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engram_contradictions_total",
			Help: "Total number of contradictions detected (supersessions and flags)",
		}),

		Supersessions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engram_supersessions_total",
			Help: "Total number of memories archived by a superseding ingestion",
		}),

		EdgesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_relationships_created_total",
			Help: "Total number of relationship edges created by type",
		}, []string{"type"}),

		MemoriesArchived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_memories_archived_total",
			Help: "Total number of memories archived by reason",
		}, []string{"reason"}),

		FreshnessBand: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engram_memories_freshness_band",
			Help: "Active memories by freshness band, refreshed by the decay sweep",
		}, []string{"band"}),

		SearchRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engram_search_requests_total",
			Help: "Total number of similarity searches",
		}),

		Answers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engram_answers_total",
			Help: "Total number of questions answered",
		}),

		AnswerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "engram_answer_duration_seconds",
			Help:    "Question answering latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // generation budget is 30s
		}),

		OracleLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engram_oracle_latency_seconds",
			Help:    "Upstream oracle latency in seconds by role",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"oracle"}),

		OracleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_oracle_errors_total",
			Help: "Total number of oracle failures by role",
		}, []string{"oracle"}),
	}

	if events != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "engram_event_subscribers_current",
				Help: "Current number of connected event stream subscribers",
			},
			func() float64 {
				return float64(events.TotalSubscribers())
			},
		))
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance; nil before InitMetrics
// (tests run without metrics)
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordIngest records one completed ingestion
func (m *Metrics) RecordIngest(seconds float64) {
	if m == nil {
		return
	}
	m.MemoriesIngested.Inc()
	m.IngestDuration.Observe(seconds)
}

// RecordIngestError records a failed ingestion
func (m *Metrics) RecordIngestError(errorType string) {
	if m == nil {
		return
	}
	m.IngestErrors.WithLabelValues(errorType).Inc()
}

// RecordContradiction records a detected contradiction; superseded marks the
// ones that archived their target
func (m *Metrics) RecordContradiction(superseded bool) {
	if m == nil {
		return
	}
	m.Contradictions.Inc()
	if superseded {
		m.Supersessions.Inc()
	}
}

// RecordEdge records one created relationship edge
func (m *Metrics) RecordEdge(relType string) {
	if m == nil {
		return
	}
	m.EdgesCreated.WithLabelValues(relType).Inc()
}

// RecordArchive records one archived memory
func (m *Metrics) RecordArchive(reason string) {
	if m == nil {
		return
	}
	m.MemoriesArchived.WithLabelValues(reason).Inc()
}

// SetFreshnessBands publishes the decay sweep's survey
func (m *Metrics) SetFreshnessBands(buckets *FreshnessBuckets) {
	if m == nil || buckets == nil {
		return
	}
	m.FreshnessBand.WithLabelValues("fresh").Set(float64(buckets.Fresh))
	m.FreshnessBand.WithLabelValues("aging").Set(float64(buckets.Aging))
	m.FreshnessBand.WithLabelValues("stale").Set(float64(buckets.Stale))
	m.FreshnessBand.WithLabelValues("expired").Set(float64(buckets.Expired))
}

// RecordSearch records one similarity search
func (m *Metrics) RecordSearch() {
	if m == nil {
		return
	}
	m.SearchRequests.Inc()
}

// RecordAnswer records one answered question
func (m *Metrics) RecordAnswer(seconds float64) {
	if m == nil {
		return
	}
	m.Answers.Inc()
	m.AnswerLatency.Observe(seconds)
}

// RecordOracleCall records one oracle round trip
func (m *Metrics) RecordOracleCall(oracle string, seconds float64) {
	if m == nil {
		return
	}
	m.OracleLatency.WithLabelValues(oracle).Observe(seconds)
}

// RecordOracleError records one oracle failure
func (m *Metrics) RecordOracleError(oracle string) {
	if m == nil {
		return
	}
	m.OracleErrors.WithLabelValues(oracle).Inc()
}
