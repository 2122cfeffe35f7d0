package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the learning loop
type Metrics struct {
	// Telemetry metrics
	RecordsIngested *prometheus.CounterVec
	RecordsRejected prometheus.Counter
	RecordsEvicted  prometheus.Counter

	// Learning metrics
	PatternsDetected   *prometheus.CounterVec
	AdaptationsTotal   *prometheus.CounterVec
	ActiveBehaviors    prometheus.Gauge
	InsightsGenerated  *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	LearningAggregates *prometheus.GaugeVec

	// Tick metrics
	TickDuration *prometheus.HistogramVec
	TicksTotal   *prometheus.CounterVec
	TicksSkipped *prometheus.CounterVec

	// System metrics
	PredictionCacheHits   prometheus.Counter
	PredictionCacheMisses prometheus.Counter
	EventsPublished       *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			// Telemetry metrics
			RecordsIngested: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_records_ingested_total",
					Help: "Total number of performance records ingested",
				},
				[]string{"agent_type"},
			),
			RecordsRejected: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loomlearn_records_rejected_total",
					Help: "Total number of performance records rejected by validation",
				},
			),
			RecordsEvicted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loomlearn_records_evicted_total",
					Help: "Total number of records evicted from per-agent buffers",
				},
			),

			// Learning metrics
			PatternsDetected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_patterns_detected_total",
					Help: "Total number of learning patterns detected",
				},
				[]string{"kind", "source"},
			),
			AdaptationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_adaptations_total",
					Help: "Total number of adaptation actions dispatched",
				},
				[]string{"action", "success"},
			),
			ActiveBehaviors: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "loomlearn_active_behaviors",
					Help: "Number of agents with an adaptive behavior state",
				},
			),
			InsightsGenerated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_insights_generated_total",
					Help: "Total number of insights generated",
				},
				[]string{"type", "severity"},
			),
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_decisions_total",
					Help: "Total number of decisions made",
				},
				[]string{"type", "result"},
			),
			LearningAggregates: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "loomlearn_learning_metric",
					Help: "Aggregated learning metrics computed by the slow tick",
				},
				[]string{"metric"},
			),

			// Tick metrics
			TickDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loomlearn_tick_duration_seconds",
					Help:    "Duration of learning ticks in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~260s
				},
				[]string{"tick"},
			),
			TicksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_ticks_total",
					Help: "Total number of finished learning ticks",
				},
				[]string{"tick", "result"},
			),
			TicksSkipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_ticks_skipped_total",
					Help: "Ticks skipped because the previous tick was still running",
				},
				[]string{"tick"},
			),

			// System metrics
			PredictionCacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loomlearn_prediction_cache_hits_total",
					Help: "Total number of prediction cache hits",
				},
			),
			PredictionCacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loomlearn_prediction_cache_misses_total",
					Help: "Total number of prediction cache misses",
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_events_published_total",
					Help: "Total number of events published to the message bus",
				},
				[]string{"event_type"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loomlearn_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loomlearn_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})
	return sharedMetrics
}

// RecordIngest counts an accepted record.
func (m *Metrics) RecordIngest(agentType string, evicted bool) {
	if agentType == "" {
		agentType = "unknown"
	}
	m.RecordsIngested.WithLabelValues(agentType).Inc()
	if evicted {
		m.RecordsEvicted.Inc()
	}
}

// RecordPattern counts a detected or externally submitted pattern.
func (m *Metrics) RecordPattern(p models.LearningPattern) {
	m.PatternsDetected.WithLabelValues(string(p.Kind), p.Source).Inc()
}

// RecordAdaptation counts one dispatched action.
func (m *Metrics) RecordAdaptation(rec models.AdaptationRecord) {
	m.AdaptationsTotal.WithLabelValues(string(rec.Action), strconv.FormatBool(rec.Success)).Inc()
}

// RecordInsight counts a generated insight.
func (m *Metrics) RecordInsight(i models.Insight) {
	m.InsightsGenerated.WithLabelValues(string(i.Type), string(i.Severity)).Inc()
}

// RecordDecision counts a decision attempt.
func (m *Metrics) RecordDecision(decisionType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if models.IsValidation(err) {
			result = "invalid"
		}
	}
	m.DecisionsTotal.WithLabelValues(decisionType, result).Inc()
}

// SetLearningMetrics exports the slow tick aggregates as gauges.
func (m *Metrics) SetLearningMetrics(lm models.LearningMetrics) {
	m.LearningAggregates.WithLabelValues("learning_velocity").Set(lm.LearningVelocity)
	m.LearningAggregates.WithLabelValues("knowledge_accumulation").Set(lm.KnowledgeAccumulation)
	m.LearningAggregates.WithLabelValues("generalization_ability").Set(lm.GeneralizationAbility)
	m.LearningAggregates.WithLabelValues("adaptation_effectiveness").Set(lm.AdaptationEffectiveness)
	m.LearningAggregates.WithLabelValues("stability_score").Set(lm.StabilityScore)
}

// TickFinished records a finished tick. It satisfies scheduler.Observer.
func (m *Metrics) TickFinished(name string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TickDuration.WithLabelValues(name).Observe(d.Seconds())
	m.TicksTotal.WithLabelValues(name, result).Inc()
}

// TickSkipped records a skipped overlapping tick.
func (m *Metrics) TickSkipped(name string) {
	m.TicksSkipped.WithLabelValues(name).Inc()
}
