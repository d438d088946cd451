// Package metrics provides Prometheus metrics for the talk show server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "triadic"

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	// Turn metrics
	TurnsTotal     *prometheus.CounterVec
	TurnFailures   *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	SynthFailures  prometheus.Counter
	STTFailures    prometheus.Counter
	SummariesTotal *prometheus.CounterVec

	// Auto-run metrics
	AutoRunEvaluations *prometheus.CounterVec
	StuckRecoveries    prometheus.Counter

	// Persistence metrics
	PersistenceWrites *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	SessionsActive prometheus.Gauge
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed AI turns",
		}, []string{"speaker", "origin"}),
		TurnFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Total number of turns that ended with error content",
		}, []string{"speaker", "origin"}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of AI turns in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"speaker"}),
		SynthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_failures_total",
			Help:      "Total number of speech synthesis failures",
		}),
		STTFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_failures_total",
			Help:      "Total number of transcription failures",
		}),
		SummariesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of rolling summaries by result",
		}, []string{"result"}),
		AutoRunEvaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autorun_evaluations_total",
			Help:      "Total number of auto-run evaluations by resulting phase",
		}, []string{"phase"}),
		StuckRecoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autorun_stuck_recoveries_total",
			Help:      "Total number of stale in-progress flags cleared",
		}),
		PersistenceWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_writes_total",
			Help:      "Total number of snapshot saves by result",
		}, []string{"result"}),
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions held in memory",
		}),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(speaker, origin string, failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	if failed {
		m.TurnFailures.WithLabelValues(speaker, origin).Inc()
	} else {
		m.TurnsTotal.WithLabelValues(speaker, origin).Inc()
	}
	m.TurnDuration.WithLabelValues(speaker).Observe(elapsed.Seconds())
}

// RecordSynthFailure counts a failed speech synthesis.
func (m *Metrics) RecordSynthFailure() {
	if m == nil {
		return
	}
	m.SynthFailures.Inc()
}

// RecordSTTFailure counts a failed transcription.
func (m *Metrics) RecordSTTFailure() {
	if m == nil {
		return
	}
	m.STTFailures.Inc()
}

// RecordSummary counts a summary attempt.
func (m *Metrics) RecordSummary(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SummariesTotal.WithLabelValues(result).Inc()
}

// RecordEvaluation counts one auto-run evaluation.
func (m *Metrics) RecordEvaluation(phase string, recovered bool) {
	if m == nil {
		return
	}
	m.AutoRunEvaluations.WithLabelValues(phase).Inc()
	if recovered {
		m.StuckRecoveries.Inc()
	}
}

// RecordPersistence counts a snapshot save outcome: written, skipped or error.
func (m *Metrics) RecordPersistence(result string) {
	if m == nil {
		return
	}
	m.PersistenceWrites.WithLabelValues(result).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// SetActiveSessions sets the in-memory session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}
