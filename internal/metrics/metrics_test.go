package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTurn("gpt_a", "auto", false, 2*time.Second)
	m.RecordTurn("gpt_a", "auto", true, time.Second)

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("gpt_a", "auto")); got != 1 {
		t.Errorf("turns_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TurnFailures.WithLabelValues("gpt_a", "auto")); got != 1 {
		t.Errorf("turn_failures_total = %v, want 1", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordKafkaPublish("topic", "turn.completed", nil, 0.01)
	m.RecordKafkaPublish("topic", "turn.completed", errors.New("broker down"), 0.02)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("topic", "turn.completed")); got != 2 {
		t.Errorf("kafka_publish_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("topic", "turn.completed")); got != 1 {
		t.Errorf("kafka_publish_errors_total = %v, want 1", got)
	}
}

func TestEvaluationAndPersistence(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordEvaluation("ARMED", true)
	m.RecordPersistence("skipped")
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.StuckRecoveries); got != 1 {
		t.Errorf("stuck recoveries = %v", got)
	}
	if got := testutil.ToFloat64(m.PersistenceWrites.WithLabelValues("skipped")); got != 1 {
		t.Errorf("persistence skipped = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("sessions active = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTurn("gpt_a", "manual", false, time.Second)
	m.RecordSynthFailure()
	m.RecordSTTFailure()
	m.RecordSummary(true)
	m.RecordEvaluation("IDLE", false)
	m.RecordPersistence("written")
	m.RecordKafkaPublish("t", "e", nil, 0)
	m.SetActiveSessions(1)
}
