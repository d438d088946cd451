package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"github.com/ashureev/triadic/internal/metrics"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewLogOnlyWhenDisabled(t *testing.T) {
	p := New(Config{Enabled: true}, nil)
	if p.Enabled() {
		t.Fatal("publisher without brokers should be log-only")
	}
	if err := p.Publish(context.Background(), NewEvent(TurnCompleted, "u:s", nil)); err != nil {
		t.Fatalf("log-only publish should succeed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "triadic.conversation", principal: "svc", metrics: m}

	ev := NewEvent(TurnCompleted, "u:tab", map[string]string{"speaker": "gpt_a"})
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u:tab" {
		t.Errorf("key = %s", msg.Key)
	}
	if string(msg.Headers[0].Value) != TurnCompleted || string(msg.Headers[1].Value) != "svc" {
		t.Errorf("headers = %+v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID == "" || decoded.Type != TurnCompleted {
		t.Errorf("decoded = %+v", decoded)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("triadic.conversation", TurnCompleted)); got != 1 {
		t.Errorf("publish counter = %v", got)
	}
}

func TestPublishError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	w := &fakeWriter{err: errors.New("broker down")}
	p := &Publisher{writer: w, topic: "t", metrics: m}

	if err := p.Publish(context.Background(), NewEvent(TurnFailed, "k", nil)); err == nil {
		t.Fatal("expected error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("t", TurnFailed)); got != 1 {
		t.Errorf("error counter = %v", got)
	}
	_ = p.Close()
	if !w.closed {
		t.Error("Close should close the writer")
	}
}
