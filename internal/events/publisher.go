// Package events publishes conversation lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ashureev/triadic/internal/metrics"
)

// Event types.
const (
	TurnCompleted    = "turn.completed"
	TurnFailed       = "turn.failed"
	AutoRunChanged   = "autorun.changed"
	SessionRebooted  = "session.rebooted"
	SummaryGenerated = "summary.generated"
)

// Event is the envelope written to the topic.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SessionKey string    `json:"session_key"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(eventType, sessionKey string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SessionKey: sessionKey,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

// Publisher writes events keyed by session. Without brokers it only logs.
type Publisher struct {
	writer    messageWriter
	topic     string
	principal string
	metrics   *metrics.Metrics
}

// New creates a publisher. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Publisher {
	p := &Publisher{topic: cfg.Topic, principal: cfg.Principal, metrics: m}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		slog.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	slog.Info("Kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic, "principal", cfg.Principal)
	return p
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool {
	return p != nil && p.writer != nil
}

// Publish writes ev. Failures are logged and returned; callers treat them as
// non-fatal.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event", "type", ev.Type, "error", err)
		return err
	}
	slog.Debug("Publishing event", "principal", p.principal, "topic", p.topic, "key", ev.SessionKey, "type", ev.Type)

	if p.writer == nil {
		p.metrics.RecordKafkaPublish(p.topic, ev.Type, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Type)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write to Kafka", "topic", p.topic, "key", ev.SessionKey, "error", err)
		p.metrics.RecordKafkaPublish(p.topic, ev.Type, err, time.Since(start).Seconds())
		return err
	}
	p.metrics.RecordKafkaPublish(p.topic, ev.Type, nil, time.Since(start).Seconds())
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka writer", "error", err)
		return err
	}
	return nil
}
