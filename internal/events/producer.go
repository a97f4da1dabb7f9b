// Package events publishes clinic audit events to a Kafka-compatible stream
// with franz-go. Publishing is strictly fire-and-forget: the workflows it
// observes must never fail because the stream is down.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/observability/metrics"
)

// Event types emitted by the workflows.
const (
	TypeRegistrationCreated = "registration.created"
	TypeQueueTransition     = "queue.transition"
	TypeDispenseCompleted   = "dispense.completed"
	TypeCheckoutPaid        = "checkout.paid"
)

// Event is the envelope written to the stream.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubjectID int             `json:"subject_id"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Config holds producer configuration.
type Config struct {
	// Brokers is the list of broker addresses
	Brokers []string
	// Topic is the clinic audit topic
	Topic string
	// LingerMS is the batching linger
	LingerMS int64
}

// DefaultConfig returns defaults for a local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:  []string{"localhost:9092"},
		Topic:    TopicClinicAudit,
		LingerMS: 50,
	}
}

// Producer publishes clinic events.
type Producer struct {
	client  *kgo.Client
	topic   string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProducer creates a producer.
func NewProducer(cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicClinicAudit
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS)*time.Millisecond),
		kgo.RequiredAcks(kgo.LeaderAck()),
	)
	if err != nil {
		return nil, err
	}

	return &Producer{
		client:  client,
		topic:   cfg.Topic,
		logger:  logger,
		metrics: m,
	}, nil
}

// Publish emits an event asynchronously. Failures are logged and counted,
// never returned; the audit stream is an observer of the workflows, not a
// participant.
func (p *Producer) Publish(ctx context.Context, eventType string, subjectID int, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			p.logger.Warn("event payload not serializable",
				zap.String("type", eventType), zap.Error(err))
		} else {
			raw = data
		}
	}

	evt := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SubjectID: subjectID,
		At:        time.Now(),
		Payload:   raw,
	}
	value, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("event not serializable", zap.Error(err))
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(eventType + ":" + strconv.Itoa(subjectID)),
		Value: value,
	}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			if p.metrics != nil {
				p.metrics.EventPublishFailures.Inc()
			}
			p.logger.Warn("failed to publish clinic event",
				zap.String("type", eventType),
				zap.Int("subject_id", subjectID),
				zap.Error(err))
			return
		}
		if p.metrics != nil {
			p.metrics.EventsPublished.Inc()
		}
	})
}

// Close flushes and closes the producer.
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing events on close", zap.Error(err))
	}
	p.client.Close()
}
