// Package events publishes model lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

const sourceService = "uw-ml-service"

// Event types
const (
	EventModelUpdated = "model.updated"
	EventJobChanged   = "training_job.changed"
)

// ModelUpdate describes a hot-swap of a model family
type ModelUpdate struct {
	ModelType models.ModelType  `json:"model_type"`
	Versions  map[string]string `json:"versions"`
	Loaded    map[string]bool   `json:"loaded"`
	Reason    string            `json:"reason"`
	SwappedAt time.Time         `json:"swapped_at"`
}

// Envelope wraps every published payload
type Envelope struct {
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher emits lifecycle events
type Publisher interface {
	ModelUpdated(ctx context.Context, update ModelUpdate) error
	JobChanged(ctx context.Context, job *models.TrainingJob) error
	Close() error
}

// New returns a Kafka publisher when enabled and a no-op publisher otherwise
func New(cfg config.KafkaConfig, logger *zap.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(cfg, logger)
}

// messageWriter is the subset of *kafka.Writer used by the publisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON envelopes to the model-update and training-job topics
type KafkaPublisher struct {
	models messageWriter
	jobs   messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates one writer per topic
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		models: newWriter(cfg, cfg.Topics.ModelUpdates),
		jobs:   newWriter(cfg, cfg.Topics.TrainingJobs),
		logger: logger.With(zap.String("component", "event_publisher")),
	}
}

func newWriter(cfg config.KafkaConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}
}

// ModelUpdated publishes a swap event keyed by model type
func (p *KafkaPublisher) ModelUpdated(ctx context.Context, update ModelUpdate) error {
	return p.publish(ctx, p.models, string(update.ModelType), EventModelUpdated, update)
}

// JobChanged publishes a job state change keyed by job id
func (p *KafkaPublisher) JobChanged(ctx context.Context, job *models.TrainingJob) error {
	return p.publish(ctx, p.jobs, job.ID.String(), EventJobChanged, job)
}

func (p *KafkaPublisher) publish(ctx context.Context, w messageWriter, key, eventType string, payload interface{}) error {
	msg, err := newMessage(key, eventType, payload)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("type", eventType),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	p.logger.Debug("Event published", zap.String("type", eventType), zap.String("key", key))
	return nil
}

// Close flushes and closes both writers
func (p *KafkaPublisher) Close() error {
	errModels := p.models.Close()
	errJobs := p.jobs.Close()
	if errModels != nil {
		return fmt.Errorf("failed to close model update writer: %w", errModels)
	}
	if errJobs != nil {
		return fmt.Errorf("failed to close training job writer: %w", errJobs)
	}
	return nil
}

func newMessage(key, eventType string, payload interface{}) (kafka.Message, error) {
	now := time.Now().UTC()
	value, err := json.Marshal(Envelope{
		Type:      eventType,
		Source:    sourceService,
		Timestamp: now,
		Payload:   payload,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "source-service", Value: []byte(sourceService)},
		},
	}, nil
}

// Nop discards every event
type Nop struct{}

func (Nop) ModelUpdated(context.Context, ModelUpdate) error       { return nil }
func (Nop) JobChanged(context.Context, *models.TrainingJob) error { return nil }
func (Nop) Close() error                                          { return nil }
