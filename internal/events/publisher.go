package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Event types published by the correction service
const (
	EventDecisionRecorded = "correction.decision_recorded"
	EventOverrideApplied  = "correction.override_applied"
	EventBatchCompleted   = "correction.batch_completed"
	EventKeyFinalized     = "correction.key_finalized"
)

// Event is the envelope every published message shares
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent creates an event envelope with generated ID and timestamp
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "correction-service",
		Version:   "1.0",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ===== EVENT PAYLOADS =====

// DecisionRecordedEvent is emitted for every automatic decision the engine appends
type DecisionRecordedEvent struct {
	AnswerKeyID   uint     `json:"answer_key_id"`
	StudentID     string   `json:"student_id"`
	QuestionLabel string   `json:"question_label"`
	Revision      int      `json:"revision"`
	ChosenSet     []string `json:"chosen_set"`
}

// OverrideAppliedEvent is emitted when a human override supersedes a decision
type OverrideAppliedEvent struct {
	AnswerKeyID   uint     `json:"answer_key_id"`
	StudentID     string   `json:"student_id"`
	QuestionLabel string   `json:"question_label"`
	Revision      int      `json:"revision"`
	ChosenSet     []string `json:"chosen_set"`
	DecidedBy     string   `json:"decided_by"`
}

// BatchCompletedEvent is emitted after a batch reconcile run finishes
type BatchCompletedEvent struct {
	BatchID       string `json:"batch_id"`
	AnswerKeyID   uint   `json:"answer_key_id"`
	TotalRecords  int    `json:"total_records"`
	AutoDecided   int    `json:"auto_decided"`
	FlaggedReview int    `json:"flagged_review"`
	Skipped       int    `json:"skipped"`
}

// KeyFinalizedEvent is emitted when an answer key is locked for corrections
type KeyFinalizedEvent struct {
	AnswerKeyID   uint   `json:"answer_key_id"`
	Title         string `json:"title"`
	QuestionCount int    `json:"question_count"`
	FinalizedBy   string `json:"finalized_by"`
}

// ===== PUBLISHER =====

// EventPublisher publishes correction events to the message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// KafkaEventPublisher publishes events to Kafka through watermill
type KafkaEventPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// KafkaConfig holds Kafka connection settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func NewKafkaEventPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaEventPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   cfg.Brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &KafkaEventPublisher{
		publisher: publisher,
		topic:     cfg.Topic,
		logger:    logger,
	}, nil
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("source", event.Source)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	p.logger.DebugContext(ctx, "Event published",
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", p.topic)
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.publisher.Close()
}

// NoopEventPublisher logs events instead of publishing them. Used when no
// broker is configured, e.g. in local development.
type NoopEventPublisher struct {
	logger *slog.Logger
}

func NewNoopEventPublisher(logger *slog.Logger) *NoopEventPublisher {
	return &NoopEventPublisher{logger: logger}
}

func (p *NoopEventPublisher) Publish(ctx context.Context, event *Event) error {
	p.logger.DebugContext(ctx, "Event dropped (no broker configured)",
		"event_id", event.ID,
		"event_type", event.Type)
	return nil
}

func (p *NoopEventPublisher) Close() error {
	return nil
}
