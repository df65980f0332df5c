package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const AuditTopic = "audit_events"

// EventSink receives audit events after they leave the in-process bus.
// *nats.Publisher satisfies it.
type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

// AuditPublisher puts audit events on the in-process bus so callers never wait on the
// external sink.
type AuditPublisher struct {
	publisher message.Publisher
	topic     string
}

func NewAuditPublisher(publisher message.Publisher, topic string) *AuditPublisher {
	return &AuditPublisher{publisher: publisher, topic: topic}
}

func (p *AuditPublisher) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(events.BaseEvent{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", event.EventType())
	msg.SetContext(ctx)
	return p.publisher.Publish(p.topic, msg)
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	sink       EventSink
	logger     logger.ILogger
}

// NewConsumerService drains the audit topic into the log and, when sink is not nil, into
// the external stream.
func NewConsumerService(subscriber message.Subscriber, topicName string, sink EventSink, log logger.ILogger) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		sink:       sink,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var event events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		cs.logger.Error("Audit", "Failed to unmarshal audit event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack()
		return
	}

	cs.logger.Info("Audit", event.Type, event.Data)

	if cs.sink != nil {
		if err := cs.sink.Publish(ctx, event); err != nil {
			// Delivery to the sink is best effort; the event is already in the log.
			cs.logger.Warn("Audit", "Failed to forward audit event", map[string]interface{}{
				"event_type": event.Type,
				"error":      err.Error(),
			})
		}
	}

	msg.Ack()
}
