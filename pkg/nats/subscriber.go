package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventHandler processes one audit event. A returned error asks for redelivery.
type EventHandler func(ctx context.Context, event events.BaseEvent) error

// Subscriber reads audit events back from the stream.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger logger.ILogger
}

func NewSubscriber(url string, log logger.ILogger) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js, logger: log}, nil
}

// Subscribe delivers events matching subject until ctx is done. An empty durable name
// creates an ephemeral consumer that starts with new messages only.
func (s *Subscriber) Subscribe(ctx context.Context, subject, durable string, handler EventHandler) error {
	cfg := jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable == "" {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var event events.BaseEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.Warn("NATS", "Dropping malformed audit event", map[string]interface{}{
				"subject": msg.Subject(),
				"error":   err.Error(),
			})
			// Redelivery cannot fix a bad payload.
			msg.Ack()
			return
		}

		if err := handler(ctx, event); err != nil {
			s.logger.Warn("NATS", "Audit handler failed", map[string]interface{}{
				"subject": msg.Subject(),
				"error":   err.Error(),
			})
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("NATS", "Subscribed", map[string]interface{}{"subject": subject, "durable": durable})
	<-ctx.Done()
	cc.Stop()
	return nil
}

func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
