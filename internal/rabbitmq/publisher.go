package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"message-sync/internal/observability"
	"message-sync/internal/telemetry"
)

// Publisher publishes sync failure and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is
// disabled or unreachable.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		slog.Info("rabbitmq disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		slog.Warn("rabbitmq disabled, using noop", "err", err)
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		slog.Warn("rabbitmq disabled, using noop", "err", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		slog.Warn("rabbitmq disabled, using noop", "exchange", exchange, "err", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	slog.Info("rabbitmq connected", "exchange", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if headers := headersFor(event); len(headers) > 0 {
		publishing.Headers = headers
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing)
	if err != nil {
		observability.IncAMQPPublishError()
		slog.WarnContext(ctx, "rabbitmq publish failed", "routing_key", routingKey, "err", err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// headersFor copies correlation ids of audit envelopes into message headers.
func headersFor(event any) amqp.Table {
	var env *telemetry.AuditEnvelope
	switch e := event.(type) {
	case telemetry.AuditEnvelope:
		env = &e
	case *telemetry.AuditEnvelope:
		env = e
	default:
		return nil
	}
	headers := amqp.Table{"event_type": env.EventType}
	if env.RequestID != "" {
		headers["x-request-id"] = env.RequestID
	}
	if env.TraceID != "" {
		headers["trace_id"] = env.TraceID
	}
	return headers
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		slog.DebugContext(ctx, "rabbitmq noop publish", "routing_key", routingKey, "event_type", envelope.EventType, "service", envelope.Service)
	case *telemetry.AuditEnvelope:
		slog.DebugContext(ctx, "rabbitmq noop publish", "routing_key", routingKey, "event_type", envelope.EventType, "service", envelope.Service)
	default:
		slog.DebugContext(ctx, "rabbitmq noop publish", "routing_key", routingKey)
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	case *noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	switch publisher := p.(type) {
	case noopPublisher:
		return publisher.reason
	case *noopPublisher:
		return publisher.reason
	default:
		return ""
	}
}
