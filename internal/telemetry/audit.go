package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"message-sync/internal/cache"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter publishes sync failures and operator audit lines. It satisfies
// cache.Reporter.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id,omitempty"`
	TraceID       string  `json:"trace_id,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	Payload       any     `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// FailurePayload is the body of a sync_failure event.
type FailurePayload struct {
	Op         string `json:"op"`
	RoomID     string `json:"room_id"`
	MessageID  string `json:"message_id,omitempty"`
	Error      string `json:"error"`
	RolledBack bool   `json:"rolled_back"`
	FailedAt   string `json:"failed_at"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *slog.Logger) *AuditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         logger,
		now:         time.Now,
	}
}

// Emit publishes a free-form audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.InfoContext(ctx, "audit emit", "level", level, "request_id", requestID, "text", text)
	envelope := e.envelope(ctx, "audit_log", requestID, userID, AuditPayload{Level: level, Text: text})
	e.publish(ctx, envelope)
}

// ReportFailure logs and publishes a failed store call.
func (e *AuditEmitter) ReportFailure(ctx context.Context, f cache.Failure) {
	if e == nil {
		return
	}
	cache.LogReporter{Logger: e.log}.ReportFailure(ctx, f)
	if e.publisher == nil {
		return
	}

	at := f.At
	if at.IsZero() {
		at = e.now()
	}
	payload := FailurePayload{
		Op:         string(f.Op),
		RoomID:     f.RoomID,
		MessageID:  f.MessageID,
		RolledBack: f.RolledBack,
		FailedAt:   at.UTC().Format(time.RFC3339Nano),
	}
	if f.Err != nil {
		payload.Error = f.Err.Error()
	}
	var userID *string
	if f.UserID != "" {
		id := f.UserID
		userID = &id
	}
	e.publish(ctx, e.envelope(ctx, "sync_failure", "", userID, payload))
}

func (e *AuditEmitter) envelope(ctx context.Context, eventType, requestID string, userID *string, payload any) AuditEnvelope {
	env := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

func (e *AuditEmitter) publish(ctx context.Context, envelope AuditEnvelope) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.WarnContext(ctx, "audit publish failed", "event_type", envelope.EventType, "err", err)
	}
}
