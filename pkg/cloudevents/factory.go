package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sitestock/stock-ledger/pkg/logging"
)

// DomainEvent is the minimal shape of an event raised by an aggregate
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
	Subject() string
}

// EventFactory creates CloudEvents for a single source
type EventFactory struct {
	source string
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source}
}

// Source returns the source attribute stamped on every event
func (f *EventFactory) Source() string {
	return f.source
}

// CreateEvent creates a new CloudEvent. Correlation, actor and trace context are
// copied from ctx when present.
func (f *EventFactory) CreateEvent(
	ctx context.Context,
	eventType string,
	subject string,
	data interface{},
) *CloudEvent {
	event := &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
		CorrelationID:   logging.CorrelationIDFromContext(ctx),
		ActorID:         logging.ActorIDFromContext(ctx),
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	event.TraceParent = carrier.Get("traceparent")
	event.TraceState = carrier.Get("tracestate")

	return event
}

// FromDomainEvent wraps a domain event, keeping its occurrence time
func (f *EventFactory) FromDomainEvent(ctx context.Context, event DomainEvent) *CloudEvent {
	ce := f.CreateEvent(ctx, event.EventType(), event.Subject(), event)
	if t := event.OccurredAt(); !t.IsZero() {
		ce.Time = t.UTC()
	}
	return ce
}

// TraceContext restores the trace context carried by the event into ctx
func (e *CloudEvent) TraceContext(ctx context.Context) context.Context {
	if e.TraceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": e.TraceParent}
	if e.TraceState != "" {
		carrier["tracestate"] = e.TraceState
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
