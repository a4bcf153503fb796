// Package tracing provides the OpenTelemetry spans emitted around store
// round-trips, unit-of-work commits and domain event publication.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation names a traced operation.
type SpanOperation string

// Span operations
const (
	SpanOperationDBQuery  SpanOperation = "db.query"
	SpanOperationDBCount  SpanOperation = "db.count"
	SpanOperationDBLoad   SpanOperation = "db.load"
	SpanOperationDBInsert SpanOperation = "db.insert"
	SpanOperationDBUpdate SpanOperation = "db.update"
	SpanOperationDBDelete SpanOperation = "db.delete"
	// SpanOperationDBTx wraps one unit of work commit
	SpanOperationDBTx SpanOperation = "db.transaction"

	SpanOperationMsgPublish SpanOperation = "messaging.publish"
)

const (
	storeScope     = "repokit/store"
	messagingScope = "repokit/messaging"
)

// spanSpec collects the name suffix and attributes of a span before it starts.
type spanSpec struct {
	target string
	attrs  []attribute.KeyValue
}

func (s *spanSpec) add(kv ...attribute.KeyValue) { s.attrs = append(s.attrs, kv...) }

func start(ctx context.Context, scope, prefix string, kind trace.SpanKind, s *spanSpec) (context.Context, trace.Span) {
	name := prefix
	if s.target != "" {
		name += " " + s.target
	}
	return otel.Tracer(scope).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(s.attrs...),
	)
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*spanSpec)

// StartDatabaseSpan starts a client span named "DB <operation> [table]".
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	s := &spanSpec{attrs: []attribute.KeyValue{attribute.String("db.operation", string(operation))}}
	for _, opt := range opts {
		opt(s)
	}
	return start(ctx, storeScope, "DB "+string(operation), trace.SpanKindClient, s)
}

// WithDBTable sets the table or collection name.
func WithDBTable(table string) DatabaseSpanOption {
	return func(s *spanSpec) {
		s.target = table
		s.add(attribute.String("db.table", table))
	}
}

// WithDBSystem sets the database system, e.g. "postgresql" or "mongodb".
func WithDBSystem(system string) DatabaseSpanOption {
	return func(s *spanSpec) { s.add(attribute.String("db.system", system)) }
}

// WithDBStatement sets the rendered statement.
func WithDBStatement(statement string) DatabaseSpanOption {
	return func(s *spanSpec) { s.add(attribute.String("db.statement", statement)) }
}

// WithDBChanges records how many changes a commit applies.
func WithDBChanges(n int) DatabaseSpanOption {
	return func(s *spanSpec) { s.add(attribute.Int("db.changes", n)) }
}

// MessagingSpanOption configures a messaging span.
type MessagingSpanOption func(*spanSpec)

// StartMessagingSpan starts a producer span named "MSG <operation> [destination]"
// for one published event.
func StartMessagingSpan(ctx context.Context, operation SpanOperation, opts ...MessagingSpanOption) (context.Context, trace.Span) {
	s := &spanSpec{attrs: []attribute.KeyValue{attribute.String("messaging.operation", string(operation))}}
	for _, opt := range opts {
		opt(s)
	}
	return start(ctx, messagingScope, "MSG "+string(operation), trace.SpanKindProducer, s)
}

// WithMessagingSystem sets the messaging system: "domain" for in-process
// handlers, "kafka" for the broker.
func WithMessagingSystem(system string) MessagingSpanOption {
	return func(s *spanSpec) { s.add(attribute.String("messaging.system", system)) }
}

// WithMessagingDestination sets the event name or topic.
func WithMessagingDestination(destination string) MessagingSpanOption {
	return func(s *spanSpec) {
		s.target = destination
		s.add(attribute.String("messaging.destination", destination))
	}
}

// WithMessagingMessageID sets the broker message ID.
func WithMessagingMessageID(id string) MessagingSpanOption {
	return func(s *spanSpec) { s.add(attribute.String("messaging.message_id", id)) }
}

// WithMessagingPayloadSize sets the serialized payload size in bytes.
func WithMessagingPayloadSize(size int) MessagingSpanOption {
	return func(s *spanSpec) { s.add(attribute.Int("messaging.payload_size_bytes", size)) }
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
