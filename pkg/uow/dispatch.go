package uow

import (
	"context"
	"reflect"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/observability/tracing"
)

// Publisher delivers one domain event to its handlers. Events are never batched.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event domain.Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Dispatcher drains event buffers and publishes their content in order.
type Dispatcher struct {
	publisher Publisher
	logger    logger.Logger
	metrics   *Metrics
}

// NewDispatcher creates a dispatcher publishing through p.
func NewDispatcher(p Publisher, log logger.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{publisher: p, logger: log, metrics: metrics}
}

// Dispatch collects the buffered events of sources (visited in the given
// order, each buffer in recording order), clears every visited buffer, then
// publishes the events one at a time. A source listed more than once is
// drained once. Buffers are cleared before the first publish so a handler
// that touches the same entity starts from an empty buffer. The first
// handler failure stops dispatch and is returned as a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, sources []any) error {
	var (
		visited []domain.EventSource
		events  []domain.Event
		seen    = make(map[domain.EventSource]struct{}, len(sources))
	)
	for _, s := range sources {
		es, ok := s.(domain.EventSource)
		if !ok {
			continue
		}
		if reflect.TypeOf(es).Comparable() {
			if _, dup := seen[es]; dup {
				continue
			}
			seen[es] = struct{}{}
		}
		buffered := es.DomainEvents()
		if len(buffered) == 0 {
			continue
		}
		visited = append(visited, es)
		events = append(events, buffered...)
	}
	if len(events) == 0 {
		return nil
	}

	for _, es := range visited {
		es.ClearDomainEvents()
	}

	for i, event := range events {
		name := domain.EventName(event)
		spanCtx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish,
			tracing.WithMessagingSystem("domain"),
			tracing.WithMessagingDestination(name),
		)
		err := d.publisher.Publish(spanCtx, event)
		if err != nil {
			tracing.RecordError(span, err)
			span.End()
			d.metrics.incDispatchFailure()
			d.logger.Error("domain event handler failed after commit",
				"event", name,
				"undelivered", len(events)-i-1,
				"error", err,
			)
			rest := append([]domain.Event(nil), events[i+1:]...)
			return &DispatchError{Event: event, Undelivered: len(rest), Pending: rest, Err: err}
		}
		tracing.RecordSuccess(span)
		span.End()
		d.metrics.incDispatched()
	}

	d.logger.Debug("domain events dispatched", "count", len(events))
	return nil
}
