// Package events provides the in-process mediator that delivers committed
// domain events to registered handlers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/uow"
)

// Handler processes one domain event. Returning an error stops delivery of
// the event to later handlers.
type Handler func(ctx context.Context, event domain.Event) error

// Mediator routes events to handlers by event name. Handlers run
// sequentially in subscription order; catch-all handlers run last.
type Mediator struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	logger   logger.Logger
}

var _ uow.Publisher = (*Mediator)(nil)

// NewMediator creates a mediator without handlers.
func NewMediator(log logger.Logger) *Mediator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Mediator{handlers: make(map[string][]Handler), logger: log}
}

// Subscribe registers h for events named name (see domain.EventName).
func (m *Mediator) Subscribe(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = append(m.handlers[name], h)
}

// SubscribeAll registers h for every event.
func (m *Mediator) SubscribeAll(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, h)
}

// On registers a typed handler for events of type T, which should be a value type.
func On[T domain.Event](m *Mediator, fn func(ctx context.Context, event T) error) {
	var zero T
	m.Subscribe(domain.EventName(zero), func(ctx context.Context, event domain.Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("event %T is not a %T", event, zero)
		}
		return fn(ctx, typed)
	})
}

// Publish delivers event to its handlers. Events without handlers are dropped.
func (m *Mediator) Publish(ctx context.Context, event domain.Event) error {
	name := domain.EventName(event)

	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.handlers[name])+len(m.all))
	handlers = append(handlers, m.handlers[name]...)
	handlers = append(handlers, m.all...)
	m.mu.RUnlock()

	if len(handlers) == 0 {
		m.logger.Debug("no handler for domain event", "event", name)
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return fmt.Errorf("handle %s: %w", name, err)
		}
	}
	return nil
}

// Chain publishes every event through each publisher in order, stopping at
// the first failure.
func Chain(publishers ...uow.Publisher) uow.Publisher {
	return uow.PublisherFunc(func(ctx context.Context, event domain.Event) error {
		for _, p := range publishers {
			if p == nil {
				continue
			}
			if err := p.Publish(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
}
