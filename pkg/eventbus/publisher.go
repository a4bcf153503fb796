package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/observability/tracing"
	"github.com/nimburion/repokit/pkg/uow"
)

// PartitionKeyer is implemented by events that choose their partition key.
// Other events are keyed by their name.
type PartitionKeyer interface {
	PartitionKey() string
}

// PublisherConfig configures a DomainEventPublisher.
type PublisherConfig struct {
	// Topic receives every event.
	Topic string
	// Source is written to the producer header.
	Source string
	// System names the broker in spans, e.g. "kafka".
	System string
}

// DomainEventPublisher is a uow.Publisher that serializes each committed
// domain event into one broker message.
type DomainEventPublisher struct {
	producer   Producer
	serializer Serializer
	config     PublisherConfig
	logger     logger.Logger
	now        func() time.Time
}

var _ uow.Publisher = (*DomainEventPublisher)(nil)

// NewDomainEventPublisher creates a publisher writing to producer.
func NewDomainEventPublisher(producer Producer, serializer Serializer, cfg PublisherConfig, log logger.Logger) (*DomainEventPublisher, error) {
	if producer == nil {
		return nil, errors.New("producer is nil")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if serializer == nil {
		serializer = NewJSONSerializer()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DomainEventPublisher{
		producer:   producer,
		serializer: serializer,
		config:     cfg,
		logger:     log,
		now:        time.Now,
	}, nil
}

// Publish sends event to the configured topic.
func (p *DomainEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	name := domain.EventName(event)

	payload, err := p.serializer.Serialize(event)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", name, err)
	}

	msg := &Message{
		ID:          uuid.NewString(),
		Key:         name,
		Value:       payload,
		ContentType: p.serializer.ContentType(),
		Timestamp:   p.now().UTC(),
		Headers: map[string]string{
			HeaderEventName:   name,
			HeaderContentType: p.serializer.ContentType(),
		},
	}
	if keyer, ok := event.(PartitionKeyer); ok {
		msg.Key = keyer.PartitionKey()
	}
	if p.config.Source != "" {
		msg.Headers[HeaderProducer] = p.config.Source
	}
	if id := logger.CorrelationID(ctx); id != "" {
		msg.Headers[HeaderCorrelationID] = id
	}

	spanCtx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish,
		tracing.WithMessagingSystem(p.config.System),
		tracing.WithMessagingDestination(p.config.Topic),
		tracing.WithMessagingMessageID(msg.ID),
		tracing.WithMessagingPayloadSize(len(payload)),
	)
	defer span.End()

	if err := p.producer.Publish(spanCtx, p.config.Topic, msg); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("publish %s: %w", name, err)
	}
	tracing.RecordSuccess(span)

	p.logger.Debug("domain event forwarded",
		"event", name,
		"topic", p.config.Topic,
		"message_id", msg.ID,
	)
	return nil
}
