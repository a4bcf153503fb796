// Package factory builds the domain event publisher selected by configuration.
package factory

import (
	"fmt"

	"github.com/nimburion/repokit/pkg/config"
	"github.com/nimburion/repokit/pkg/eventbus"
	"github.com/nimburion/repokit/pkg/eventbus/kafka"
	"github.com/nimburion/repokit/pkg/observability/logger"
)

// Cosa fa: seleziona e inizializza il producer in base alla config.
// Cosa NON fa: non crea i topic sul broker.
// Esempio minimo: producer, err := factory.NewProducer(cfg.EventBus, log)
//
// A nil producer with a nil error means event forwarding is disabled.
func NewProducer(cfg config.EventBusConfig, log logger.Logger) (eventbus.Producer, error) {
	switch cfg.Type {
	case "", config.EventBusTypeNone:
		return nil, nil
	case config.EventBusTypeKafka:
		producer, err := kafka.NewProducer(kafka.Config{
			Brokers:          cfg.Brokers,
			OperationTimeout: cfg.OperationTimeout,
			MaxRetries:       cfg.MaxRetries,
		}, log)
		if err != nil {
			return nil, err
		}
		return producer, nil
	default:
		return nil, fmt.Errorf("unsupported eventbus.type %q (supported: none, kafka)", cfg.Type)
	}
}

// NewPublisher wraps the configured producer in a DomainEventPublisher
// writing to the dispatch topic. It returns a nil publisher when forwarding
// is disabled; the caller owns closing the returned producer.
func NewPublisher(cfg *config.Config, log logger.Logger) (*eventbus.DomainEventPublisher, eventbus.Producer, error) {
	producer, err := NewProducer(cfg.EventBus, log)
	if err != nil || producer == nil {
		return nil, nil, err
	}
	serializer, err := eventbus.NewSerializer(cfg.EventBus.Serializer)
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	publisher, err := eventbus.NewDomainEventPublisher(producer, serializer, eventbus.PublisherConfig{
		Topic:  cfg.Persistence.DispatchTopic,
		Source: cfg.Service.Name,
		System: cfg.EventBus.Type,
	}, log)
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	return publisher, producer, nil
}
