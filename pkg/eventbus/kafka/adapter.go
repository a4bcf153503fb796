// Package kafka provides the Kafka producer used to forward domain events.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nimburion/repokit/pkg/eventbus"
	"github.com/nimburion/repokit/pkg/observability/logger"
)

const (
	defaultOperationTimeout = 30 * time.Second
	defaultMaxRetries       = 3
	healthCheckTimeout      = 5 * time.Second
)

var errClosed = errors.New("kafka producer is closed")

// Config holds the configuration for the Kafka producer.
type Config struct {
	Brokers []string
	// OperationTimeout bounds each publish. Zero means 30s.
	OperationTimeout time.Duration
	// MaxRetries is the writer's attempt count per message. Zero means 3.
	MaxRetries int
}

// writer is the subset of *kafka.Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements eventbus.Producer over a kafka-go writer. Publish
// returns once every in-sync replica acknowledged the record.
type Producer struct {
	writer writer
	logger logger.Logger
	config Config
	closed atomic.Bool
}

var _ eventbus.Producer = (*Producer)(nil)

// NewProducer builds a synchronous producer. Records with the same key land
// on the same partition, so events of one entity keep their order.
func NewProducer(cfg Config, log logger.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries,
		WriteTimeout: cfg.OperationTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	log.Info("kafka producer initialized", "brokers", cfg.Brokers, "operation_timeout", cfg.OperationTimeout)
	return newProducer(w, cfg, log), nil
}

func newProducer(w writer, cfg Config, log logger.Logger) *Producer {
	return &Producer{writer: w, logger: log.With("messaging_system", "kafka"), config: cfg}
}

// Publish writes message to topic and waits for the acknowledgement.
func (p *Producer) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if p.closed.Load() {
		return errClosed
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()

	record := kafka.Message{
		Topic:   topic,
		Key:     []byte(message.Key),
		Value:   message.Value,
		Headers: convertHeaders(message.Headers),
		Time:    message.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		p.logger.Error("failed to publish message", "topic", topic, "message_id", message.ID, "error", err)
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	p.logger.Debug("message published", "topic", topic, "message_id", message.ID, "key", message.Key)
	return nil
}

// Close flushes pending writes. Only the first call reaches the writer.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	p.logger.Info("kafka producer closed")
	return nil
}

// HealthCheck succeeds as soon as one configured broker answers a metadata
// request.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return errClosed
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var errs []error
	for _, addr := range p.config.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", addr, err))
			continue
		}
		_, err = conn.Brokers()
		conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("metadata from %s: %w", addr, err))
	}
	if len(errs) == 0 {
		return errors.New("no kafka brokers configured")
	}
	return fmt.Errorf("kafka health check failed: %w", errors.Join(errs...))
}

// convertHeaders returns the headers sorted by key.
func convertHeaders(headers map[string]string) []kafka.Header {
	if headers == nil {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]kafka.Header, len(keys))
	for i, k := range keys {
		out[i] = kafka.Header{Key: k, Value: []byte(headers[k])}
	}
	return out
}
