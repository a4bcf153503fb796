// Package eventbus forwards committed domain events to a message broker.
//
// A Publisher turns each event into a Message with a Serializer and hands it
// to a Producer; the kafka subpackage provides the only broker-backed one.
package eventbus

import (
	"context"
	"time"
)

// Producer writes records to a broker.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	// Close flushes pending records and releases the connection.
	Close() error
}

// Message is one broker record. Records sharing a Key keep their order.
type Message struct {
	ID          string
	Key         string
	Value       []byte
	Headers     map[string]string
	ContentType string
	Timestamp   time.Time
}

// Header names set by Publisher.
const (
	HeaderEventName     = "event_name"
	HeaderContentType   = "content_type"
	HeaderCorrelationID = "correlation_id"
	HeaderProducer      = "producer"
)
