package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/repokit/pkg/observability/logger"
)

type recordingProducer struct {
	topics   []string
	messages []*Message
	err      error
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, message *Message) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type bookCreated struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func (bookCreated) EventName() string { return "book.created" }

type bookDeleted struct {
	ID int64 `json:"id"`
}

func (e bookDeleted) PartitionKey() string { return "book-1" }

func TestNewDomainEventPublisher_Validation(t *testing.T) {
	if _, err := NewDomainEventPublisher(nil, nil, PublisherConfig{Topic: "t"}, nil); err == nil {
		t.Error("expected error for nil producer")
	}
	if _, err := NewDomainEventPublisher(&recordingProducer{}, nil, PublisherConfig{}, nil); err == nil {
		t.Error("expected error for missing topic")
	}
}

func TestDomainEventPublisher_Publish(t *testing.T) {
	producer := &recordingProducer{}
	p, err := NewDomainEventPublisher(producer, NewJSONSerializer(), PublisherConfig{
		Topic:  "book-events",
		Source: "catalog",
		System: "kafka",
	}, nil)
	if err != nil {
		t.Fatalf("NewDomainEventPublisher() error = %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	p.now = func() time.Time { return fixed }

	ctx := logger.ContextWithCorrelationID(context.Background(), "req-9")
	if err := p.Publish(ctx, bookCreated{ID: 1, Title: "X"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(producer.messages) != 1 || producer.topics[0] != "book-events" {
		t.Fatalf("unexpected publish: topics=%v", producer.topics)
	}
	msg := producer.messages[0]
	if msg.ID == "" {
		t.Error("expected a message id")
	}
	if msg.Key != "book.created" {
		t.Errorf("key = %q, want event name", msg.Key)
	}
	if string(msg.Value) != `{"id":1,"title":"X"}` {
		t.Errorf("value = %s", msg.Value)
	}
	if !msg.Timestamp.Equal(fixed) || msg.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", msg.Timestamp, fixed)
	}
	want := map[string]string{
		HeaderEventName:     "book.created",
		HeaderContentType:   "application/json",
		HeaderProducer:      "catalog",
		HeaderCorrelationID: "req-9",
	}
	for k, v := range want {
		if msg.Headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, msg.Headers[k], v)
		}
	}
}

func TestDomainEventPublisher_PartitionKey(t *testing.T) {
	producer := &recordingProducer{}
	p, _ := NewDomainEventPublisher(producer, nil, PublisherConfig{Topic: "t"}, nil)

	if err := p.Publish(context.Background(), bookDeleted{ID: 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if producer.messages[0].Key != "book-1" {
		t.Errorf("key = %q, want partition key", producer.messages[0].Key)
	}
	if _, ok := producer.messages[0].Headers[HeaderCorrelationID]; ok {
		t.Error("correlation header set without correlation id")
	}
}

func TestDomainEventPublisher_Errors(t *testing.T) {
	brokerDown := errors.New("broker down")
	p, _ := NewDomainEventPublisher(&recordingProducer{err: brokerDown}, nil, PublisherConfig{Topic: "t"}, nil)
	if err := p.Publish(context.Background(), bookCreated{}); !errors.Is(err, brokerDown) {
		t.Errorf("Publish() error = %v, want %v", err, brokerDown)
	}

	p, _ = NewDomainEventPublisher(&recordingProducer{}, NewProtobufSerializer(), PublisherConfig{Topic: "t"}, nil)
	if err := p.Publish(context.Background(), bookCreated{}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Publish() error = %v, want %v", err, ErrUnsupportedType)
	}
}
