package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Common serialization errors
var (
	// ErrInvalidData is returned for nil values, nil targets and empty payloads.
	ErrInvalidData = errors.New("invalid data for serialization")

	// ErrUnsupportedType is returned when the serializer cannot encode the value.
	ErrUnsupportedType = errors.New("unsupported type for serialization")
)

// Serializer encodes event payloads.
type Serializer interface {
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into target, which must be a pointer.
	Deserialize(data []byte, target any) error

	// ContentType returns the MIME type, e.g. "application/json".
	ContentType() string
}

// NewSerializer returns the serializer registered under name: "json"
// (the default) or "protobuf".
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return NewJSONSerializer(), nil
	case "protobuf", "proto":
		return NewProtobufSerializer(), nil
	default:
		return nil, fmt.Errorf("%w: serializer %q", ErrUnsupportedType, name)
	}
}

// JSONSerializer encodes any event with encoding/json. It is the default.
type JSONSerializer struct{}

// NewJSONSerializer creates a JSON serializer.
func NewJSONSerializer() *JSONSerializer { return &JSONSerializer{} }

// Serialize encodes v as JSON.
func (JSONSerializer) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidData)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

// Deserialize decodes a JSON payload into target.
func (JSONSerializer) Deserialize(data []byte, target any) error {
	if err := checkDecode(data, target); err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// ContentType implements Serializer.
func (JSONSerializer) ContentType() string { return "application/json" }

// ProtobufSerializer encodes events that are generated proto messages.
type ProtobufSerializer struct{}

// NewProtobufSerializer creates a Protocol Buffers serializer.
func NewProtobufSerializer() *ProtobufSerializer { return &ProtobufSerializer{} }

// Serialize encodes v, which must be a proto.Message.
func (ProtobufSerializer) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidData)
	}
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedType, v)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode protobuf: %w", err)
	}
	return data, nil
}

// Deserialize decodes data into target, which must be a proto.Message.
// An empty payload decodes to the zero message.
func (ProtobufSerializer) Deserialize(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("%w: nil target", ErrInvalidData)
	}
	msg, ok := target.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedType, target)
	}
	if len(data) == 0 {
		proto.Reset(msg)
		return nil
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decode protobuf: %w", err)
	}
	return nil
}

// ContentType implements Serializer.
func (ProtobufSerializer) ContentType() string { return "application/protobuf" }

func checkDecode(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("%w: nil target", ErrInvalidData)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidData)
	}
	return nil
}
