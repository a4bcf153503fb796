// Package domain defines the capabilities an entity can opt into: soft deletion,
// buffered domain events and optimistic versioning.
package domain

// Event is a domain notification buffered on an entity and published after the
// unit of work that recorded it commits.
type Event any

// NamedEvent is implemented by events that carry a stable routing name.
// Events without a name are routed by their Go type.
type NamedEvent interface {
	EventName() string
}

// SoftDeletable is implemented by entities whose deletion is rewritten into
// a flag update unless a hard delete is requested.
type SoftDeletable interface {
	IsSoftDeleted() bool
	SetSoftDeleted(deleted bool)
}

// EventSource is implemented by entities that buffer domain events.
type EventSource interface {
	// DomainEvents returns the buffered events in recording order.
	DomainEvents() []Event

	// ClearDomainEvents empties the buffer. Only the dispatcher calls it.
	ClearDomainEvents()
}

// SoftDelete is an embeddable SoftDeletable implementation mapped to the
// is_soft_deleted column.
type SoftDelete struct {
	SoftDeleted bool `db:"is_soft_deleted,softdelete"`
}

// IsSoftDeleted reports whether the entity is flagged as deleted.
func (s *SoftDelete) IsSoftDeleted() bool {
	return s.SoftDeleted
}

// SetSoftDeleted sets the soft-delete flag.
func (s *SoftDelete) SetSoftDeleted(deleted bool) {
	s.SoftDeleted = deleted
}

// Events is an embeddable, append-only EventSource implementation.
// It holds no mapped columns and is never persisted.
type Events struct {
	events []Event
}

// Record appends an event to the buffer.
func (e *Events) Record(event Event) {
	e.events = append(e.events, event)
}

// DomainEvents returns a copy of the buffered events.
func (e *Events) DomainEvents() []Event {
	if len(e.events) == 0 {
		return nil
	}
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// ClearDomainEvents empties the buffer.
func (e *Events) ClearDomainEvents() {
	e.events = nil
}

// EventName returns the routing name of an event: EventName() when the event
// implements NamedEvent, otherwise its Go type.
func EventName(event Event) string {
	if named, ok := event.(NamedEvent); ok {
		return named.EventName()
	}
	return typeName(event)
}
