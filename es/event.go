package es

import (
	"time"

	"github.com/google/uuid"
)

// EventMeta carries the identity and ordering attributes shared by every
// domain event. Domain event types embed it to satisfy DomainEvent.
type EventMeta struct {
	// OriginatorID identifies the aggregate this event belongs to
	OriginatorID uuid.UUID `json:"originator_id"`

	// OriginatorVersion is the aggregate version after this event is applied.
	// Used for optimistic concurrency control.
	OriginatorVersion int64 `json:"originator_version"`

	// Timestamp is when the event was created
	Timestamp time.Time `json:"timestamp"`
}

// Meta implements DomainEvent for any type embedding EventMeta.
func (m EventMeta) Meta() EventMeta {
	return m
}

// NewEventMeta constructs metadata for an event at the given version.
// Timestamps are always UTC.
func NewEventMeta(originatorID uuid.UUID, version int64) EventMeta {
	return EventMeta{
		OriginatorID:      originatorID,
		OriginatorVersion: version,
		Timestamp:         time.Now().UTC(),
	}
}

// DomainEvent represents an immutable domain event.
// Events are value objects without identity until persisted.
type DomainEvent interface {
	Meta() EventMeta
}

// StoredEvent is the persisted form of a domain event.
// Topic identifies the concrete event type for later reconstruction;
// State is the mapper's encoded payload.
type StoredEvent struct {
	// OriginatorID identifies the aggregate instance
	OriginatorID uuid.UUID

	// OriginatorVersion positions the event in the aggregate's sequence
	OriginatorVersion int64

	// Topic identifies the concrete event type
	Topic string

	// State contains the encoded payload
	// Stored as a byte string - allows any serialization format
	State []byte

	// NonNotifiable excludes the record from the application's notification
	// sequence. It consumes no notification id. Snapshots are always stored
	// this way.
	NonNotifiable bool
}

// Notification is a stored event annotated with the application-wide
// sequence number assigned at insert time.
type Notification struct {
	StoredEvent

	// ID is unique and gapless across all notifiable events of one application
	ID int64
}

// Tracking is a durable idempotency marker recording that a downstream
// application has incorporated one upstream notification. It is written in
// the same transaction as the events it produced.
type Tracking struct {
	// ApplicationName is the consuming application
	ApplicationName string

	// UpstreamName is the application whose notification was processed
	UpstreamName string

	// PipelineID partitions independent processing lanes between the
	// same two applications
	PipelineID int

	// NotificationID is the upstream notification that was processed
	NotificationID int64
}
