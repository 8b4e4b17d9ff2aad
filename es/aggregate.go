package es

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVersionConflict indicates an event's version does not follow the
	// aggregate's current version, or the event belongs to another aggregate.
	ErrVersionConflict = errors.New("version conflict")
)

// Root is the interface aggregates expose to the repository and the
// process application. The Aggregate base type provides everything except
// Mutate, which carries the type-specific apply logic.
type Root interface {
	AggregateID() uuid.UUID
	AggregateVersion() int64

	// Mutate validates and applies one event, advancing the aggregate.
	// It must fail with ErrVersionConflict on an out-of-sequence event
	// and must not mutate anything when it fails.
	Mutate(event DomainEvent) error

	// CollectPendingEvents drains the queue of triggered, not yet
	// persisted events. Called exactly once per save.
	CollectPendingEvents() []DomainEvent
}

// Aggregate is the embeddable base for event-sourced aggregates.
// State changes only by applying events; the version counter increments by
// exactly one per applied event, starting at 1 on creation.
//
// The aggregate is owned exclusively by the in-process caller until its
// pending events are collected and persisted. After that, durable state is
// authoritative.
type Aggregate struct {
	ID         uuid.UUID `json:"id"`
	Version    int64     `json:"version"`
	CreatedOn  time.Time `json:"created_on"`
	ModifiedOn time.Time `json:"modified_on"`

	pending []DomainEvent
}

// AggregateID implements Root.
func (a *Aggregate) AggregateID() uuid.UUID {
	return a.ID
}

// AggregateVersion implements Root.
func (a *Aggregate) AggregateVersion() int64 {
	return a.Version
}

// NextMeta returns event metadata for the next version of this aggregate.
func (a *Aggregate) NextMeta() EventMeta {
	return NewEventMeta(a.ID, a.Version+1)
}

// Advance validates the event metadata against the aggregate's identity and
// version and moves the version counter forward. Concrete aggregates call
// it from Mutate before applying their own state changes.
//
// The first event (version 1) establishes the aggregate's identity and
// creation time.
func (a *Aggregate) Advance(m EventMeta) error {
	if m.OriginatorVersion == 1 {
		if a.Version != 0 {
			return fmt.Errorf("%w: aggregate %s already at version %d", ErrVersionConflict, a.ID, a.Version)
		}
		a.ID = m.OriginatorID
		a.CreatedOn = m.Timestamp
	} else {
		if m.OriginatorID != a.ID {
			return fmt.Errorf("%w: event originator %s does not match aggregate %s", ErrVersionConflict, m.OriginatorID, a.ID)
		}
		if m.OriginatorVersion != a.Version+1 {
			return fmt.Errorf("%w: event version %d, aggregate at %d", ErrVersionConflict, m.OriginatorVersion, a.Version)
		}
	}

	a.Version = m.OriginatorVersion
	a.ModifiedOn = m.Timestamp
	return nil
}

// Record queues an applied event for persistence.
func (a *Aggregate) Record(event DomainEvent) {
	a.pending = append(a.pending, event)
}

// Trigger applies the event through mutate and, on success, queues it.
// Concrete aggregates pass their own Mutate so the type-specific apply
// logic runs exactly once per event, for both new and replayed events.
func (a *Aggregate) Trigger(mutate func(DomainEvent) error, event DomainEvent) error {
	if err := mutate(event); err != nil {
		return err
	}
	a.Record(event)
	return nil
}

// CollectPendingEvents implements Root. It drains and returns the queue.
func (a *Aggregate) CollectPendingEvents() []DomainEvent {
	events := a.pending
	a.pending = nil
	return events
}

// PendingCount reports the number of recorded, not yet collected events.
func (a *Aggregate) PendingCount() int {
	return len(a.pending)
}
