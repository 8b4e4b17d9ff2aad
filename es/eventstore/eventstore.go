// Package eventstore couples a Mapper and a Recorder. It is the only
// component domain code talks to for persistence.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/mapper"
	"github.com/getpup/pupflow/es/recorder"
)

// ErrConcurrency indicates the recorder rejected an insert because another
// writer committed a conflicting version first. Callers that want to retry
// must re-fetch the aggregate and reapply intent.
var ErrConcurrency = errors.New("concurrency conflict")

// EventStore persists domain events through a mapper and recorder.
type EventStore struct {
	mapper   *mapper.Mapper
	recorder recorder.AggregateRecorder
	logger   es.Logger
}

// Option is a functional option for configuring an EventStore.
type Option func(*EventStore)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) Option {
	return func(s *EventStore) {
		s.logger = logger
	}
}

// New creates an event store over the given mapper and recorder.
func New(m *mapper.Mapper, rec recorder.AggregateRecorder, opts ...Option) *EventStore {
	s := &EventStore{mapper: m, recorder: rec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mapper exposes the store's mapper so collaborators (the process
// application, the snapshot store) share one encoding configuration.
func (s *EventStore) Mapper() *mapper.Mapper {
	return s.mapper
}

// Put maps the events to their stored form and appends them atomically.
// An integrity conflict from the recorder surfaces as ErrConcurrency.
func (s *EventStore) Put(ctx context.Context, events []es.DomainEvent) error {
	stored, err := s.MapEvents(events)
	if err != nil {
		return err
	}

	if err := s.recorder.InsertEvents(ctx, stored); err != nil {
		if errors.Is(err, recorder.ErrIntegrity) {
			if s.logger != nil {
				s.logger.Error(ctx, "optimistic concurrency conflict",
					"event_count", len(events))
			}
			return fmt.Errorf("%w: %v", ErrConcurrency, err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Debug(ctx, "events put", "event_count", len(events))
	}
	return nil
}

// MapEvents encodes domain events without inserting them. The process
// application uses it to build combined event+tracking batches.
func (s *EventStore) MapEvents(events []es.DomainEvent) ([]es.StoredEvent, error) {
	stored := make([]es.StoredEvent, len(events))
	for i, event := range events {
		se, err := s.mapper.FromDomainEvent(event)
		if err != nil {
			return nil, fmt.Errorf("failed to map event %d: %w", i, err)
		}
		stored[i] = se
	}
	return stored, nil
}

// Get reads an aggregate's events in version order, decoded back to
// domain events. gt/lte bound the version range; desc reverses the order;
// limit > 0 caps the result.
func (s *EventStore) Get(ctx context.Context, originatorID uuid.UUID, gt, lte *int64, desc bool, limit int) ([]es.DomainEvent, error) {
	stored, err := s.recorder.SelectEvents(ctx, originatorID, gt, lte, desc, limit)
	if err != nil {
		return nil, err
	}

	events := make([]es.DomainEvent, len(stored))
	for i := range stored {
		event, err := s.mapper.ToDomainEvent(stored[i])
		if err != nil {
			return nil, fmt.Errorf("failed to map stored event at version %d: %w", stored[i].OriginatorVersion, err)
		}
		events[i] = event
	}
	return events, nil
}
