// Package recorder defines the storage-backend contract for event records.
//
// Every backend, whether relational or in-process, must honor the same
// externally observable guarantees:
//
//   - InsertEvents is atomic: all events are durably appended or none are.
//   - The unique constraint on (originator_id, originator_version) rejects
//     concurrent writers of the same aggregate with ErrIntegrity.
//   - Notification ids are assigned at insert time, strictly increasing and
//     gapless over notifiable events, even under concurrent writers.
//     Backends that cannot assign ids at insert time compute max(id)+1
//     inside the insert transaction and serialize concurrent inserts.
//   - InsertEventsAndTracking commits the events and the tracking record
//     together or not at all; a duplicate tracking key is ErrIntegrity.
package recorder

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
)

var (
	// ErrIntegrity indicates a uniqueness conflict: a duplicate
	// (originator_id, originator_version) pair or a duplicate tracking key.
	ErrIntegrity = errors.New("integrity conflict")

	// ErrNoEvents indicates an attempt to insert zero events.
	ErrNoEvents = errors.New("no events to insert")
)

// AggregateRecorder records and retrieves the event sequences of
// individual aggregates.
type AggregateRecorder interface {
	// InsertEvents atomically appends the given stored events.
	// Returns ErrIntegrity when any (originator_id, originator_version)
	// pair already exists, ErrNoEvents for an empty batch.
	InsertEvents(ctx context.Context, events []es.StoredEvent) error

	// SelectEvents reads events of one aggregate in version order.
	// gt/lte bound the version range when non-nil; desc reverses the
	// order; limit > 0 caps the result.
	SelectEvents(ctx context.Context, originatorID uuid.UUID, gt, lte *int64, desc bool, limit int) ([]es.StoredEvent, error)
}

// ApplicationRecorder additionally assigns notification ids to notifiable
// events at insert time and exposes the application's total event order.
type ApplicationRecorder interface {
	AggregateRecorder

	// SelectNotifications reads notifications with id >= start, in id
	// order, up to limit records.
	SelectNotifications(ctx context.Context, start int64, limit int) ([]es.Notification, error)

	// MaxNotificationID returns the highest assigned notification id,
	// or 0 when nothing notifiable has been recorded.
	MaxNotificationID(ctx context.Context) (int64, error)
}

// ProcessRecorder additionally maintains tracking records so a downstream
// application can consume an upstream notification log exactly once.
type ProcessRecorder interface {
	ApplicationRecorder

	// MaxTrackingID returns the highest upstream notification id already
	// incorporated from the named upstream application, or 0.
	MaxTrackingID(ctx context.Context, upstreamName string) (int64, error)

	// HasTrackingRecord reports whether the given upstream notification
	// was already incorporated.
	HasTrackingRecord(ctx context.Context, upstreamName string, pipelineID int, notificationID int64) (bool, error)

	// InsertEventsAndTracking atomically appends the events and the
	// tracking record; both commit together or neither does. The events
	// slice may be empty - the tracking record alone still commits, which
	// is how a notification that produces no events is marked processed.
	InsertEventsAndTracking(ctx context.Context, events []es.StoredEvent, tracking es.Tracking) error
}
