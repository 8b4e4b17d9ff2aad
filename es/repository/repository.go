// Package repository reconstructs aggregates from snapshots plus trailing
// events and decides when new snapshots are taken.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/eventstore"
	"github.com/getpup/pupflow/es/recorder"
)

var (
	// ErrAggregateNotFound indicates no events and no snapshot exist for
	// the requested aggregate.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrNotSnapshottable indicates a snapshot was requested for a root
	// that does not implement Snapshottable.
	ErrNotSnapshottable = errors.New("aggregate does not support snapshots")
)

// Snapshottable is implemented by roots whose full state can be captured
// and restored. The marshaled state must include the embedded aggregate
// attributes (id, version, timestamps) so a restore is complete.
type Snapshottable interface {
	es.Root
	MarshalSnapshot() ([]byte, error)
	UnmarshalSnapshot(state []byte) error
}

// SnapshottingPolicy decides when a new snapshot is written after a save.
// Writing a snapshot never deletes event history.
type SnapshottingPolicy interface {
	// ShouldSnapshot is consulted after the given events were saved.
	ShouldSnapshot(root es.Root, saved []es.DomainEvent) bool
}

// EveryN snapshots whenever a save crosses a multiple of n versions.
type EveryN int

// ShouldSnapshot implements SnapshottingPolicy.
func (n EveryN) ShouldSnapshot(_ es.Root, saved []es.DomainEvent) bool {
	if n <= 0 {
		return false
	}
	for _, e := range saved {
		if e.Meta().OriginatorVersion%int64(n) == 0 {
			return true
		}
	}
	return false
}

// Repository reconstructs aggregates and persists their pending events.
type Repository struct {
	events    *eventstore.EventStore
	snapshots *SnapshotStore
	newRoot   func() es.Root
	policy    SnapshottingPolicy
	afterSave func()
	logger    es.Logger
}

// Option is a functional option for configuring a Repository.
type Option func(*Repository)

// WithSnapshots enables snapshotting against the given recorder, which
// must point at the snapshots table/stream. The topic tags snapshot
// records with the aggregate type.
func WithSnapshots(rec recorder.AggregateRecorder, topic string) Option {
	return func(r *Repository) {
		r.snapshots = &SnapshotStore{recorder: rec, topic: topic}
	}
}

// WithSnapshottingPolicy sets when snapshots are taken automatically.
func WithSnapshottingPolicy(policy SnapshottingPolicy) Option {
	return func(r *Repository) {
		r.policy = policy
	}
}

// WithAfterSave registers a hook that runs after every successful save.
// The application layer uses it to prompt downstream followers.
func WithAfterSave(fn func()) Option {
	return func(r *Repository) {
		r.afterSave = fn
	}
}

// WithLogger sets a logger for the repository.
func WithLogger(logger es.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// New creates a repository. newRoot must return a fresh zero aggregate.
func New(events *eventstore.EventStore, newRoot func() es.Root, opts ...Option) *Repository {
	r := &Repository{events: events, newRoot: newRoot}
	for _, opt := range opts {
		opt(r)
	}
	if r.snapshots != nil {
		r.snapshots.mapper = events.Mapper()
	}
	return r
}

// Get reconstructs the aggregate at the given version, or at its latest
// version when version is nil. When a snapshot at or below the requested
// version exists, only the trailing events are replayed.
func (r *Repository) Get(ctx context.Context, id uuid.UUID, version *int64) (es.Root, error) {
	root := r.newRoot()

	var base int64
	if r.snapshots != nil {
		snapVersion, state, found, err := r.snapshots.Latest(ctx, id, version)
		if err != nil {
			return nil, err
		}
		if found {
			snapshottable, ok := root.(Snapshottable)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrNotSnapshottable, root)
			}
			if err := snapshottable.UnmarshalSnapshot(state); err != nil {
				return nil, fmt.Errorf("failed to restore snapshot at version %d: %w", snapVersion, err)
			}
			base = snapVersion
		}
	}

	var gt *int64
	if base > 0 {
		gt = &base
	}
	events, err := r.events.Get(ctx, id, gt, version, false, 0)
	if err != nil {
		return nil, err
	}
	if base == 0 && len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
	}

	for _, event := range events {
		if err := root.Mutate(event); err != nil {
			return nil, fmt.Errorf("failed to replay event at version %d: %w", event.Meta().OriginatorVersion, err)
		}
	}

	if r.logger != nil {
		r.logger.Debug(ctx, "aggregate reconstructed",
			"aggregate_id", id,
			"snapshot_version", base,
			"replayed_events", len(events),
			"version", root.AggregateVersion())
	}
	return root, nil
}

// Save collects and persists the aggregate's pending events, then applies
// the snapshotting policy. A concurrency conflict surfaces as
// eventstore.ErrConcurrency; the caller re-fetches and reapplies intent.
func (r *Repository) Save(ctx context.Context, root es.Root) error {
	events := root.CollectPendingEvents()
	if len(events) == 0 {
		return nil
	}

	if err := r.events.Put(ctx, events); err != nil {
		return err
	}
	if r.afterSave != nil {
		r.afterSave()
	}

	if r.snapshots != nil && r.policy != nil && r.policy.ShouldSnapshot(root, events) {
		if err := r.TakeSnapshot(ctx, root); err != nil {
			// The events are durable; a failed snapshot only costs
			// replay time on the next Get.
			if r.logger != nil {
				r.logger.Error(ctx, "snapshot failed",
					"aggregate_id", root.AggregateID(),
					"version", root.AggregateVersion(),
					"error", err)
			}
		}
	}
	return nil
}

// TakeSnapshot writes a snapshot of the aggregate's current state.
func (r *Repository) TakeSnapshot(ctx context.Context, root es.Root) error {
	if r.snapshots == nil {
		return errors.New("repository has no snapshot store")
	}
	snapshottable, ok := root.(Snapshottable)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotSnapshottable, root)
	}

	state, err := snapshottable.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := r.snapshots.Put(ctx, root.AggregateID(), root.AggregateVersion(), state); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Info(ctx, "snapshot taken",
			"aggregate_id", root.AggregateID(),
			"version", root.AggregateVersion())
	}
	return nil
}
