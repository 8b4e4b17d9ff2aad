package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/mapper"
	"github.com/getpup/pupflow/es/recorder"
)

// SnapshotStore keeps full aggregate states in a stream separate from the
// aggregate's events, using the same recorder abstraction and the same
// mapper encoding (compression/encryption) as the events themselves.
// Snapshot records are never notifiable.
type SnapshotStore struct {
	recorder recorder.AggregateRecorder
	mapper   *mapper.Mapper
	topic    string
}

// Put stores a snapshot of the aggregate at the given version.
// A snapshot that already exists at that version is left in place.
func (s *SnapshotStore) Put(ctx context.Context, id uuid.UUID, version int64, state []byte) error {
	encoded, err := s.mapper.EncodeState(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot state: %w", err)
	}

	stored := es.StoredEvent{
		OriginatorID:      id,
		OriginatorVersion: version,
		Topic:             s.topic,
		State:             encoded,
		NonNotifiable:     true,
	}

	if err := s.recorder.InsertEvents(ctx, []es.StoredEvent{stored}); err != nil {
		// Same snapshot written twice (e.g. by two processes) is fine.
		if errors.Is(err, recorder.ErrIntegrity) {
			return nil
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot at or below lte (or the most
// recent overall when lte is nil), with its state decoded.
func (s *SnapshotStore) Latest(ctx context.Context, id uuid.UUID, lte *int64) (int64, []byte, bool, error) {
	snapshots, err := s.recorder.SelectEvents(ctx, id, nil, lte, true, 1)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to select snapshot: %w", err)
	}
	if len(snapshots) == 0 {
		return 0, nil, false, nil
	}

	state, err := s.mapper.DecodeState(snapshots[0].State)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to decode snapshot state: %w", err)
	}
	return snapshots[0].OriginatorVersion, state, true, nil
}
