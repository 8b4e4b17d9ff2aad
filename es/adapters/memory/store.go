// Package memory provides an in-process recorder for tests, examples and
// single-process deployments. It honors the same contract as the SQL
// adapters: atomic inserts, version uniqueness per aggregate, gapless
// notification ids, and atomic event+tracking writes.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/recorder"
)

type trackingKey struct {
	upstreamName   string
	pipelineID     int
	notificationID int64
}

// Store is an in-process ProcessRecorder. All operations are serialized
// under one mutex, which is what makes insert-time notification id
// assignment trivially gapless here.
type Store struct {
	mu sync.Mutex

	// events per aggregate, in version order
	streams map[uuid.UUID][]es.StoredEvent

	// notifiable events in notification id order; ids are 1-based and
	// dense, so notifications[i].ID == i+1
	notifications []es.Notification

	tracking map[trackingKey]struct{}

	logger es.Logger
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty in-process store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		streams:  make(map[uuid.UUID][]es.StoredEvent),
		tracking: make(map[trackingKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InsertEvents implements recorder.AggregateRecorder.
func (s *Store) InsertEvents(ctx context.Context, events []es.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ctx, events)
}

// insertLocked validates the whole batch before mutating anything, so a
// rejected insert leaves no partial state behind.
func (s *Store) insertLocked(ctx context.Context, events []es.StoredEvent) error {
	if len(events) == 0 {
		return recorder.ErrNoEvents
	}

	for i := range events {
		e := &events[i]
		if s.versionExistsLocked(e.OriginatorID, e.OriginatorVersion) {
			if s.logger != nil {
				s.logger.Error(ctx, "integrity conflict",
					"originator_id", e.OriginatorID,
					"originator_version", e.OriginatorVersion)
			}
			return fmt.Errorf("%w: originator %s version %d exists", recorder.ErrIntegrity, e.OriginatorID, e.OriginatorVersion)
		}
		// Duplicate versions inside one batch conflict with each other too.
		for j := 0; j < i; j++ {
			if events[j].OriginatorID == e.OriginatorID && events[j].OriginatorVersion == e.OriginatorVersion {
				return fmt.Errorf("%w: duplicate version %d in batch", recorder.ErrIntegrity, e.OriginatorVersion)
			}
		}
	}

	for i := range events {
		e := events[i]
		s.streams[e.OriginatorID] = append(s.streams[e.OriginatorID], e)
		if !e.NonNotifiable {
			s.notifications = append(s.notifications, es.Notification{
				StoredEvent: e,
				ID:          int64(len(s.notifications)) + 1,
			})
		}
	}

	if s.logger != nil {
		s.logger.Debug(ctx, "events inserted", "event_count", len(events))
	}
	return nil
}

func (s *Store) versionExistsLocked(originatorID uuid.UUID, version int64) bool {
	for i := range s.streams[originatorID] {
		if s.streams[originatorID][i].OriginatorVersion == version {
			return true
		}
	}
	return false
}

// SelectEvents implements recorder.AggregateRecorder.
func (s *Store) SelectEvents(_ context.Context, originatorID uuid.UUID, gt, lte *int64, desc bool, limit int) ([]es.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []es.StoredEvent
	stream := s.streams[originatorID]
	for i := range stream {
		e := stream[i]
		if desc {
			e = stream[len(stream)-1-i]
		}
		if gt != nil && e.OriginatorVersion <= *gt {
			continue
		}
		if lte != nil && e.OriginatorVersion > *lte {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SelectNotifications implements recorder.ApplicationRecorder.
func (s *Store) SelectNotifications(_ context.Context, start int64, limit int) ([]es.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start < 1 {
		start = 1
	}
	if start > int64(len(s.notifications)) || limit <= 0 {
		return nil, nil
	}

	end := start - 1 + int64(limit)
	if end > int64(len(s.notifications)) {
		end = int64(len(s.notifications))
	}

	out := make([]es.Notification, end-start+1)
	copy(out, s.notifications[start-1:end])
	return out, nil
}

// MaxNotificationID implements recorder.ApplicationRecorder.
func (s *Store) MaxNotificationID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.notifications)), nil
}

// MaxTrackingID implements recorder.ProcessRecorder.
func (s *Store) MaxTrackingID(_ context.Context, upstreamName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	for key := range s.tracking {
		if key.upstreamName == upstreamName && key.notificationID > max {
			max = key.notificationID
		}
	}
	return max, nil
}

// HasTrackingRecord implements recorder.ProcessRecorder.
func (s *Store) HasTrackingRecord(_ context.Context, upstreamName string, pipelineID int, notificationID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tracking[trackingKey{upstreamName, pipelineID, notificationID}]
	return ok, nil
}

// InsertEventsAndTracking implements recorder.ProcessRecorder.
func (s *Store) InsertEventsAndTracking(ctx context.Context, events []es.StoredEvent, tracking es.Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := trackingKey{tracking.UpstreamName, tracking.PipelineID, tracking.NotificationID}
	if _, ok := s.tracking[key]; ok {
		return fmt.Errorf("%w: tracking record for %s/%d/%d exists",
			recorder.ErrIntegrity, tracking.UpstreamName, tracking.PipelineID, tracking.NotificationID)
	}

	if len(events) > 0 {
		if err := s.insertLocked(ctx, events); err != nil {
			return err
		}
	}

	s.tracking[key] = struct{}{}
	return nil
}
