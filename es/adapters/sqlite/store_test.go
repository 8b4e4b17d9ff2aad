package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/adapters/sqlite"
	"github.com/getpup/pupflow/es/migrations"
	"github.com/getpup/pupflow/es/recorder"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", "file::memory:?_txlock=immediate")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// In-memory databases exist per connection; keep exactly one.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	config := migrations.DefaultConfig()
	if _, err := db.Exec(migrations.SQLiteSQL(&config)); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, opts ...sqlite.StoreOption) *sqlite.Store {
	t.Helper()
	db := getTestDB(t)
	opts = append([]sqlite.StoreOption{sqlite.WithApplication("testapp", 0)}, opts...)
	return sqlite.NewStore(db, sqlite.NewStoreConfig(opts...))
}

func stored(id uuid.UUID, version int64) es.StoredEvent {
	return es.StoredEvent{
		OriginatorID:      id,
		OriginatorVersion: version,
		Topic:             "Test.Event",
		State:             []byte(fmt.Sprintf(`{"v":%d}`, version)),
	}
}

func TestStore_InsertAndSelectEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	if err := store.InsertEvents(ctx, nil); !errors.Is(err, recorder.ErrNoEvents) {
		t.Errorf("empty insert error = %v, want ErrNoEvents", err)
	}

	batch := []es.StoredEvent{stored(id, 1), stored(id, 2), stored(id, 3)}
	if err := store.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	events, err := store.SelectEvents(ctx, id, nil, nil, false, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("selected %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.OriginatorVersion != int64(i)+1 {
			t.Errorf("event %d version = %d, want %d", i, e.OriginatorVersion, i+1)
		}
		if e.Topic != "Test.Event" {
			t.Errorf("event %d topic = %q", i, e.Topic)
		}
	}

	// Unknown aggregate reads empty.
	events, err = store.SelectEvents(ctx, uuid.New(), nil, nil, false, 0)
	if err != nil || len(events) != 0 {
		t.Errorf("unknown aggregate: events = %v, err = %v", events, err)
	}
}

func TestStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	if err := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 1)})
	if !errors.Is(err, recorder.ErrIntegrity) {
		t.Fatalf("duplicate version error = %v, want ErrIntegrity", err)
	}

	// The failed batch must leave no trace, including no burnt
	// notification id.
	maxID, err := store.MaxNotificationID(ctx)
	if err != nil {
		t.Fatalf("max notification id: %v", err)
	}
	if maxID != 1 {
		t.Errorf("max notification id = %d after failed insert, want 1", maxID)
	}
}

func TestStore_ConflictRejectsExactlyOneWriter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	if err := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Two divergent continuations from version 1.
	errA := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 2)})
	errB := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 2)})

	if errA != nil {
		t.Fatalf("first writer failed: %v", errA)
	}
	if !errors.Is(errB, recorder.ErrIntegrity) {
		t.Fatalf("second writer error = %v, want ErrIntegrity", errB)
	}

	events, _ := store.SelectEvents(ctx, id, nil, nil, false, 0)
	if len(events) != 2 {
		t.Errorf("stream has %d events, want 2", len(events))
	}
}

func TestStore_SelectEventsWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	var batch []es.StoredEvent
	for v := int64(1); v <= 10; v++ {
		batch = append(batch, stored(id, v))
	}
	if err := store.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	gt, lte := int64(3), int64(8)
	events, err := store.SelectEvents(ctx, id, &gt, &lte, false, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("window returned %d events, want 5", len(events))
	}
	if events[0].OriginatorVersion != 4 || events[4].OriginatorVersion != 8 {
		t.Errorf("window = [%d..%d], want [4..8]", events[0].OriginatorVersion, events[4].OriginatorVersion)
	}

	desc, err := store.SelectEvents(ctx, id, nil, nil, true, 1)
	if err != nil {
		t.Fatalf("select desc: %v", err)
	}
	if len(desc) != 1 || desc[0].OriginatorVersion != 10 {
		t.Errorf("desc limit 1 = %+v, want version 10", desc)
	}
}

func TestStore_NotificationsAreGapless(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 7; i++ {
		if err := store.InsertEvents(ctx, []es.StoredEvent{stored(uuid.New(), 1)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	maxID, err := store.MaxNotificationID(ctx)
	if err != nil {
		t.Fatalf("max notification id: %v", err)
	}
	if maxID != 7 {
		t.Errorf("max notification id = %d, want 7", maxID)
	}

	notifications, err := store.SelectNotifications(ctx, 3, 2)
	if err != nil {
		t.Fatalf("select notifications: %v", err)
	}
	if len(notifications) != 2 || notifications[0].ID != 3 || notifications[1].ID != 4 {
		t.Errorf("notifications = %+v, want ids 3,4", notifications)
	}

	// Past the end reads empty.
	notifications, err = store.SelectNotifications(ctx, 8, 10)
	if err != nil || len(notifications) != 0 {
		t.Errorf("past-end read: %v, %v", notifications, err)
	}
}

func TestStore_NonNotifiableEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	events := []es.StoredEvent{stored(id, 1), stored(id, 2), stored(id, 3)}
	events[1].NonNotifiable = true
	if err := store.InsertEvents(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	maxID, _ := store.MaxNotificationID(ctx)
	if maxID != 2 {
		t.Errorf("max notification id = %d, want 2 (non-notifiable consumed an id)", maxID)
	}

	notifications, _ := store.SelectNotifications(ctx, 1, 10)
	if len(notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifications))
	}
	if notifications[0].OriginatorVersion != 1 || notifications[1].OriginatorVersion != 3 {
		t.Error("non-notifiable event appeared in notifications")
	}

	stream, _ := store.SelectEvents(ctx, id, nil, nil, false, 0)
	if len(stream) != 3 {
		t.Errorf("stream has %d events, want 3", len(stream))
	}
}

func TestStore_Tracking(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	tracking := es.Tracking{
		ApplicationName: "testapp",
		UpstreamName:    "upstream",
		PipelineID:      0,
		NotificationID:  1,
	}

	if err := store.InsertEventsAndTracking(ctx, []es.StoredEvent{stored(id, 1)}, tracking); err != nil {
		t.Fatalf("combined insert: %v", err)
	}

	ok, err := store.HasTrackingRecord(ctx, "upstream", 0, 1)
	if err != nil {
		t.Fatalf("has tracking record: %v", err)
	}
	if !ok {
		t.Error("tracking record missing after combined insert")
	}

	maxTracking, err := store.MaxTrackingID(ctx, "upstream")
	if err != nil {
		t.Fatalf("max tracking id: %v", err)
	}
	if maxTracking != 1 {
		t.Errorf("max tracking id = %d, want 1", maxTracking)
	}
	if maxTracking, _ := store.MaxTrackingID(ctx, "other"); maxTracking != 0 {
		t.Errorf("max tracking id for unrelated upstream = %d, want 0", maxTracking)
	}
}

func TestStore_RedeliveryCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := uuid.New()

	tracking := es.Tracking{
		ApplicationName: "testapp",
		UpstreamName:    "upstream",
		PipelineID:      0,
		NotificationID:  5,
	}

	if err := store.InsertEventsAndTracking(ctx, []es.StoredEvent{stored(id, 1)}, tracking); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Redelivery of the same upstream notification: the duplicate tracking
	// key must abort the whole batch.
	err := store.InsertEventsAndTracking(ctx, []es.StoredEvent{stored(id, 2)}, tracking)
	if !errors.Is(err, recorder.ErrIntegrity) {
		t.Fatalf("redelivery error = %v, want ErrIntegrity", err)
	}

	events, _ := store.SelectEvents(ctx, id, nil, nil, false, 0)
	if len(events) != 1 {
		t.Errorf("stream has %d events after redelivery, want 1", len(events))
	}
	maxID, _ := store.MaxNotificationID(ctx)
	if maxID != 1 {
		t.Errorf("max notification id = %d after redelivery, want 1", maxID)
	}
}

func TestStore_SnapshotTableIsSeparateStream(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)

	events := sqlite.NewStore(db, sqlite.NewStoreConfig(sqlite.WithApplication("testapp", 0)))
	snapshots := sqlite.NewStore(db, sqlite.NewStoreConfig(
		sqlite.WithApplication("testapp", 0),
		sqlite.WithEventsTable("snapshots"),
	))

	id := uuid.New()
	for v := int64(1); v <= 3; v++ {
		if err := events.InsertEvents(ctx, []es.StoredEvent{stored(id, v)}); err != nil {
			t.Fatalf("insert event %d: %v", v, err)
		}
	}

	snap := stored(id, 2)
	snap.NonNotifiable = true
	if err := snapshots.InsertEvents(ctx, []es.StoredEvent{snap}); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	// Snapshot stream holds only the snapshot; event stream is untouched.
	got, _ := snapshots.SelectEvents(ctx, id, nil, nil, true, 1)
	if len(got) != 1 || got[0].OriginatorVersion != 2 {
		t.Errorf("snapshot stream = %+v, want one record at version 2", got)
	}
	stream, _ := events.SelectEvents(ctx, id, nil, nil, false, 0)
	if len(stream) != 3 {
		t.Errorf("event stream has %d records, want 3", len(stream))
	}
	maxID, _ := events.MaxNotificationID(ctx)
	if maxID != 3 {
		t.Errorf("snapshot consumed a notification id: max = %d, want 3", maxID)
	}
}
