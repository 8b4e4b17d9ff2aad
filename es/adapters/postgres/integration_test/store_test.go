// Package integration_test contains integration tests for the Postgres adapter.
// These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./es/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/adapters/postgres"
	"github.com/getpup/pupflow/es/migrations"
	"github.com/getpup/pupflow/es/recorder"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Default to localhost, but allow override via env var for CI
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=postgres password=postgres dbname=pupflow_test sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
	return db
}

func setupTestTables(t *testing.T, db *sql.DB) migrations.Config {
	t.Helper()

	config := migrations.DefaultConfig()
	config.EventsTable = fmt.Sprintf("stored_events_%d", time.Now().UnixNano())
	config.SnapshotsTable = config.EventsTable + "_snapshots"
	config.TrackingTable = config.EventsTable + "_tracking"

	if _, err := db.Exec(migrations.PostgresSQL(&config)); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s, %s, %s",
			config.EventsTable, config.SnapshotsTable, config.TrackingTable))
	})
	return config
}

func newTestStore(t *testing.T, db *sql.DB, tables migrations.Config) *postgres.Store {
	t.Helper()
	return postgres.NewStore(db, postgres.NewStoreConfig(
		postgres.WithEventsTable(tables.EventsTable),
		postgres.WithTrackingTable(tables.TrackingTable),
		postgres.WithApplication("testapp", 0),
	))
}

func stored(id uuid.UUID, version int64) es.StoredEvent {
	return es.StoredEvent{
		OriginatorID:      id,
		OriginatorVersion: version,
		Topic:             "Test.Event",
		State:             []byte(fmt.Sprintf(`{"v":%d}`, version)),
	}
}

func TestStore_InsertSelectRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	store := newTestStore(t, db, setupTestTables(t, db))
	id := uuid.New()

	if err := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 1), stored(id, 2)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	events, err := store.SelectEvents(ctx, id, nil, nil, false, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(events) != 2 || events[0].OriginatorVersion != 1 || events[1].OriginatorVersion != 2 {
		t.Errorf("events = %+v, want versions 1,2", events)
	}
}

func TestStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	store := newTestStore(t, db, setupTestTables(t, db))
	id := uuid.New()

	if err := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertEvents(ctx, []es.StoredEvent{stored(id, 1)}); !errors.Is(err, recorder.ErrIntegrity) {
		t.Errorf("duplicate insert error = %v, want ErrIntegrity", err)
	}
}

func TestStore_NotificationContiguityUnderConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	store := newTestStore(t, db, setupTestTables(t, db))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.InsertEvents(ctx, []es.StoredEvent{stored(uuid.New(), 1)}); err != nil {
				t.Errorf("concurrent insert: %v", err)
			}
		}()
	}
	wg.Wait()

	maxID, err := store.MaxNotificationID(ctx)
	if err != nil {
		t.Fatalf("max notification id: %v", err)
	}
	if maxID != writers {
		t.Errorf("max notification id = %d, want %d", maxID, writers)
	}

	notifications, err := store.SelectNotifications(ctx, 1, writers)
	if err != nil {
		t.Fatalf("select notifications: %v", err)
	}
	for i, n := range notifications {
		if n.ID != int64(i)+1 {
			t.Errorf("notification %d has id %d, want %d", i, n.ID, i+1)
		}
	}
}

func TestStore_ExactlyOnceTracking(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	store := newTestStore(t, db, setupTestTables(t, db))
	id := uuid.New()

	tracking := es.Tracking{
		ApplicationName: "testapp",
		UpstreamName:    "upstream",
		NotificationID:  1,
	}
	if err := store.InsertEventsAndTracking(ctx, []es.StoredEvent{stored(id, 1)}, tracking); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	err := store.InsertEventsAndTracking(ctx, []es.StoredEvent{stored(id, 2)}, tracking)
	if !errors.Is(err, recorder.ErrIntegrity) {
		t.Fatalf("redelivery error = %v, want ErrIntegrity", err)
	}

	events, _ := store.SelectEvents(ctx, id, nil, nil, false, 0)
	if len(events) != 1 {
		t.Errorf("stream has %d events after redelivery, want 1", len(events))
	}
	if max, _ := store.MaxTrackingID(ctx, "upstream"); max != 1 {
		t.Errorf("max tracking id = %d, want 1", max)
	}
}
