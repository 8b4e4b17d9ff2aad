// Package sqlite provides a SQLite-backed recorder.
//
// Open the database with a DSN like
//
//	file:app.db?_pragma=journal_mode(WAL)&_txlock=immediate
//
// so write transactions take the write lock at BEGIN. SQLite serializes
// writers, which is what keeps max(notification_id)+1 assignment gapless
// under concurrency.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/recorder"
)

// StoreConfig contains configuration for the SQLite recorder.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// EventsTable is the name of the events table
	EventsTable string

	// TrackingTable is the name of the tracking records table
	TrackingTable string

	// ApplicationName names the owning application in tracking records
	ApplicationName string

	// PipelineID is this recorder's processing lane
	PipelineID int
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EventsTable:   "stored_events",
		TrackingTable: "tracking_records",
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithEventsTable sets a custom events table name. Pointing a second Store
// at a snapshots table is how the repository keeps snapshots in a
// logically separate stream.
func WithEventsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EventsTable = tableName
	}
}

// WithTrackingTable sets a custom tracking records table name.
func WithTrackingTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.TrackingTable = tableName
	}
}

// WithApplication sets the application name and pipeline id recorded in
// tracking records.
func WithApplication(name string, pipelineID int) StoreOption {
	return func(c *StoreConfig) {
		c.ApplicationName = name
		c.PipelineID = pipelineID
	}
}

// NewStoreConfig creates a new store configuration with functional options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a SQLite-backed ProcessRecorder.
type Store struct {
	db     *sql.DB
	config StoreConfig
}

// NewStore creates a new SQLite recorder over the given database.
func NewStore(db *sql.DB, config StoreConfig) *Store {
	return &Store{db: db, config: config}
}

// InsertEvents implements recorder.AggregateRecorder.
func (s *Store) InsertEvents(ctx context.Context, events []es.StoredEvent) error {
	if len(events) == 0 {
		return recorder.ErrNoEvents
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	if err := s.insertEventsTx(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

// insertEventsTx appends the events inside an open transaction, assigning
// notification ids as max(id)+1 over the events table.
func (s *Store) insertEventsTx(ctx context.Context, tx es.DBTX, events []es.StoredEvent) error {
	nextID, err := s.maxNotificationIDTx(ctx, tx)
	if err != nil {
		return err
	}
	nextID++

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (originator_id, originator_version, topic, state, notification_id)
		VALUES (?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	for i := range events {
		e := &events[i]

		var notificationID interface{}
		if !e.NonNotifiable {
			notificationID = nextID
			nextID++
		}

		_, err := tx.ExecContext(ctx, insertQuery,
			e.OriginatorID.String(),
			e.OriginatorVersion,
			e.Topic,
			e.State,
			notificationID,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				if s.config.Logger != nil {
					s.config.Logger.Error(ctx, "integrity conflict",
						"originator_id", e.OriginatorID,
						"originator_version", e.OriginatorVersion)
				}
				return fmt.Errorf("%w: %v", recorder.ErrIntegrity, err)
			}
			return fmt.Errorf("failed to insert event %d: %w", i, err)
		}
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "events inserted", "event_count", len(events))
	}
	return nil
}

func (s *Store) maxNotificationIDTx(ctx context.Context, tx es.DBTX) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(notification_id), 0) FROM %s
	`, s.config.EventsTable)

	var max int64
	if err := tx.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max notification id: %w", err)
	}
	return max, nil
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// SQLite error messages for unique constraint violations
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint") ||
		strings.Contains(errMsg, "constraint failed")
}

// SelectEvents implements recorder.AggregateRecorder.
func (s *Store) SelectEvents(ctx context.Context, originatorID uuid.UUID, gt, lte *int64, desc bool, limit int) ([]es.StoredEvent, error) {
	query := fmt.Sprintf(`
		SELECT originator_id, originator_version, topic, state, notification_id
		FROM %s
		WHERE originator_id = ?
	`, s.config.EventsTable)

	args := []interface{}{originatorID.String()}
	if gt != nil {
		query += " AND originator_version > ?"
		args = append(args, *gt)
	}
	if lte != nil {
		query += " AND originator_version <= ?"
		args = append(args, *lte)
	}
	if desc {
		query += " ORDER BY originator_version DESC"
	} else {
		query += " ORDER BY originator_version ASC"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []es.StoredEvent
	for rows.Next() {
		e, _, err := scanStoredEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "events read",
			"originator_id", originatorID,
			"count", len(events))
	}
	return events, nil
}

func scanStoredEvent(rows *sql.Rows) (es.StoredEvent, sql.NullInt64, error) {
	var e es.StoredEvent
	var originatorID string
	var notificationID sql.NullInt64

	err := rows.Scan(&originatorID, &e.OriginatorVersion, &e.Topic, &e.State, &notificationID)
	if err != nil {
		return es.StoredEvent{}, notificationID, fmt.Errorf("failed to scan event: %w", err)
	}

	e.OriginatorID, err = uuid.Parse(originatorID)
	if err != nil {
		return es.StoredEvent{}, notificationID, fmt.Errorf("failed to parse originator ID: %w", err)
	}
	e.NonNotifiable = !notificationID.Valid
	return e, notificationID, nil
}

// SelectNotifications implements recorder.ApplicationRecorder.
func (s *Store) SelectNotifications(ctx context.Context, start int64, limit int) ([]es.Notification, error) {
	query := fmt.Sprintf(`
		SELECT originator_id, originator_version, topic, state, notification_id
		FROM %s
		WHERE notification_id >= ?
		ORDER BY notification_id ASC
		LIMIT ?
	`, s.config.EventsTable)

	rows, err := s.db.QueryContext(ctx, query, start, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []es.Notification
	for rows.Next() {
		e, id, err := scanStoredEvent(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, es.Notification{StoredEvent: e, ID: id.Int64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return notifications, nil
}

// MaxNotificationID implements recorder.ApplicationRecorder.
func (s *Store) MaxNotificationID(ctx context.Context) (int64, error) {
	return s.maxNotificationIDTx(ctx, s.db)
}

// MaxTrackingID implements recorder.ProcessRecorder.
func (s *Store) MaxTrackingID(ctx context.Context, upstreamName string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(notification_id), 0)
		FROM %s
		WHERE application_name = ? AND upstream_name = ? AND pipeline_id = ?
	`, s.config.TrackingTable)

	var max int64
	err := s.db.QueryRowContext(ctx, query, s.config.ApplicationName, upstreamName, s.config.PipelineID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max tracking id: %w", err)
	}
	return max, nil
}

// HasTrackingRecord implements recorder.ProcessRecorder.
func (s *Store) HasTrackingRecord(ctx context.Context, upstreamName string, pipelineID int, notificationID int64) (bool, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(1)
		FROM %s
		WHERE application_name = ? AND upstream_name = ? AND pipeline_id = ? AND notification_id = ?
	`, s.config.TrackingTable)

	var count int
	err := s.db.QueryRowContext(ctx, query, s.config.ApplicationName, upstreamName, pipelineID, notificationID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check tracking record: %w", err)
	}
	return count > 0, nil
}

// InsertEventsAndTracking implements recorder.ProcessRecorder.
// The tracking record and the events commit together or not at all.
func (s *Store) InsertEventsAndTracking(ctx context.Context, events []es.StoredEvent, tracking es.Tracking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	trackingQuery := fmt.Sprintf(`
		INSERT INTO %s (application_name, upstream_name, pipeline_id, notification_id)
		VALUES (?, ?, ?, ?)
	`, s.config.TrackingTable)

	_, err = tx.ExecContext(ctx, trackingQuery,
		tracking.ApplicationName,
		tracking.UpstreamName,
		tracking.PipelineID,
		tracking.NotificationID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: tracking record for %s/%d/%d exists",
				recorder.ErrIntegrity, tracking.UpstreamName, tracking.PipelineID, tracking.NotificationID)
		}
		return fmt.Errorf("failed to insert tracking record: %w", err)
	}

	if len(events) > 0 {
		if err := s.insertEventsTx(ctx, tx, events); err != nil {
			return err
		}
	}
	return tx.Commit()
}
