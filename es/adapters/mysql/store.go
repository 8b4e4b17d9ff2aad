// Package mysql provides a MySQL-backed recorder.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/recorder"
)

const (
	// MySQL error 1062: duplicate entry for a unique key
	errDuplicateEntry = 1062
)

// StoreConfig contains configuration for the MySQL recorder.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
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

// WithEventsTable sets a custom events table name.
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

// Store is a MySQL-backed ProcessRecorder.
type Store struct {
	db     *sql.DB
	config StoreConfig
}

// NewStore creates a new MySQL recorder over the given database.
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

// insertEventsTx appends events inside an open transaction. The locking
// read of max(notification_id) serializes concurrent inserts on InnoDB,
// keeping the notification sequence gapless.
func (s *Store) insertEventsTx(ctx context.Context, tx es.DBTX, events []es.StoredEvent) error {
	var nextID int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(notification_id), 0) FROM %s FOR UPDATE", s.config.EventsTable)
	if err := tx.QueryRowContext(ctx, query).Scan(&nextID); err != nil {
		return fmt.Errorf("failed to read max notification id: %w", err)
	}
	nextID++

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (originator_id, originator_version, topic, state, notification_id)
		VALUES (?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	for i := range events {
		e := &events[i]

		var notificationID sql.NullInt64
		if !e.NonNotifiable {
			notificationID = sql.NullInt64{Int64: nextID, Valid: true}
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

// IsUniqueViolation checks if an error is a MySQL duplicate-entry error.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == errDuplicateEntry
	}
	return false
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
		var e es.StoredEvent
		var id string
		var notificationID sql.NullInt64
		if err := rows.Scan(&id, &e.OriginatorVersion, &e.Topic, &e.State, &notificationID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OriginatorID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse originator ID: %w", err)
		}
		e.NonNotifiable = !notificationID.Valid
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
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
		var n es.Notification
		var id string
		if err := rows.Scan(&id, &n.OriginatorVersion, &n.Topic, &n.State, &n.ID); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.OriginatorID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse originator ID: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return notifications, nil
}

// MaxNotificationID implements recorder.ApplicationRecorder.
func (s *Store) MaxNotificationID(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(notification_id), 0) FROM %s", s.config.EventsTable)

	var max int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max notification id: %w", err)
	}
	return max, nil
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
