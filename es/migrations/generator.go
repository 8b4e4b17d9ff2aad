// Package migrations provides SQL schema generation for the recorder
// adapters: the events table, the snapshots table and the tracking records
// table.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// EventsTable is the name of the events table
	EventsTable string

	// SnapshotsTable is the name of the snapshots table
	SnapshotsTable string

	// TrackingTable is the name of the tracking records table
	TrackingTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_event_sourcing.sql", timestamp),
		EventsTable:    "stored_events",
		SnapshotsTable: "snapshots",
		TrackingTable:  "tracking_records",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return writeMigration(config, PostgresSQL(config))
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return writeMigration(config, SQLiteSQL(config))
}

// GenerateMySQL generates a MySQL migration file.
func GenerateMySQL(config *Config) error {
	return writeMigration(config, MySQLSQL(config))
}

func writeMigration(config *Config, sql string) error {
	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// PostgresSQL returns the PostgreSQL schema.
func PostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Sourcing Infrastructure Migration
-- Generated: %s

-- Events are stored append-only. The primary key rejects concurrent
-- writers of the same aggregate version; the unique notification index
-- keeps the application-wide sequence free of duplicates.
CREATE TABLE IF NOT EXISTS %[2]s (
    originator_id UUID NOT NULL,
    originator_version BIGINT NOT NULL,
    topic TEXT NOT NULL,
    state BYTEA NOT NULL,
    notification_id BIGINT,

    PRIMARY KEY (originator_id, originator_version)
);

CREATE UNIQUE INDEX IF NOT EXISTS %[2]s_notification_idx
    ON %[2]s (notification_id);

-- Snapshots live in a separate stream with the same record shape.
-- Their notification_id is always NULL: snapshots are never notified.
CREATE TABLE IF NOT EXISTS %[3]s (
    originator_id UUID NOT NULL,
    originator_version BIGINT NOT NULL,
    topic TEXT NOT NULL,
    state BYTEA NOT NULL,
    notification_id BIGINT,

    PRIMARY KEY (originator_id, originator_version)
);

-- Tracking records mark upstream notifications as incorporated.
CREATE TABLE IF NOT EXISTS %[4]s (
    application_name TEXT NOT NULL,
    upstream_name TEXT NOT NULL,
    pipeline_id INT NOT NULL,
    notification_id BIGINT NOT NULL,

    PRIMARY KEY (application_name, upstream_name, pipeline_id, notification_id)
);
`, time.Now().Format(time.RFC3339), config.EventsTable, config.SnapshotsTable, config.TrackingTable)
}

// SQLiteSQL returns the SQLite schema.
func SQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Sourcing Infrastructure Migration
-- Generated: %s

CREATE TABLE IF NOT EXISTS %[2]s (
    originator_id TEXT NOT NULL,
    originator_version INTEGER NOT NULL,
    topic TEXT NOT NULL,
    state BLOB NOT NULL,
    notification_id INTEGER,

    PRIMARY KEY (originator_id, originator_version)
);

CREATE UNIQUE INDEX IF NOT EXISTS %[2]s_notification_idx
    ON %[2]s (notification_id);

CREATE TABLE IF NOT EXISTS %[3]s (
    originator_id TEXT NOT NULL,
    originator_version INTEGER NOT NULL,
    topic TEXT NOT NULL,
    state BLOB NOT NULL,
    notification_id INTEGER,

    PRIMARY KEY (originator_id, originator_version)
);

CREATE TABLE IF NOT EXISTS %[4]s (
    application_name TEXT NOT NULL,
    upstream_name TEXT NOT NULL,
    pipeline_id INTEGER NOT NULL,
    notification_id INTEGER NOT NULL,

    PRIMARY KEY (application_name, upstream_name, pipeline_id, notification_id)
);
`, time.Now().Format(time.RFC3339), config.EventsTable, config.SnapshotsTable, config.TrackingTable)
}

// MySQLSQL returns the MySQL schema.
func MySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Sourcing Infrastructure Migration
-- Generated: %s

CREATE TABLE IF NOT EXISTS %[2]s (
    originator_id CHAR(36) NOT NULL,
    originator_version BIGINT NOT NULL,
    topic VARCHAR(255) NOT NULL,
    state LONGBLOB NOT NULL,
    notification_id BIGINT NULL,

    PRIMARY KEY (originator_id, originator_version),
    UNIQUE KEY %[2]s_notification_idx (notification_id)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS %[3]s (
    originator_id CHAR(36) NOT NULL,
    originator_version BIGINT NOT NULL,
    topic VARCHAR(255) NOT NULL,
    state LONGBLOB NOT NULL,
    notification_id BIGINT NULL,

    PRIMARY KEY (originator_id, originator_version)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS %[4]s (
    application_name VARCHAR(255) NOT NULL,
    upstream_name VARCHAR(255) NOT NULL,
    pipeline_id INT NOT NULL,
    notification_id BIGINT NOT NULL,

    PRIMARY KEY (application_name, upstream_name, pipeline_id, notification_id)
) ENGINE=InnoDB;
`, time.Now().Format(time.RFC3339), config.EventsTable, config.SnapshotsTable, config.TrackingTable)
}
