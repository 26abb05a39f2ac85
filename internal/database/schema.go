package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CurrentSchemaVersion tracks the database schema version.
const CurrentSchemaVersion = 1

// Schema holds one row per emulated storage region. A region is written as a
// whole BLOB so a commit is a single atomic row update.
const Schema = `
CREATE TABLE IF NOT EXISTS storage_regions (
    id          INTEGER PRIMARY KEY,
    size        INTEGER NOT NULL,
    data        BLOB NOT NULL,
    commits     INTEGER NOT NULL DEFAULT 0,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS system_state (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// InitSchema initializes the database schema.
// This is idempotent - safe to call multiple times.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < CurrentSchemaVersion {
		if err := SetSchemaVersion(db, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		log.Debug().Int("version", CurrentSchemaVersion).Msg("Database schema initialized")
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT CAST(value AS INTEGER) FROM system_state WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// SetSchemaVersion updates the schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec("INSERT OR REPLACE INTO system_state (key, value, updated_at) VALUES ('schema_version', ?, CURRENT_TIMESTAMP)", version)
	return err
}
