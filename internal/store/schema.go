package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the version a fully migrated database reports.
const SchemaVersion = len(migrations)

// migrations[i] upgrades a database from version i to i+1.
var migrations = [...]string{schemaV1}

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`

// schemaV1 holds batches and their completed runs.
const schemaV1 = `
-- One row per finished batch
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    label TEXT,
    created_at TEXT NOT NULL,
    seed INTEGER NOT NULL DEFAULT 0,

    -- Walk parameters
    initial_prob REAL NOT NULL,
    decay_factor REAL NOT NULL,
    target_value INTEGER NOT NULL,
    iteration_cap INTEGER NOT NULL,

    -- Outcome
    desired_count INTEGER NOT NULL,
    total_attempts INTEGER NOT NULL DEFAULT 0,
    successful_attempts INTEGER NOT NULL DEFAULT 0,
    failed_attempts INTEGER NOT NULL DEFAULT 0,
    phase TEXT NOT NULL,
    status TEXT NOT NULL,
    elapsed_ns INTEGER NOT NULL DEFAULT 0,
    hit_time_limit INTEGER NOT NULL DEFAULT 0,
    was_stopped INTEGER NOT NULL DEFAULT 0,
    aborted INTEGER NOT NULL DEFAULT 0,
    safety_warning INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at);
CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

-- Completed runs, in completion order
CREATE TABLE IF NOT EXISTS runs (
    batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    steps INTEGER NOT NULL,
    path TEXT NOT NULL,  -- JSON array of counter values
    PRIMARY KEY (batch_id, seq)
);
`

// InitSchema brings db up to SchemaVersion. Existing databases are
// integrity-checked before any migration runs.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}
	version, err := getSchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch {
	case version > SchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	case version == SchemaVersion:
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
		return nil
	case version > 0:
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	for v := version; v < SchemaVersion; v++ {
		if err := applyMigration(ctx, db, v+1, migrations[v]); err != nil {
			return fmt.Errorf("failed to migrate schema to version %d: %w", v+1, err)
		}
	}
	return nil
}

// getSchemaVersion reports the highest recorded version, 0 for none.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateIntegrity fails when PRAGMA integrity_check reports anything
// other than "ok" or PRAGMA foreign_key_check finds orphaned rows.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	var problems []string

	err := eachRow(ctx, db, `PRAGMA integrity_check`, func(rows *sql.Rows) error {
		var result string
		if err := rows.Scan(&result); err != nil {
			return err
		}
		if result != "ok" {
			problems = append(problems, "integrity: "+result)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("integrity_check: %w", err)
	}

	err = eachRow(ctx, db, `PRAGMA foreign_key_check`, func(rows *sql.Rows) error {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return err
		}
		problems = append(problems, fmt.Sprintf("orphan %s row %d (parent %s)", table, rowid.Int64, parent))
		return nil
	})
	if err != nil {
		return fmt.Errorf("foreign_key_check: %w", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("database check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func eachRow(ctx context.Context, db *sql.DB, query string, fn func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ResetSchema drops every table and migrates from scratch. Tests only.
func ResetSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"runs", "batches", "schema_version"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return InitSchema(ctx, db)
}
