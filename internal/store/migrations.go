package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Migration is one versioned schema change with its inverse.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations are applied in slice order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with tools and pointer events",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add indexes for kind and device queries",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS tools (
    device_id       INTEGER PRIMARY KEY,
    tool_id         INTEGER NOT NULL,
    tool_type       TEXT NOT NULL,
    kind            TEXT NOT NULL,
    hardware_serial INTEGER NOT NULL DEFAULT 0,
    hardware_id     INTEGER NOT NULL DEFAULT 0,
    capabilities    TEXT NOT NULL DEFAULT '',
    added_ns        INTEGER NOT NULL,
    removed_ns      INTEGER
);

CREATE TABLE IF NOT EXISTS pointer_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    kind            TEXT NOT NULL CHECK (kind IN ('entered', 'moved', 'left')),
    device_id       INTEGER NOT NULL,
    window_id       INTEGER NOT NULL,
    x               REAL NOT NULL,
    y               REAL NOT NULL,
    is_primary      INTEGER NOT NULL,
    tool_kind       TEXT NOT NULL,
    force           REAL,
    twist           REAL,
    tilt_x          REAL,
    tilt_y          REAL
);

CREATE INDEX IF NOT EXISTS idx_pointer_events_timestamp ON pointer_events(timestamp_ns);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_pointer_events_timestamp;
DROP TABLE IF EXISTS pointer_events;
DROP TABLE IF EXISTS tools;
`

const migrationV2Up = `
CREATE INDEX IF NOT EXISTS idx_pointer_events_kind ON pointer_events(kind, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_pointer_events_device ON pointer_events(device_id, timestamp_ns);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_pointer_events_device;
DROP INDEX IF EXISTS idx_pointer_events_kind;
`

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

// inTx runs fn inside a transaction, rolling back when it fails.
func inTx(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MigrateDB brings the schema up to the latest version. Each migration
// runs in its own transaction together with its bookkeeping row.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UnixNano(), m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// RollbackMigration reverts the newest applied migration.
func RollbackMigration(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New("store: schema is already empty")
	}
	idx := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == current })
	if idx < 0 {
		return fmt.Errorf("store: unknown schema version %d", current)
	}
	m := migrations[idx]

	err = inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.Down); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback %d: %w", m.Version, err)
	}
	return nil
}

// MigrationStatus summarizes the schema of a database.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
	Applied        []AppliedMigration
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// GetMigrationStatus lists applied and pending migrations. A database
// without a migrations table reports everything as pending.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	st := &MigrationStatus{LatestVersion: migrations[len(migrations)-1].Version}

	rows, err := db.Query("SELECT version, applied_at, description FROM schema_migrations ORDER BY version")
	if err != nil {
		st.Pending = append(st.Pending, migrations...)
		return st, nil
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var (
			am AppliedMigration
			ns int64
		)
		if err := rows.Scan(&am.Version, &ns, &am.Description); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		am.AppliedAt = time.Unix(0, ns)
		st.Applied = append(st.Applied, am)
		st.CurrentVersion = max(st.CurrentVersion, am.Version)
		done[am.Version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range migrations {
		if !done[m.Version] {
			st.Pending = append(st.Pending, m)
		}
	}
	return st, nil
}

// ValidateSchema reports the first journal table missing from db.
func ValidateSchema(db *sql.DB) error {
	const q = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	for _, table := range []string{"tools", "pointer_events", "schema_migrations"} {
		var n int
		if err := db.QueryRow(q, table).Scan(&n); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("store: table %s is missing", table)
		}
	}
	return nil
}
