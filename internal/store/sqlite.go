package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tabletd/internal/tablet"
)

// Store represents the SQLite journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs
// migrations. busyTimeout bounds how long writers wait for a lock; zero
// keeps the driver default.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL"
	if busyTimeout > 0 {
		dsn += fmt.Sprintf("&_busy_timeout=%d", busyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MigrationStatus reports the schema version of the open database.
func (s *Store) MigrationStatus() (*MigrationStatus, error) {
	return GetMigrationStatus(s.db)
}

// NewEventRecord flattens a pointer event for storage.
func NewEventRecord(ev tablet.Event, at time.Time) EventRecord {
	pos := ev.Location()
	rec := EventRecord{
		TimestampNs: at.UnixNano(),
		Kind:        ev.Kind(),
		Device:      ev.Device(),
		Window:      ev.Window(),
		X:           pos.X,
		Y:           pos.Y,
	}
	switch e := ev.(type) {
	case tablet.PointerEntered:
		rec.Primary, rec.Tool = e.Primary, e.Tool
	case tablet.PointerLeft:
		rec.Primary, rec.Tool = e.Primary, e.Tool
	case tablet.PointerMoved:
		rec.Primary, rec.Tool = e.Primary, e.Source.Type
		force := e.Source.Force
		rec.Force = &force
		rec.Twist = e.Source.Twist
		if e.Source.Tilt != nil {
			x, y := e.Source.Tilt.X, e.Source.Tilt.Y
			rec.TiltX, rec.TiltY = &x, &y
		}
	}
	return rec
}

// InsertEvents writes a batch of events in one transaction.
func (s *Store) InsertEvents(records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO pointer_events (timestamp_ns, kind, device_id, window_id, x, y, is_primary, tool_kind, force, twist, tilt_x, tilt_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(
			r.TimestampNs, string(r.Kind), int64(r.Device), int64(r.Window), r.X, r.Y, r.Primary, string(r.Tool),
			r.Force, r.Twist, r.TiltX, r.TiltY,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordToolAdded stores or refreshes a tool.
func (s *Store) RecordToolAdded(info tablet.ToolInfo, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO tools (device_id, tool_id, tool_type, kind, hardware_serial, hardware_id, capabilities, added_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			tool_type = excluded.tool_type,
			kind = excluded.kind,
			hardware_serial = excluded.hardware_serial,
			hardware_id = excluded.hardware_id,
			capabilities = excluded.capabilities`,
		int64(info.Device), int64(info.Tool), info.Type, string(info.Kind),
		int64(info.HardwareSerial), int64(info.HardwareID), strings.Join(info.Capabilities, ","), at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert tool: %w", err)
	}
	return nil
}

// RecordToolRemoved marks a tool as gone.
func (s *Store) RecordToolRemoved(device tablet.DeviceID, at time.Time) error {
	result, err := s.db.Exec(`UPDATE tools SET removed_ns = ? WHERE device_id = ? AND removed_ns IS NULL`,
		at.UnixNano(), int64(device))
	if err != nil {
		return fmt.Errorf("remove tool: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("tool not found: device %d", device)
	}
	return nil
}

// Events returns journaled events matching q in insertion order.
func (s *Store) Events(q Query) ([]EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Device != nil {
		where = append(where, "device_id = ?")
		args = append(args, int64(*q.Device))
	}
	if q.Window != nil {
		where = append(where, "window_id = ?")
		args = append(args, int64(*q.Window))
	}
	if q.SinceNs > 0 {
		where = append(where, "timestamp_ns >= ?")
		args = append(args, q.SinceNs)
	}
	if q.UntilNs > 0 {
		where = append(where, "timestamp_ns <= ?")
		args = append(args, q.UntilNs)
	}

	inner := `SELECT id, timestamp_ns, kind, device_id, window_id, x, y, is_primary, tool_kind, force, twist, tilt_x, tilt_y
		FROM pointer_events`
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	query := inner + " ORDER BY id ASC"
	if q.Limit > 0 {
		query = "SELECT * FROM (" + inner + " ORDER BY id DESC LIMIT ?) ORDER BY id ASC"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Tools returns every journaled tool ordered by device id.
func (s *Store) Tools() ([]ToolRecord, error) {
	rows, err := s.db.Query(`
		SELECT device_id, tool_id, tool_type, kind, hardware_serial, hardware_id, capabilities, added_ns, removed_ns
		FROM tools ORDER BY device_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	defer rows.Close()

	var tools []ToolRecord
	for rows.Next() {
		var (
			t            ToolRecord
			device, tool int64
			serial, hwID int64
			kind, caps   string
		)
		if err := rows.Scan(&device, &tool, &t.Type, &kind, &serial, &hwID, &caps, &t.AddedNs, &t.RemovedNs); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		t.Device = tablet.DeviceID(device)
		t.Tool = tablet.ToolID(tool)
		t.Kind = tablet.ToolKind(kind)
		t.HardwareSerial = uint64(serial)
		t.HardwareID = uint64(hwID)
		if caps != "" {
			t.Capabilities = strings.Split(caps, ",")
		}
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tools: %w", err)
	}
	return tools, nil
}

// CountByKind returns the number of journaled events per kind.
func (s *Store) CountByKind() (map[tablet.EventKind]int64, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM pointer_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[tablet.EventKind]int64)
	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[tablet.EventKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// scanEvents is a helper to scan event rows into a slice.
func scanEvents(rows *sql.Rows) ([]EventRecord, error) {
	var events []EventRecord

	for rows.Next() {
		var (
			e              EventRecord
			kind, tool     string
			device, window int64
		)
		if err := rows.Scan(&e.ID, &e.TimestampNs, &kind, &device, &window, &e.X, &e.Y, &e.Primary, &tool,
			&e.Force, &e.Twist, &e.TiltX, &e.TiltY); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = tablet.EventKind(kind)
		e.Tool = tablet.ToolKind(tool)
		e.Device = tablet.DeviceID(device)
		e.Window = tablet.WindowID(window)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
