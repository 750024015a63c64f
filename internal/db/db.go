package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the event journal: connection transitions, managed process
// lifecycle and daemon lifecycle, newest first on read
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets `zbridge status` read while the daemon writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection
func (db *DB) Close() error {
	if db.conn != nil {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	-- Connection state machine transitions
	CREATE TABLE IF NOT EXISTS connection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phone_address TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Managed process lifecycle
	CREATE TABLE IF NOT EXISTS process_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		event_type TEXT NOT NULL,
		pid INTEGER,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daemon lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_connection_events_timestamp ON connection_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_process_events_timestamp ON process_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_process_events_role ON process_events(role);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// execRetry retries briefly while the database is locked. Journal writes are
// best effort and must not stall the reconciliation loop.
func (db *DB) execRetry(query string, args ...any) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(query, args...)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to write event after %d retries: database locked", maxRetries)
}

// ConnectionEvent is a connection state machine transition
type ConnectionEvent struct {
	ID           int64
	PhoneAddress string
	EventType    string
	Details      string
	Timestamp    time.Time
}

// LogConnectionEvent records a connection transition
func (db *DB) LogConnectionEvent(phoneAddress, eventType, details string) error {
	return db.execRetry(
		`INSERT INTO connection_events (phone_address, event_type, details, timestamp)
		 VALUES (?, ?, ?, ?)`,
		phoneAddress, eventType, details, time.Now(),
	)
}

// ProcessEvent is a managed process lifecycle event
type ProcessEvent struct {
	ID        int64
	Role      string
	EventType string
	PID       int
	Details   string
	Timestamp time.Time
}

// LogProcessEvent records a managed process lifecycle event
func (db *DB) LogProcessEvent(role, eventType string, pid int, details string) error {
	return db.execRetry(
		`INSERT INTO process_events (role, event_type, pid, details, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		role, eventType, pid, details, time.Now(),
	)
}

// DaemonEvent represents a daemon lifecycle event
type DaemonEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogDaemonEvent records a daemon lifecycle event
func (db *DB) LogDaemonEvent(eventType, details string) error {
	return db.execRetry(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
}

// GetRecentConnectionEvents retrieves recent connection transitions
func (db *DB) GetRecentConnectionEvents(limit int) ([]ConnectionEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, phone_address, event_type, details, timestamp
		 FROM connection_events
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.ID, &e.PhoneAddress, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentProcessEvents retrieves recent process lifecycle events
func (db *DB) GetRecentProcessEvents(limit int) ([]ProcessEvent, error) {
	return db.queryProcessEvents(
		`SELECT id, role, event_type, pid, details, timestamp
		 FROM process_events
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		limit,
	)
}

// GetLastProcessEventPerRole retrieves the most recent event for each role
func (db *DB) GetLastProcessEventPerRole() ([]ProcessEvent, error) {
	return db.queryProcessEvents(
		`SELECT id, role, event_type, pid, details, timestamp
		 FROM process_events
		 WHERE id IN (
			 SELECT MAX(id)
			 FROM process_events
			 GROUP BY role
		 )
		 ORDER BY role`,
	)
}

func (db *DB) queryProcessEvents(query string, args ...any) ([]ProcessEvent, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ProcessEvent
	for rows.Next() {
		var e ProcessEvent
		if err := rows.Scan(&e.ID, &e.Role, &e.EventType, &e.PID, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentDaemonEvents retrieves recent daemon events
func (db *DB) GetRecentDaemonEvents(limit int) ([]DaemonEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM daemon_events
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DaemonEvent
	for rows.Next() {
		var e DaemonEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
