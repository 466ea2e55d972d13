package repository

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	// Serialized writes; sqlite tolerates one writer at a time and the
	// coordinator already funnels per-trigger mutations through a keyed lock.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			phone TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			serial_number TEXT UNIQUE,
			token_hash TEXT NOT NULL,
			assigned_to TEXT,
			status TEXT NOT NULL,
			battery_level INTEGER NOT NULL DEFAULT 100,
			last_ping DATETIME NOT NULL,
			firmware TEXT,
			notes TEXT,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS triggers (
			id TEXT PRIMARY KEY,
			raised_by TEXT NOT NULL,
			device_id TEXT NOT NULL,
			longitude REAL NOT NULL,
			latitude REAL NOT NULL,
			address TEXT,
			description TEXT,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			notified_responders TEXT NOT NULL,
			active_responders TEXT NOT NULL,
			resolved_by TEXT,
			resolved_at DATETIME,
			resolution_notes TEXT,
			battery_level INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			trigger_id TEXT NOT NULL,
			responder_id TEXT NOT NULL,
			status TEXT NOT NULL,
			notified_at DATETIME,
			accepted_at DATETIME,
			actual_arrival DATETIME,
			completed_at DATETIME,
			response_time INTEGER,
			arrival_time INTEGER,
			estimated_arrival INTEGER,
			actions TEXT NOT NULL,
			notes TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (trigger_id, responder_id),
			FOREIGN KEY (trigger_id) REFERENCES triggers(id)
		);

		CREATE INDEX IF NOT EXISTS idx_users_role_active ON users(role, is_active);
		CREATE INDEX IF NOT EXISTS idx_devices_assigned_status ON devices(assigned_to, status);
		CREATE INDEX IF NOT EXISTS idx_triggers_status_created ON triggers(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_triggers_raised_by_created ON triggers(raised_by, created_at);
		CREATE INDEX IF NOT EXISTS idx_responses_responder_status ON responses(responder_id, status);
		CREATE INDEX IF NOT EXISTS idx_responses_status_created ON responses(status, created_at);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
