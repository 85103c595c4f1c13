// Package db provides SQLite database management for unity.
// Two databases live in the data directory: unity.db (users and their
// tokens) and unity-audit.db (append-only audit log).
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	MetadataDBFile = "unity.db"
	AuditDBFile    = "unity-audit.db"
)

// MetadataSchema defines the tables of the main database.
const MetadataSchema = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

-- Portal users and their delegated Google credentials
CREATE TABLE IF NOT EXISTS users (
    uuid                        TEXT PRIMARY KEY,
    email                       TEXT NOT NULL UNIQUE,
    full_name                   TEXT DEFAULT '',
    access_token                TEXT DEFAULT '',
    token_type                  TEXT DEFAULT 'Bearer',
    token_issued_at             TEXT,
    token_expires_at            TEXT,
    encrypted_refresh_token     TEXT DEFAULT '',  -- base64 AES-GCM ciphertext
    encrypted_refresh_token_iv  TEXT DEFAULT '',  -- base64 nonce
    registered_for_firecloud    INTEGER NOT NULL DEFAULT 0,
    created_at                  TEXT NOT NULL,
    updated_at                  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_expiry ON users(token_expires_at);

-- Platform health observations
CREATE TABLE IF NOT EXISTS health_checks (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    checked_at      TEXT NOT NULL,
    ok              INTEGER NOT NULL,
    systems         TEXT DEFAULT '{}'  -- JSON map of subsystem -> ok
);

CREATE INDEX IF NOT EXISTS idx_health_checked_at ON health_checks(checked_at);
`

// AuditSchema defines the append-only audit log table.
const AuditSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS audit_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT NOT NULL,
    call_uuid       TEXT NOT NULL,
    identity        TEXT NOT NULL DEFAULT 'service',
    issuer          TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    detail          TEXT DEFAULT '{}',
    record_hash     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_issuer ON audit_log(issuer);
`

// OpenMetadataDB opens or creates the main database in dataDir.
func OpenMetadataDB(dataDir string) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, MetadataDBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}

	if _, err := db.Exec(MetadataSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing metadata schema: %w", err)
	}

	return db, nil
}

// OpenAuditDB opens or creates the append-only audit database in dataDir.
func OpenAuditDB(dataDir string) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, AuditDBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	if _, err := db.Exec(AuditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}

	return db, nil
}

// EnsureDataDir creates the data directory and its downloads area.
func EnsureDataDir(path string) error {
	dirs := []string{
		path,
		filepath.Join(path, "downloads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	return nil
}
