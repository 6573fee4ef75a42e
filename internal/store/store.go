// Package store is the SQLite persistence layer for messages,
// conversations and delivery jobs. Message and conversation writes use an
// optimistic version column: an update against a stale version touches
// zero rows and surfaces domain.ErrOptimisticConflict.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MessageStore, domain.ConversationStore
// and domain.JobStore on one database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and one
	// connection keeps job claiming atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger.With("component", "store")}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                  TEXT PRIMARY KEY,
		conversation_id     TEXT,
		content             TEXT NOT NULL,
		direction           TEXT NOT NULL,
		status              TEXT NOT NULL,
		ai_confidence       REAL NOT NULL DEFAULT 0,
		provider            TEXT,
		provider_message_id TEXT,
		metadata            TEXT NOT NULL DEFAULT '{}',
		version             INTEGER NOT NULL DEFAULT 0,
		created_at          DATETIME NOT NULL,
		updated_at          DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_provider_ref ON messages(provider_message_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id             TEXT PRIMARY KEY,
		lead_id        TEXT NOT NULL,
		status         TEXT NOT NULL,
		phone_number   TEXT NOT NULL,
		assigned_agent TEXT,
		last_activity  DATETIME NOT NULL,
		metadata       TEXT NOT NULL DEFAULT '{}',
		version        INTEGER NOT NULL DEFAULT 0,
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_phone ON conversations(phone_number, status);

	CREATE TABLE IF NOT EXISTS jobs (
		message_id      TEXT PRIMARY KEY,
		priority        INTEGER NOT NULL DEFAULT 0,
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		next_attempt_at DATETIME NOT NULL,
		state           TEXT NOT NULL DEFAULT 'pending',
		content         TEXT NOT NULL,
		recipient       TEXT NOT NULL,
		provider_hint   TEXT,
		created_at      DATETIME NOT NULL,
		updated_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(state, next_attempt_at, priority);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
