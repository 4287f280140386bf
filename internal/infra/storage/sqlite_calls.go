package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
)

// SQLiteCallStore mirrors call records into a local SQLite database.
type SQLiteCallStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteCallStore opens (creating if needed) the database at dbPath.
// ":memory:" is accepted for tests.
func NewSQLiteCallStore(dbPath string) (*SQLiteCallStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteCallStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteCallStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS beyond_calls (
		id TEXT PRIMARY KEY,
		agent_id TEXT,
		status TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		summary TEXT,
		raw TEXT,
		synced_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_beyond_calls_started_at ON beyond_calls(started_at DESC);

	CREATE TABLE IF NOT EXISTS beyond_call_messages (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL,
		sender TEXT,
		message TEXT,
		sent_at DATETIME,
		raw TEXT,
		FOREIGN KEY (call_id) REFERENCES beyond_calls(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_beyond_call_messages_call_id ON beyond_call_messages(call_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteCallStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteCallStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteCallStore) UpsertCalls(ctx context.Context, calls []callsync.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO beyond_calls (id, agent_id, status, started_at, ended_at, summary, raw, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		agent_id = excluded.agent_id,
		status = excluded.status,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at,
		summary = excluded.summary,
		raw = excluded.raw,
		synced_at = excluded.synced_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, c := range calls {
		if _, err := tx.ExecContext(ctx, query,
			c.ID, c.AgentID, c.Status, formatTime(c.StartedAt), formatTime(c.EndedAt), c.Summary, rawString(c.Raw), now,
		); err != nil {
			return fmt.Errorf("upsert call %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteCallStore) UpsertMessages(ctx context.Context, callID string, msgs []callsync.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO beyond_call_messages (id, call_id, sender, message, sent_at, raw)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		call_id = excluded.call_id,
		sender = excluded.sender,
		message = excluded.message,
		sent_at = excluded.sent_at,
		raw = excluded.raw
	`
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, query,
			m.ID, callID, m.Sender, m.Text, formatTime(m.SentAt), rawString(m.Raw),
		); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteCallStore) CountCalls(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM beyond_calls`).Scan(&n)
	return n, err
}

// CountMessages returns the number of stored messages for callID.
func (s *SQLiteCallStore) CountMessages(ctx context.Context, callID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM beyond_call_messages WHERE call_id = ?`, callID).Scan(&n)
	return n, err
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339Nano)
	return &v
}

func rawString(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	v := string(raw)
	return &v
}

var _ callsync.Store = (*SQLiteCallStore)(nil)
