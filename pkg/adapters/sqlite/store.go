// Package sqlite implements ports.StateStore on a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/threadline/pkg/domain"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store persists one row per thread holding the JSON-encoded state.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and runs migrations.
// The special path ":memory:" keeps everything in memory.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			turn       INTEGER NOT NULL DEFAULT 0,
			state      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_threads_updated_at ON threads(updated_at);
	`)
	return err
}

// Save upserts the thread row.
func (s *Store) Save(ctx context.Context, threadID string, state *domain.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, turn, state, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			turn = excluded.turn,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		threadID, state.Turn, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", threadID, err)
	}
	return nil
}

// Load reads the thread row.
func (s *Store) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM threads WHERE id = ?`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load %s: %w", threadID, err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal %s: %w", threadID, err)
	}
	return &state, nil
}

// Delete removes the thread row.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", threadID, err)
	}
	return nil
}

// List returns thread IDs, most recently updated first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	threads := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		threads = append(threads, id)
	}
	return threads, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
