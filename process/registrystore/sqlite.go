package registrystore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store backed by modernc.org/sqlite. It is
// meant for development and single-process deployments, not a distributed
// registry store.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and migrates, if needed) a SQLite-backed Store at
// path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registrystore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("registrystore: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS registry_snapshots (
			process_type TEXT NOT NULL,
			instance TEXT NOT NULL,
			version INTEGER NOT NULL,
			snapshot BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (process_type, instance)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("registrystore: create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, key Key, version int, snapshot []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("registrystore: store is closed")
	}

	const q = `
		INSERT INTO registry_snapshots (process_type, instance, version, snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(process_type, instance) DO UPDATE SET
			version = excluded.version,
			snapshot = excluded.snapshot,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, q, key.ProcessType, key.Instance, version, snapshot)
	if err != nil {
		return fmt.Errorf("registrystore: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key Key) ([]byte, int, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, 0, fmt.Errorf("registrystore: store is closed")
	}

	const q = `
		SELECT version, snapshot FROM registry_snapshots
		WHERE process_type = ? AND instance = ?
	`
	var (
		version  int
		snapshot []byte
	)
	err := s.db.QueryRowContext(ctx, q, key.ProcessType, key.Instance).Scan(&version, &snapshot)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("registrystore: load: %w", err)
	}
	return snapshot, version, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("registrystore: store is closed")
	}

	const q = `DELETE FROM registry_snapshots WHERE process_type = ? AND instance = ?`
	_, err := s.db.ExecContext(ctx, q, key.ProcessType, key.Instance)
	if err != nil {
		return fmt.Errorf("registrystore: delete: %w", err)
	}
	return nil
}

// Close closes the underlying database connection. Safe to call more than
// once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
