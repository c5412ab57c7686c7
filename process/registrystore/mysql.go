package registrystore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, for deployments where the
// registry snapshot history needs to survive process restarts and be
// shared across workers.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a pooled connection to dsn and migrates the schema.
//
// DSN format: [user[:password]@][tcp(addr)]/dbname[?params].
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("registrystore: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registrystore: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS registry_snapshots (
			process_type VARCHAR(255) NOT NULL,
			instance VARCHAR(255) NOT NULL,
			version INT NOT NULL,
			snapshot LONGBLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (process_type, instance)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("registrystore: create schema: %w", err)
	}
	return nil
}

func (s *MySQLStore) Save(ctx context.Context, key Key, version int, snapshot []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("registrystore: store is closed")
	}

	const q = `
		INSERT INTO registry_snapshots (process_type, instance, version, snapshot)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			version = VALUES(version),
			snapshot = VALUES(snapshot)
	`
	_, err := s.db.ExecContext(ctx, q, key.ProcessType, key.Instance, version, snapshot)
	if err != nil {
		return fmt.Errorf("registrystore: save: %w", err)
	}
	return nil
}

func (s *MySQLStore) Load(ctx context.Context, key Key) ([]byte, int, error) {
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

func (s *MySQLStore) Delete(ctx context.Context, key Key) error {
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

// Close closes the connection pool. Safe to call more than once.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
