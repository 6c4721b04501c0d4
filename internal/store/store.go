// Package store is the embedded relational persistence layer: the catalog
// cache (models), completed artifacts (download_files) and resumable
// transfers (pending_downloads).
//
// Every access takes one exclusive lock. Operations are short single-row
// or small-batch statements, so readers and writers share the same lock.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("store: not found")

var zlog = zerolog.Nop()

// SetLogger installs a structured logger for the store.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "store").Logger() }

// Store wraps a single SQLite connection guarded by a mutex.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies the schema
// and resets transfers interrupted by a previous process to paused.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has one writer; a single connection also keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	s := &Store{db: db}
	n, err := s.ResetInterrupted()
	if err != nil {
		db.Close()
		return nil, err
	}
	if n > 0 {
		zlog.Info().Int64("rows", n).Msg("interrupted downloads marked paused")
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
