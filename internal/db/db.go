package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var (
	ErrEmptyWhich = errors.New("sensor name cannot be empty")
	ErrEmptyType  = errors.New("sensor type name cannot be empty")
	ErrEmptyEvent = errors.New("event name cannot be empty")
)

// Event is one stored sensor notification.
type Event struct {
	ID        int64  `json:"id"`
	Which     string `json:"which"`
	Type      string `json:"type"`
	Event     string `json:"event"`
	Timestamp string `json:"ts"`
	EventID   string `json:"eventId"`
}

// Store is the SQLite-backed event log and motion state table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces the clock used to compute retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func Open(url string, opts ...Option) (*Store, error) {
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serializes writers and keeps in-memory databases whole
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Initialize(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, CREATE_ALL_TABLES); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a write scope handed out by Update. It is only valid inside the
// callback.
type Tx struct {
	tx  *sql.Tx
	now func() time.Time
}

// Update runs fn in a single transaction, committing if fn returns nil and
// rolling back otherwise.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClearAll removes every event and all motion state.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM last_motion"); err != nil {
		return fmt.Errorf("failed to clear motion state: %w", err)
	}

	return tx.Commit()
}
