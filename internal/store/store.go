package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial ledger schema
const currentSchemaVersion = 1

// ErrNoSession is returned when the ledger holds no session.
var ErrNoSession = errors.New("store: no session recorded")

// Sequencer hands out strictly increasing logical timestamps.
type Sequencer interface {
	Next() int64
}

// Store is the SQLite ledger.
type Store struct {
	db      *sql.DB
	seq     Sequencer
	resumed int64
}

// counter is the default Sequencer, resumed from the highest stored seq.
type counter struct {
	n atomic.Int64
}

func (c *counter) Next() int64 {
	return c.n.Add(1)
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	c := &counter{}
	last, err := maxSeq(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.n.Store(last)

	return &Store{db: db, seq: c, resumed: last}, nil
}

// LastSeq returns the highest seq the ledger held when it was opened.
// A session clock starting there never reuses a stamp.
func (s *Store) LastSeq() int64 {
	return s.resumed
}

// SetSequencer replaces the seq source. Tests use a deterministic clock.
func (s *Store) SetSequencer(seq Sequencer) {
	s.seq = seq
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func maxSeq(db *sql.DB) (int64, error) {
	var last sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(seq) FROM (
			SELECT seq FROM sessions
			UNION ALL SELECT seq FROM assemblies
			UNION ALL SELECT COALESCE(removed_seq, seq) FROM assemblies
			UNION ALL SELECT seq FROM instances
			UNION ALL SELECT COALESCE(removed_seq, seq) FROM instances
			UNION ALL SELECT seq FROM objects
			UNION ALL SELECT COALESCE(removed_seq, seq) FROM objects
			UNION ALL SELECT seq FROM frames
		)
	`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("resume seq: %w", err)
	}
	return last.Int64, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
