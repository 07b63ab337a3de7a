package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a modernc.org/sqlite handle serving the sessions,
// settings, blobs, and recovery collections. Opened with Open, closed
// with Close; safe for concurrent use the way database/sql handles
// generally are (SQLite serializes writers internally).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and runs
// migrations, mirroring jwulff-steno's tui/internal/db/store.go Open.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; modernc.org/sqlite has no native WAL multi-writer story

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory database for tests, following the
// store_test.go ":memory:" fixture pattern in jwulff-steno.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: open memory: %w", err)
	}
	db.SetMaxOpenConns(1) // every ":memory:" connection is its own database
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }
