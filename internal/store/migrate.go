package store

import "fmt"

// collectionVersions records the schema version each logical collection
// is at. blobs is at v2: the bump documents the session_id column added
// to back orphan-blob listing.
var collectionVersions = map[string]int{
	"sessions": 1,
	"settings": 1,
	"blobs":    2,
	"recovery": 1,
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		collection TEXT PRIMARY KEY,
		version    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		data       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blobs (
		id         TEXT PRIMARY KEY,
		session_id TEXT,
		path       TEXT NOT NULL,
		bytes      BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_blobs_session_id ON blobs(session_id)`,
	`CREATE TABLE IF NOT EXISTS recovery (
		id      TEXT PRIMARY KEY CHECK (id = 'current'),
		payload TEXT NOT NULL
	)`,
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: migrate: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	for collection, version := range collectionVersions {
		_, err := tx.Exec(
			`INSERT INTO schema_version (collection, version) VALUES (?, ?)
			 ON CONFLICT(collection) DO UPDATE SET version = excluded.version
			 WHERE excluded.version > schema_version.version`,
			collection, version,
		)
		if err != nil {
			return fmt.Errorf("store: migrate: record version for %s: %w", collection, err)
		}
	}
	return tx.Commit()
}
