package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/taverntapes/taverntapes/internal/ids"
)

// sessionDoc is the JSON-serialized body of a sessions row; id and
// created_at are broken out into their own columns for indexing and
// sort order, a collection-keyed-by-id layout rather than a fully
// relational schema.
type sessionDoc struct {
	Metadata SessionMetadata `json:"metadata"`
	Segments []SegmentRef    `json:"segments"`
	Notes    []string        `json:"notes"`
	Tags     []string        `json:"tags"`
}

// PutSession writes a full session record transactionally, overwriting
// any existing record with the same id (last-writer-wins).
func (s *Store) PutSession(sess Session) error {
	body, err := json.Marshal(sessionDoc{
		Metadata: sess.Metadata,
		Segments: sess.Segments,
		Notes:    sess.Notes,
		Tags:     sess.Tags,
	})
	if err != nil {
		return fmt.Errorf("store: marshal session %s: %w", sess.ID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: put session: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, created_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		sess.ID.Hex(), sess.CreatedAt.UnixMilli(), string(body),
	)
	if err != nil {
		return fmt.Errorf("store: put session %s: %w", sess.ID, err)
	}
	return tx.Commit()
}

// GetSession reads back one session by id.
func (s *Store) GetSession(id ids.ID) (Session, error) {
	row := s.db.QueryRow(`SELECT id, created_at, data FROM sessions WHERE id = ?`, id.Hex())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// UpdateSession re-reads the session row, applies fn to the loaded
// Session, and writes the result back, all inside one transaction.
// The store's connection pool is capped to one connection (Open sets
// SetMaxOpenConns(1)), so a concurrent UpdateSession/PutSession on the
// same row blocks waiting for this transaction's connection rather
// than racing it — fn always sees the latest committed state.
func (s *Store) UpdateSession(id ids.ID, fn func(*Session) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update session: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT id, created_at, data FROM sessions WHERE id = ?`, id.Hex())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("store: update session %s: read: %w", id, err)
	}

	if err := fn(&sess); err != nil {
		return err
	}

	body, err := json.Marshal(sessionDoc{
		Metadata: sess.Metadata,
		Segments: sess.Segments,
		Notes:    sess.Notes,
		Tags:     sess.Tags,
	})
	if err != nil {
		return fmt.Errorf("store: update session %s: marshal: %w", id, err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET data = ? WHERE id = ?`, string(body), id.Hex()); err != nil {
		return fmt.Errorf("store: update session %s: write: %w", id, err)
	}
	return tx.Commit()
}

// GetAllSessions returns every session, unordered (callers sort).
func (s *Store) GetAllSessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, created_at, data FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("store: get all sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: get all sessions: scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes the session record and cascades to every blob
// referencing it.
func (s *Store) DeleteSession(id ids.ID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: delete session: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM blobs WHERE session_id = ?`, id.Hex()); err != nil {
		return fmt.Errorf("store: delete session %s: cascade blobs: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id.Hex())
	if err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		idHex     string
		createdAt int64
		data      string
	)
	if err := r.Scan(&idHex, &createdAt, &data); err != nil {
		return Session{}, err
	}

	id, err := ids.Parse(idHex)
	if err != nil {
		return Session{}, fmt.Errorf("store: scan session: parse id %q: %w", idHex, err)
	}
	var doc sessionDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return Session{}, fmt.Errorf("store: scan session %s: unmarshal: %w", idHex, err)
	}
	return Session{
		ID:        id,
		CreatedAt: unixMilliToTime(createdAt),
		Metadata:  doc.Metadata,
		Segments:  doc.Segments,
		Notes:     doc.Notes,
		Tags:      doc.Tags,
	}, nil
}
