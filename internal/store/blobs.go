package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taverntapes/taverntapes/internal/ids"
)

// SegmentPath returns the deterministic, content-free storage path for
// a segment id. The path is derived only from the id, never from
// user-supplied content, to avoid path-injection.
func SegmentPath(id ids.ID) string {
	return "recordings/" + id.Hex()
}

// SaveBlob persists segment bytes keyed by id, tagged with the owning
// session for orphan detection. Write failures are retried up to 3
// times with exponential backoff starting at 1s, using
// github.com/cenkalti/backoff/v4; no other store method retries.
func (s *Store) SaveBlob(sessionID ids.ID, id ids.ID, bytes []byte) error {
	op := func() error {
		_, err := s.db.Exec(
			`INSERT INTO blobs (id, session_id, path, bytes, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET bytes = excluded.bytes, session_id = excluded.session_id`,
			id.Hex(), sessionID.Hex(), SegmentPath(id), bytes, time.Now().UTC().UnixMilli(),
		)
		return err
	}
	if err := retrySaveBlob(op); err != nil {
		return fmt.Errorf("store: save blob %s: %w", id, err)
	}
	return nil
}

func retrySaveBlob(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries below instead
	return backoff.Retry(op, backoff.WithMaxRetries(bo, 3))
}

// LoadBlob reads back a segment's bytes.
func (s *Store) LoadBlob(id ids.ID) ([]byte, error) {
	var bytes []byte
	err := s.db.QueryRow(`SELECT bytes FROM blobs WHERE id = ?`, id.Hex()).Scan(&bytes)
	if err != nil {
		return nil, fmt.Errorf("store: load blob %s: %w", id, ErrBlobNotFound)
	}
	return bytes, nil
}

// DeleteBlob removes bytes and metadata together.
func (s *Store) DeleteBlob(id ids.ID) error {
	res, err := s.db.Exec(`DELETE FROM blobs WHERE id = ?`, id.Hex())
	if err != nil {
		return fmt.Errorf("store: delete blob %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBlobNotFound
	}
	return nil
}

// ListOrphans returns every blob id whose session_id is absent from
// knownSessionIDs, for a startup purge of orphaned blobs.
func (s *Store) ListOrphans(knownSessionIDs []ids.ID) ([]ids.ID, error) {
	known := make([]string, len(knownSessionIDs))
	for i, id := range knownSessionIDs {
		known[i] = id.Hex()
	}

	query := `SELECT id FROM blobs WHERE session_id IS NULL`
	args := []any{}
	if len(known) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(known)), ",")
		query = fmt.Sprintf(`SELECT id FROM blobs WHERE session_id IS NULL OR session_id NOT IN (%s)`, placeholders)
		for _, k := range known {
			args = append(args, k)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list orphans: %w", err)
	}
	defer rows.Close()

	var out []ids.ID
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("store: list orphans: scan: %w", err)
		}
		id, err := ids.Parse(hex)
		if err != nil {
			return nil, fmt.Errorf("store: list orphans: parse %q: %w", hex, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
