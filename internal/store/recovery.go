package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const recoverySlot = "current"

// ErrNoRecoveryCheckpoint is returned by GetCheckpoint when the
// single slot is empty.
var ErrNoRecoveryCheckpoint = errors.New("store: no recovery checkpoint")

// PutCheckpoint overwrites the single-slot recovery record. Timestamps
// round-trip as RFC3339 (ISO-8601) strings via time.Time's standard
// JSON marshaling.
func (s *Store) PutCheckpoint(cp RecoveryCheckpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("store: put checkpoint: marshal: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO recovery (id, payload) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		recoverySlot, string(body),
	)
	if err != nil {
		return fmt.Errorf("store: put checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint reads the single-slot checkpoint, if any.
func (s *Store) GetCheckpoint() (RecoveryCheckpoint, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM recovery WHERE id = ?`, recoverySlot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return RecoveryCheckpoint{}, ErrNoRecoveryCheckpoint
	}
	if err != nil {
		return RecoveryCheckpoint{}, fmt.Errorf("store: get checkpoint: %w", err)
	}

	var cp RecoveryCheckpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return RecoveryCheckpoint{}, fmt.Errorf("store: get checkpoint: unmarshal: %w", err)
	}
	return cp, nil
}

// ClearCheckpoint empties the slot, e.g. on clean stop.
func (s *Store) ClearCheckpoint() error {
	_, err := s.db.Exec(`DELETE FROM recovery WHERE id = ?`, recoverySlot)
	if err != nil {
		return fmt.Errorf("store: clear checkpoint: %w", err)
	}
	return nil
}
