package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Canonical setting keys and their aliases. Writing either name in a
// pair updates both; reads always report the canonical key.
const (
	keyTheme           = "theme"
	keyFormat          = "audio_format"
	keyFormatAlias     = "format"
	keyQuality         = "audio_quality"
	keyQualityAlias    = "quality"
	keyAutoSplit       = "auto_split_enabled"
	keySplitInterval   = "split_interval_minutes"
	keySplitSize       = "split_size_mb"
	keyStorageLocation = "storage_location"
	keyInputDevice     = "input_device_id"
)

var knownKeys = map[string]bool{
	keyTheme: true, keyFormat: true, keyFormatAlias: true,
	keyQuality: true, keyQualityAlias: true, keyAutoSplit: true,
	keySplitInterval: true, keySplitSize: true,
	keyStorageLocation: true, keyInputDevice: true,
}

// PutSetting writes a single key transactionally. Writing a canonical
// key or its alias updates both rows in the same transaction, so a
// reader of either key always observes the same value.
func (s *Store) PutSetting(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: put setting: begin: %w", err)
	}
	defer tx.Rollback()
	if err := putSettingTx(tx, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateSettings commits every key in updates within a single
// transaction, for callers wanting atomic multi-key updates.
func (s *Store) UpdateSettings(updates map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update settings: begin: %w", err)
	}
	defer tx.Rollback()
	for key, value := range updates {
		if err := putSettingTx(tx, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func putSettingTx(tx *sql.Tx, key, value string) error {
	exec := func(k string) error {
		_, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			k, value,
		)
		return err
	}
	if err := exec(key); err != nil {
		return fmt.Errorf("store: put setting %s: %w", key, err)
	}
	if alias, ok := aliasOf(key); ok {
		if err := exec(alias); err != nil {
			return fmt.Errorf("store: put setting %s (alias %s): %w", key, alias, err)
		}
	}
	return nil
}

func aliasOf(key string) (string, bool) {
	switch key {
	case keyFormat:
		return keyFormatAlias, true
	case keyFormatAlias:
		return keyFormat, true
	case keyQuality:
		return keyQualityAlias, true
	case keyQualityAlias:
		return keyQuality, true
	}
	return "", false
}

// GetSettings returns the full settings snapshot with defaults applied
// for any missing key and unknown keys preserved verbatim.
func (s *Store) GetSettings() (Settings, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("store: get settings: %w", err)
	}
	defer rows.Close()

	raw := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Settings{}, fmt.Errorf("store: get settings: scan: %w", err)
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return Settings{}, err
	}

	out := DefaultSettings()
	if v, ok := raw[keyTheme]; ok {
		out.Theme = v
	}
	if v, ok := firstOf(raw, keyFormat, keyFormatAlias); ok {
		out.Format = Format(v)
	}
	if v, ok := firstOf(raw, keyQuality, keyQualityAlias); ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.QualityKbps = n
		}
	}
	if v, ok := raw[keyAutoSplit]; ok {
		out.AutoSplitEnabled = v == "true"
	}
	if v, ok := raw[keySplitInterval]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.SplitIntervalMinutes = n
		}
	}
	if v, ok := raw[keySplitSize]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.SplitSizeMB = n
		}
	}
	if v, ok := raw[keyStorageLocation]; ok {
		out.StorageLocation = v
	}
	if v, ok := raw[keyInputDevice]; ok {
		out.InputDeviceID = v
	}

	unknown := map[string]string{}
	for k, v := range raw {
		if !knownKeys[k] {
			unknown[k] = v
		}
	}
	if len(unknown) > 0 {
		out.Unknown = unknown
	}

	return out, nil
}

func firstOf(raw map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return "", false
}

// ClearSettings removes every row, reverting GetSettings to all
// defaults.
func (s *Store) ClearSettings() error {
	_, err := s.db.Exec(`DELETE FROM settings`)
	if err != nil {
		return fmt.Errorf("store: clear settings: %w", err)
	}
	return nil
}
