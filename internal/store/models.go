// Package store persists sessions, settings, segment blobs, and the
// crash-recovery checkpoint over a single modernc.org/sqlite handle,
// grounded on jwulff-steno's tui/internal/db/store.go (Store wrapping
// *sql.DB, the same driver and DSN style) and neilberkman-ccrider's use
// of modernc.org/sqlite as a direct, intentional dependency rather than
// bbolt, which appears only as a transitive dependency elsewhere in the
// retrieved corpus.
package store

import (
	"time"

	"github.com/taverntapes/taverntapes/internal/ids"
)

// Format names the container an encoded segment was written in.
type Format string

const (
	FormatWAV        Format = "wav"
	FormatCompressed Format = "compressed"
	FormatUnknown    Format = "unknown"
)

// SessionMetadata is the descriptive snapshot carried on a Session and
// on each of its segments at finalize time.
type SessionMetadata struct {
	SessionName     string    `json:"session_name"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	Format          Format    `json:"format"`
	QualityKbps     int       `json:"quality_kbps"`
}

// SegmentRef is one finalized segment belonging to a Session.
type SegmentRef struct {
	ID            ids.ID          `json:"id"`
	Path          string          `json:"path"`
	Metadata      SessionMetadata `json:"metadata"`
	SequenceIndex int             `json:"sequence_index"`
}

// Session is the durable record of one recorded gathering.
type Session struct {
	ID        ids.ID          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  SessionMetadata `json:"metadata"`
	Segments  []SegmentRef    `json:"segments"`
	Notes     []string        `json:"notes"`
	Tags      []string        `json:"tags"`
}

// RecoveryCheckpoint is the single-slot crash-recovery record.
type RecoveryCheckpoint struct {
	SessionName       string          `json:"session_name"`
	StartTime         time.Time       `json:"start_time"`
	DurationSeconds   float64         `json:"duration_seconds"`
	IsPaused          bool            `json:"is_paused"`
	CurrentSegmentRef *SegmentRef     `json:"current_segment_ref,omitempty"`
	Metadata          SessionMetadata `json:"metadata"`
}

// Settings is the canonical in-memory form of the settings collection.
// Alias keys (format/audio_format, quality/audio_quality) are resolved
// to the canonical Format/QualityKbps fields on read and mirrored back
// onto both alias keys on write, so older readers expecting either name
// keep working.
type Settings struct {
	Theme                 string            `json:"theme"`
	Format                Format            `json:"format"`
	QualityKbps           int               `json:"quality_kbps"`
	AutoSplitEnabled      bool              `json:"auto_split_enabled"`
	SplitIntervalMinutes  int               `json:"split_interval_minutes"`
	SplitSizeMB           int               `json:"split_size_mb"`
	StorageLocation       string            `json:"storage_location"`
	InputDeviceID         string            `json:"input_device_id"`
	// Unknown carries any key this version doesn't recognize, preserved
	// verbatim so a future version's settings aren't silently dropped.
	Unknown map[string]string `json:"-"`
}

// DefaultSettings returns the settings a store starts with before any
// explicit PutSettings call.
func DefaultSettings() Settings {
	return Settings{
		Theme:                "dark",
		Format:               FormatWAV,
		QualityKbps:          320,
		AutoSplitEnabled:     true,
		SplitIntervalMinutes: 30,
		SplitSizeMB:          500,
		StorageLocation:      "TavernTapes_Recordings",
		InputDeviceID:        "default",
	}
}
