package engine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/taverntapes/taverntapes/internal/store"
)

// State enumerates the recording engine's state machine.
type State string

const (
	StateIdle      State = "Idle"
	StateStarting  State = "Starting"
	StateRecording State = "Recording"
	StatePaused    State = "Paused"
	StateSplitting State = "Splitting"
	StateStopping  State = "Stopping"
	StateFailed    State = "Failed"
)

const (
	sampleRate = 44100
	channels   = 2

	defaultStopTimeout = 10 * time.Second
	checkpointInterval = 5 * time.Second
	recoveryWindow     = 24 * time.Hour
	maxInFlightChunks  = 100 // memory guard ceiling on buffered chunks
)

// RecordingOptions is the engine-facing recording configuration
// resolved from the settings collection at start time: Start takes
// only a session name, so format, quality, and split policy come from
// settings rather than call parameters.
type RecordingOptions struct {
	Format               store.Format
	QualityKbps          int
	SplitIntervalMinutes int // 0 means unset
	SplitSizeMB          int // 0 means unset
	InputDeviceID        string
}

// Status is a read-only snapshot of the live (or idle) engine.
type Status struct {
	State           State
	SessionName     string
	DurationSeconds float64
	FileSizeBytes   int64
}

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _\-.]{1,100}$`)

// ValidateSessionName reports whether name is a legal session name.
func ValidateSessionName(name string) bool {
	return sessionNamePattern.MatchString(name)
}

// sanitizeSessionName validates name, or synthesizes the
// "Session_{YYYY-MM-DD}_{HHMM}" default when empty.
func sanitizeSessionName(name string, now time.Time) (string, error) {
	if name == "" {
		return fmt.Sprintf("Session_%s_%s", now.Format("2006-01-02"), now.Format("1504")), nil
	}
	if !ValidateSessionName(name) {
		return "", ErrSessionNameInvalid
	}
	return name, nil
}
