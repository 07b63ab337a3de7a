package store

import (
	"errors"
	"testing"
	"time"
)

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cp := RecoveryCheckpoint{
		SessionName:     "Campaign 5",
		StartTime:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DurationSeconds: 30,
		IsPaused:        false,
		Metadata:        SessionMetadata{SessionName: "Campaign 5"},
	}
	if err := s.PutCheckpoint(cp); err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}

	got, err := s.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if got.SessionName != "Campaign 5" || !got.StartTime.Equal(cp.StartTime) {
		t.Errorf("GetCheckpoint() = %+v", got)
	}
}

func TestCheckpointOverwritesSingleSlot(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutCheckpoint(RecoveryCheckpoint{SessionName: "a"}); err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}
	if err := s.PutCheckpoint(RecoveryCheckpoint{SessionName: "b"}); err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}
	got, err := s.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if got.SessionName != "b" {
		t.Errorf("SessionName = %q, want single-slot overwrite to b", got.SessionName)
	}
}

func TestCheckpointAbsent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetCheckpoint(); !errors.Is(err, ErrNoRecoveryCheckpoint) {
		t.Fatalf("err = %v, want ErrNoRecoveryCheckpoint", err)
	}
}

func TestCheckpointClear(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutCheckpoint(RecoveryCheckpoint{SessionName: "a"}); err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}
	if err := s.ClearCheckpoint(); err != nil {
		t.Fatalf("ClearCheckpoint: %v", err)
	}
	if _, err := s.GetCheckpoint(); !errors.Is(err, ErrNoRecoveryCheckpoint) {
		t.Fatalf("err = %v, want ErrNoRecoveryCheckpoint after clear", err)
	}
}
