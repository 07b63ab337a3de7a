package store

import (
	"errors"
	"testing"
	"time"

	"github.com/taverntapes/taverntapes/internal/ids"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetSession(t *testing.T) {
	s := newTestStore(t)

	id := ids.New()
	sess := Session{
		ID:        id,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata: SessionMetadata{
			SessionName:     "Goblin Ambush",
			StartTime:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			DurationSeconds: 3,
			FileSizeBytes:   1024,
			Format:          FormatWAV,
			QualityKbps:     320,
		},
		Segments: []SegmentRef{{ID: ids.New(), Path: "recordings/abc", SequenceIndex: 1}},
		Notes:    []string{"first note"},
		Tags:     []string{"session"},
	}

	if err := s.PutSession(sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Metadata.SessionName != "Goblin Ambush" {
		t.Errorf("session name = %q", got.Metadata.SessionName)
	}
	if len(got.Segments) != 1 || got.Segments[0].SequenceIndex != 1 {
		t.Errorf("segments = %+v", got.Segments)
	}
	if len(got.Notes) != 1 || got.Notes[0] != "first note" {
		t.Errorf("notes = %+v", got.Notes)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(ids.New())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPutSessionOverwrites(t *testing.T) {
	s := newTestStore(t)
	id := ids.New()
	base := Session{ID: id, CreatedAt: time.Now().UTC(), Metadata: SessionMetadata{SessionName: "a"}}
	if err := s.PutSession(base); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	base.Metadata.SessionName = "b"
	if err := s.PutSession(base); err != nil {
		t.Fatalf("PutSession overwrite: %v", err)
	}
	got, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Metadata.SessionName != "b" {
		t.Errorf("session name = %q, want last-writer-wins value %q", got.Metadata.SessionName, "b")
	}
}

func TestGetAllSessions(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		sess := Session{ID: ids.New(), CreatedAt: time.Now().UTC(), Metadata: SessionMetadata{SessionName: "s"}}
		if err := s.PutSession(sess); err != nil {
			t.Fatalf("PutSession: %v", err)
		}
	}
	all, err := s.GetAllSessions()
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
}

func TestDeleteSessionCascadesBlobs(t *testing.T) {
	s := newTestStore(t)
	sessID := ids.New()
	segID := ids.New()

	if err := s.PutSession(Session{ID: sessID, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := s.SaveBlob(sessID, segID, []byte("pcm")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	if err := s.DeleteSession(sessID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := s.GetSession(sessID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session still present after delete: %v", err)
	}
	if _, err := s.LoadBlob(segID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("blob still present after cascade delete: %v", err)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteSession(ids.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}
