package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/taverntapes/taverntapes/internal/ids"
	"github.com/taverntapes/taverntapes/internal/store"
)

func newTestCatalog(t *testing.T) (*Catalog, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func seedSession(t *testing.T, s *store.Store, name string, notes, tags []string) ids.ID {
	t.Helper()
	id := ids.New()
	sess := store.Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Metadata:  store.SessionMetadata{SessionName: name, Format: store.FormatWAV},
		Notes:     notes,
		Tags:      tags,
	}
	if err := s.PutSession(sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	return id
}

func TestListSessionsSortedByCreatedAtDescending(t *testing.T) {
	c, s := newTestCatalog(t)
	older := ids.New()
	newer := ids.New()
	if err := s.PutSession(store.Session{ID: older, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := s.PutSession(store.Session{ID: newer, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := c.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 || got[0].ID != newer || got[1].ID != older {
		t.Fatalf("ListSessions order = %+v", got)
	}
}

func TestSearchANDSemantics(t *testing.T) {
	c, s := newTestCatalog(t)
	seedSession(t, s, "Goblin Ambush", []string{"great loot"}, []string{"combat"})
	seedSession(t, s, "Tavern Chat", []string{"goblin mentioned in passing"}, nil)
	seedSession(t, s, "Dragon Hoard", nil, []string{"ambush"})

	got, err := c.Search("goblin ambush")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Search(\"goblin ambush\") returned %d sessions, want 1", len(got))
	}
}

func TestSearchEmptyQueryBehavesAsList(t *testing.T) {
	c, s := newTestCatalog(t)
	seedSession(t, s, "A", nil, nil)
	seedSession(t, s, "B", nil, nil)

	got, err := c.Search("")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search(\"\") returned %d, want 2", len(got))
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	c, s := newTestCatalog(t)
	seedSession(t, s, "Goblin Ambush", nil, nil)

	got, err := c.Search("GOBLIN")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Search(\"GOBLIN\") returned %d, want 1", len(got))
	}
}

func TestAddNoteValidation(t *testing.T) {
	c, s := newTestCatalog(t)
	id := seedSession(t, s, "A", nil, nil)

	if err := c.AddNote(id, "a short note"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	long := make([]byte, maxNoteLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := c.AddNote(id, string(long)); !errors.Is(err, ErrNoteTooLong) {
		t.Fatalf("AddNote(long) err = %v, want ErrNoteTooLong", err)
	}

	sess, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Notes) != 1 {
		t.Errorf("notes = %+v, want exactly the one valid note", sess.Notes)
	}
}

func TestAddTagsSetUnionAndValidation(t *testing.T) {
	c, s := newTestCatalog(t)
	id := seedSession(t, s, "A", nil, []string{"existing"})

	if err := c.AddTags(id, []string{"existing", "new-tag"}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}
	sess, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Tags) != 2 {
		t.Fatalf("tags = %+v, want set-union of 2", sess.Tags)
	}

	if err := c.AddTags(id, []string{"bad tag with spaces"}); !errors.Is(err, ErrTagInvalid) {
		t.Fatalf("AddTags(invalid) err = %v, want ErrTagInvalid", err)
	}
}

func TestAddTagsTooMany(t *testing.T) {
	c, s := newTestCatalog(t)
	id := seedSession(t, s, "A", nil, nil)

	tags := make([]string, 21)
	for i := range tags {
		tags[i] = "t" + string(rune('a'+i))
	}
	if err := c.AddTags(id, tags); !errors.Is(err, ErrTooManyTags) {
		t.Fatalf("AddTags(21 tags) err = %v, want ErrTooManyTags", err)
	}
}

func TestRemoveTagNoopIfAbsent(t *testing.T) {
	c, s := newTestCatalog(t)
	id := seedSession(t, s, "A", nil, []string{"keep"})

	if err := c.RemoveTag(id, "absent"); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}
	sess, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Tags) != 1 || sess.Tags[0] != "keep" {
		t.Errorf("tags = %+v, want unchanged [keep]", sess.Tags)
	}
}

func TestExportConcatenatesInSequenceOrder(t *testing.T) {
	c, s := newTestCatalog(t)
	id := ids.New()
	seg1, seg2 := ids.New(), ids.New()

	if err := s.SaveBlob(id, seg2, []byte("second")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	if err := s.SaveBlob(id, seg1, []byte("first-")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	sess := store.Session{
		ID:       id,
		Metadata: store.SessionMetadata{Format: store.FormatWAV},
		Segments: []store.SegmentRef{
			{ID: seg2, SequenceIndex: 2},
			{ID: seg1, SequenceIndex: 1},
		},
	}
	if err := s.PutSession(sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := c.Export(id, store.FormatWAV)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if string(got) != "first-second" {
		t.Errorf("Export = %q, want %q", got, "first-second")
	}
}

func TestExportFormatMismatch(t *testing.T) {
	c, s := newTestCatalog(t)
	id := ids.New()
	if err := s.PutSession(store.Session{ID: id, Metadata: store.SessionMetadata{Format: store.FormatWAV}}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	if _, err := c.Export(id, store.FormatCompressed); !errors.Is(err, ErrFormatConversionUnsupported) {
		t.Fatalf("Export err = %v, want ErrFormatConversionUnsupported", err)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	c, s := newTestCatalog(t)
	id := ids.New()
	segID := ids.New()
	if err := s.PutSession(store.Session{ID: id}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := s.SaveBlob(id, segID, []byte("x")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	if err := c.DeleteSession(id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.LoadBlob(segID); !errors.Is(err, store.ErrBlobNotFound) {
		t.Errorf("blob survived delete: %v", err)
	}
}
