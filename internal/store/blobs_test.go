package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/taverntapes/taverntapes/internal/ids"
)

func TestSaveLoadDeleteBlob(t *testing.T) {
	s := newTestStore(t)
	sessID := ids.New()
	segID := ids.New()

	if err := s.SaveBlob(sessID, segID, []byte("hello world")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	got, err := s.LoadBlob(segID)
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("LoadBlob = %q, want %q", got, "hello world")
	}

	if err := s.DeleteBlob(segID); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.LoadBlob(segID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("LoadBlob after delete: %v, want ErrBlobNotFound", err)
	}
}

func TestLoadBlobNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadBlob(ids.New()); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("err = %v, want ErrBlobNotFound", err)
	}
}

func TestDeleteBlobNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteBlob(ids.New()); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("err = %v, want ErrBlobNotFound", err)
	}
}

func TestListOrphans(t *testing.T) {
	s := newTestStore(t)
	knownSession := ids.New()
	orphanSession := ids.New()

	ownedSeg := ids.New()
	orphanSeg := ids.New()

	if err := s.SaveBlob(knownSession, ownedSeg, []byte("a")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	if err := s.SaveBlob(orphanSession, orphanSeg, []byte("b")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	orphans, err := s.ListOrphans([]ids.ID{knownSession})
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != orphanSeg {
		t.Errorf("orphans = %+v, want [%v]", orphans, orphanSeg)
	}
}

func TestSaveBlobOverwrites(t *testing.T) {
	s := newTestStore(t)
	sessID := ids.New()
	segID := ids.New()

	if err := s.SaveBlob(sessID, segID, []byte("v1")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	if err := s.SaveBlob(sessID, segID, []byte("v2")); err != nil {
		t.Fatalf("SaveBlob overwrite: %v", err)
	}
	got, err := s.LoadBlob(segID)
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("LoadBlob = %q, want v2", got)
	}
}
