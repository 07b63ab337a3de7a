// Package catalog implements read-side session browsing and
// annotation: listing, full-text search over name/notes/tags, notes,
// tags, export, and deletion, layered over internal/store.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/taverntapes/taverntapes/internal/ids"
	"github.com/taverntapes/taverntapes/internal/store"
)

// Catalog-level error kinds.
var (
	ErrSessionNotFound             = store.ErrSessionNotFound
	ErrFormatConversionUnsupported = errors.New("catalog: format conversion unsupported")
	ErrNoteTooLong                 = errors.New("catalog: note exceeds 1000 characters")
	ErrTagInvalid                  = errors.New("catalog: tag invalid")
	ErrTooManyTags                 = errors.New("catalog: session already has 20 tags")
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

const (
	maxNoteLen = 1000
	maxTags    = 20
)

// Catalog is the read-side view over a Store.
type Catalog struct {
	store *store.Store
}

func New(s *store.Store) *Catalog {
	return &Catalog{store: s}
}

// ListSessions returns every session sorted by CreatedAt descending.
func (c *Catalog) ListSessions() ([]store.Session, error) {
	all, err := c.store.GetAllSessions()
	if err != nil {
		return nil, fmt.Errorf("catalog: list sessions: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

// Search matches session_name, every note, and every tag against each
// whitespace-split token of query, case-insensitively, requiring every
// token to match at least one field (AND semantics, testable property
// 9). An empty query behaves as ListSessions.
func (c *Catalog) Search(query string) ([]store.Session, error) {
	tokens := strings.Fields(query)
	all, err := c.ListSessions()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return all, nil
	}

	var out []store.Session
	for _, sess := range all {
		if sessionMatchesAllTokens(sess, tokens) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func sessionMatchesAllTokens(sess store.Session, tokens []string) bool {
	for _, tok := range tokens {
		if !sessionMatchesToken(sess, tok) {
			return false
		}
	}
	return true
}

func sessionMatchesToken(sess store.Session, tok string) bool {
	tok = strings.ToLower(tok)
	if strings.Contains(strings.ToLower(sess.Metadata.SessionName), tok) {
		return true
	}
	for _, note := range sess.Notes {
		if strings.Contains(strings.ToLower(note), tok) {
			return true
		}
	}
	for _, tag := range sess.Tags {
		if strings.Contains(strings.ToLower(tag), tok) {
			return true
		}
	}
	return false
}

// AddNote appends a validated note to a session's notes list. The
// append re-reads the session inside the same transaction it writes
// back in, so a concurrent AddNote/AddTags/RemoveTag on the same
// session can't silently clobber this one.
func (c *Catalog) AddNote(id ids.ID, note string) error {
	if len(note) > maxNoteLen {
		return ErrNoteTooLong
	}
	err := c.store.UpdateSession(id, func(sess *store.Session) error {
		sess.Notes = append(sess.Notes, note)
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: add note: %w", err)
	}
	return nil
}

// AddTags set-unions validated tags into a session's existing tags,
// re-reading the session inside the same transaction it writes back
// in (see AddNote).
func (c *Catalog) AddTags(id ids.ID, tags []string) error {
	for _, t := range tags {
		if !tagPattern.MatchString(t) {
			return fmt.Errorf("%w: %q", ErrTagInvalid, t)
		}
	}

	err := c.store.UpdateSession(id, func(sess *store.Session) error {
		existing := map[string]bool{}
		for _, t := range sess.Tags {
			existing[t] = true
		}
		merged := append([]string(nil), sess.Tags...)
		for _, t := range tags {
			if !existing[t] {
				merged = append(merged, t)
				existing[t] = true
			}
		}
		if len(merged) > maxTags {
			return ErrTooManyTags
		}
		sess.Tags = merged
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: add tags: %w", err)
	}
	return nil
}

// RemoveTag is a no-op if the tag is absent, re-reading the session
// inside the same transaction it writes back in (see AddNote).
func (c *Catalog) RemoveTag(id ids.ID, tag string) error {
	err := c.store.UpdateSession(id, func(sess *store.Session) error {
		out := sess.Tags[:0:0]
		for _, t := range sess.Tags {
			if t != tag {
				out = append(out, t)
			}
		}
		sess.Tags = out
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: remove tag: %w", err)
	}
	return nil
}

// Export concatenates a session's segment blobs in sequence order. If
// the requested format differs from the session's recorded format, it
// returns ErrFormatConversionUnsupported rather than transcoding —
// format conversion on export is not implemented.
func (c *Catalog) Export(id ids.ID, format store.Format) ([]byte, error) {
	sess, err := c.store.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("catalog: export: %w", err)
	}
	if sess.Metadata.Format != format {
		return nil, ErrFormatConversionUnsupported
	}

	ordered := append([]store.SegmentRef(nil), sess.Segments...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SequenceIndex < ordered[j].SequenceIndex })

	var out []byte
	for _, seg := range ordered {
		b, err := c.store.LoadBlob(seg.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog: export: segment %s: %w", seg.ID, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// DeleteSession removes the session and cascades to every segment
// blob.
func (c *Catalog) DeleteSession(id ids.ID) error {
	if err := c.store.DeleteSession(id); err != nil {
		return fmt.Errorf("catalog: delete session: %w", err)
	}
	return nil
}
