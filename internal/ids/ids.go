// Package ids provides the 128-bit opaque identifiers used for sessions
// and segments, plus a cryptographically-random generator.
package ids

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit opaque identifier. The zero value is never issued by
// New and is reserved to mean "no id".
type ID [16]byte

// Nil is the zero ID.
var Nil ID

// New returns a new cryptographically-random ID.
func New() ID {
	return ID(uuid.New())
}

// String renders the canonical hyphenated hex form, e.g.
// "f47ac10b-58cc-4372-a567-0e02b2c3d479".
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Hex renders the id as 32 lowercase hex characters with no separators,
// the canonical form used as a storage key.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// Parse parses either the hyphenated or bare-hex form back into an ID.
func Parse(s string) (ID, error) {
	if len(s) == 32 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return Nil, fmt.Errorf("ids: parse %q: %w", s, err)
		}
		var id ID
		copy(id[:], b)
		return id, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("ids: parse %q: %w", s, err)
	}
	return ID(u), nil
}
