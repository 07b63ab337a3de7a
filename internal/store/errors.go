package store

import "errors"

// ErrSessionNotFound is returned by GetSession for an absent id.
var ErrSessionNotFound = errors.New("store: session not found")

// ErrBlobNotFound is returned by LoadBlob for an absent id.
var ErrBlobNotFound = errors.New("store: blob not found")
