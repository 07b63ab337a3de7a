// Package encoder defines the PCM-to-container Encoder contract: a
// 1s-timeslice chunk callback, a stop operation that yields the tail
// blob, and get-current-blob for in-progress reads.
package encoder

import (
	"context"
	"errors"
)

// Kind enumerates the EncoderError kinds.
type Kind string

const (
	KindDeviceDropped  Kind = "DeviceDropped"
	KindConstraintFailed Kind = "ConstraintFailed"
	KindInternal       Kind = "Internal"
)

// Error is the Encoder's tagged error type.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) error { return &Error{Kind: kind, Err: err} }

// Format selects the container the Encoder produces.
type Format string

const (
	FormatWAV        Format = "wav"
	FormatCompressed Format = "compressed"
)

// Options configures a new Encoder instance.
type Options struct {
	Format       Format
	SampleRate   int
	Channels     int
	QualityKbps  int // only meaningful for FormatCompressed
}

// ErrUnsupportedFormat is returned by New for an unrecognized format.
var ErrUnsupportedFormat = errors.New("encoder: unsupported format")

// Encoder converts a PCM stream into a container, emitting 1s-timeslice
// chunks via the callback registered with SetChunkCallback.
type Encoder interface {
	// Write feeds one block of interleaved signed-linear PCM.
	Write(pcm []byte) error

	// SetChunkCallback registers the sink invoked once per emitted
	// chunk. Must be called before the first Write.
	SetChunkCallback(fn func(chunk []byte))

	// CurrentBlob returns the full in-progress blob (header plus every
	// byte written and flushed so far).
	CurrentBlob() []byte

	// Stop finalizes the encoder and returns the remaining tail bytes
	// not yet delivered via the chunk callback, bounded by ctx.
	Stop(ctx context.Context) ([]byte, error)

	// Extension is the canonical file extension for this container,
	// e.g. "wav" or "opus".
	Extension() string
}
