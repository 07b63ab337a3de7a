package engine

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/encoder"
	"github.com/taverntapes/taverntapes/internal/encoder/compressedencoder"
	"github.com/taverntapes/taverntapes/internal/encoder/wavencoder"
)

// EncoderFactory constructs a fresh Encoder for a new segment. Tests
// inject factories producing encoders with deliberately broken Stop
// behavior (scenario S6); production uses DefaultEncoderFactory.
type EncoderFactory func(opts encoder.Options) (encoder.Encoder, error)

// DefaultEncoderFactory dispatches on opts.Format to the container
// implementation: wavencoder for FormatWAV, compressedencoder for
// FormatCompressed.
func DefaultEncoderFactory(opts encoder.Options) (encoder.Encoder, error) {
	switch opts.Format {
	case encoder.FormatWAV:
		return wavencoder.New(opts.SampleRate, opts.Channels), nil
	case encoder.FormatCompressed:
		enc, err := compressedencoder.New(opts.SampleRate, opts.Channels, opts.QualityKbps)
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: %q", encoder.ErrUnsupportedFormat, opts.Format)
	}
}
