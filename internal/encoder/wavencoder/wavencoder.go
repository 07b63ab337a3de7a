// Package wavencoder implements encoder.Encoder as a streaming RIFF/WAVE
// PCM16 container. Because the container is just a 44-byte header over
// raw samples, CurrentBlob recomputes a correct header for however many
// data bytes have arrived so far, so every CurrentBlob snapshot is a
// complete, valid WAV file without any patch-in-place bookkeeping. The
// chunk callback itself receives raw 1s PCM slices, not header-bearing
// WAV data.
package wavencoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/taverntapes/taverntapes/internal/encoder"
)

const (
	headerSize  = 44
	bitsPerSample = 16
)

// Encoder streams signed-linear PCM into a growing WAV blob.
type Encoder struct {
	sampleRate int
	channels   int
	sliceBytes int

	mu       sync.Mutex
	data     []byte
	pending  []byte
	chunkCb  func([]byte)
	stopped  bool
}

// New returns an Encoder for the given capture format. Chunks are one
// 1s slice each, sampleRate * channels * 2 bytes.
func New(sampleRate, channels int) *Encoder {
	return &Encoder{
		sampleRate: sampleRate,
		channels:   channels,
		sliceBytes: sampleRate * channels * 2,
	}
}

func (e *Encoder) SetChunkCallback(fn func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunkCb = fn
}

func (e *Encoder) Write(pcm []byte) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("wavencoder: write after stop")
	}

	e.data = append(e.data, pcm...)
	e.pending = append(e.pending, pcm...)

	var chunks [][]byte
	for e.sliceBytes > 0 && len(e.pending) >= e.sliceBytes {
		chunk := make([]byte, e.sliceBytes)
		copy(chunk, e.pending[:e.sliceBytes])
		e.pending = append([]byte(nil), e.pending[e.sliceBytes:]...)
		chunks = append(chunks, chunk)
	}
	cb := e.chunkCb
	e.mu.Unlock()

	// The callback runs without e.mu held, since it may call CurrentBlob
	// or Stop on this same encoder.
	if cb != nil {
		for _, chunk := range chunks {
			cb(chunk)
		}
	}
	return nil
}

func (e *Encoder) CurrentBlob() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildBlobLocked()
}

func (e *Encoder) buildBlobLocked() []byte {
	header := buildHeader(e.sampleRate, e.channels, len(e.data))
	out := make([]byte, 0, len(header)+len(e.data))
	out = append(out, header...)
	out = append(out, e.data...)
	return out
}

// Stop finalizes the stream and returns whatever PCM had not yet been
// flushed as a full 1s chunk, the tail blob — may be empty if no audio
// frames were seen.
func (e *Encoder) Stop(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, nil
	}
	e.stopped = true
	tail := e.pending
	e.pending = nil
	return tail, nil
}

func (e *Encoder) Extension() string { return "wav" }

// buildHeader writes a canonical 44-byte PCM16 WAV header for dataLen
// bytes of interleaved samples.
func buildHeader(sampleRate, channels, dataLen int) []byte {
	h := make([]byte, headerSize)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))

	return h
}

var _ encoder.Encoder = (*Encoder)(nil)
