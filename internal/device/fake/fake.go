// Package fake provides an in-process device.Port test double that
// synthesizes PCM frames on a fake clock instead of talking to a real
// PipeWire daemon, so engine tests can exercise the full capture
// lifecycle without external commands.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taverntapes/taverntapes/internal/clock"
	"github.com/taverntapes/taverntapes/internal/device"
)

// Port is a synthetic device backend for tests. Inputs lists the
// devices EnumerateInputs reports; OpenErr, when set, makes Open fail.
type Port struct {
	Inputs  []device.Info
	OpenErr error
	Clock   clock.Clock // defaults to clock.Real{} if nil

	mu     sync.Mutex
	opened []*handle
}

func New() *Port {
	return &Port{
		Inputs: []device.Info{{ID: "default", Label: "Fake Microphone"}},
		Clock:  clock.Real{},
	}
}

func (p *Port) EnumerateInputs(ctx context.Context) ([]device.Info, error) {
	return p.Inputs, nil
}

func (p *Port) Open(ctx context.Context, c device.Constraints) (device.Handle, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	h := &handle{
		frames: make(chan device.Frame), // unbuffered: Feed rendezvous with the reader
		stop:   make(chan struct{}),
		c:      c,
	}
	p.mu.Lock()
	p.opened = append(p.opened, h)
	p.mu.Unlock()
	return h, nil
}

// Feed pushes silence-free synthetic PCM of the given duration into
// every currently-open handle, simulating the device thread a real
// capture backend runs on. It blocks until every handle's reader has
// fully finished processing the frame (via device.Frame.Done), so a
// test can Feed and then immediately assert on engine state without an
// arbitrary wait.
func (p *Port) Feed(d time.Duration, amplitude int16) {
	p.mu.Lock()
	handles := append([]*handle(nil), p.opened...)
	clk := p.Clock
	p.mu.Unlock()
	if clk == nil {
		clk = clock.Real{}
	}
	for _, h := range handles {
		h.feed(d, amplitude, clk.Now())
	}
}

// Drop simulates the device being lost mid-stream.
func (p *Port) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.opened {
		h.drop()
	}
}

type handle struct {
	frames chan device.Frame
	stop   chan struct{}
	c      device.Constraints

	mu      sync.Mutex
	stopped bool
	err     error
}

func (h *handle) feed(d time.Duration, amplitude int16, ts time.Time) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	sampleRate := h.c.SampleRate
	if sampleRate == 0 {
		sampleRate = 44100
	}
	channels := h.c.Channels
	if channels == 0 {
		channels = 2
	}
	samples := int(d.Seconds() * float64(sampleRate))
	pcm := make([]byte, samples*channels*2)
	for i := 0; i < samples*channels; i++ {
		pcm[i*2] = byte(amplitude)
		pcm[i*2+1] = byte(amplitude >> 8)
	}

	done := make(chan struct{})
	select {
	case h.frames <- device.Frame{PCM: pcm, Timestamp: ts, Done: func() { close(done) }}:
	case <-h.stop:
		return
	}
	select {
	case <-done:
	case <-h.stop:
	}
}

func (h *handle) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.err = fmt.Errorf("fake device: %w", device.ErrDeviceLost)
	close(h.stop)
	close(h.frames)
}

func (h *handle) Frames() <-chan device.Frame { return h.frames }

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stop)
	close(h.frames)
	return nil
}
