// Package compressedencoder implements encoder.Encoder by piping PCM
// through an ffmpeg subprocess into Opus-in-Ogg, the one canonical
// "compressed" container this implementation commits to. Subprocess
// lifecycle — stdout/stderr pipes, a SIGINT-then-SIGKILL stop sequence
// bounded by a timeout — follows the same shape as other ffmpeg-backed
// subprocess wrappers in this codebase.
package compressedencoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/taverntapes/taverntapes/internal/encoder"
)

const stopWait = 5 * time.Second

// Encoder streams PCM into ffmpeg and collects Opus/Ogg bytes as they
// are produced on stdout.
type Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu      sync.Mutex
	blob    []byte
	chunkCb func([]byte)
	stopped bool
	readErr error
	readDone chan struct{}
}

// New spawns the ffmpeg subprocess for the given capture format and
// target bitrate.
func New(sampleRate, channels, qualityKbps int) (*Encoder, error) {
	args := []string{
		"-f", "s16le", "-ar", fmt.Sprintf("%d", sampleRate), "-ac", fmt.Sprintf("%d", channels),
		"-i", "pipe:0",
		"-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", qualityKbps),
		"-f", "ogg",
		"pipe:1",
	}
	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &encoder.Error{Kind: encoder.KindInternal, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &encoder.Error{Kind: encoder.KindInternal, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &encoder.Error{Kind: encoder.KindInternal, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &encoder.Error{Kind: encoder.KindConstraintFailed, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	e := &Encoder{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		readDone: make(chan struct{}),
	}

	go e.readOutput()
	go drainStderr(stderr)

	return e, nil
}

func (e *Encoder) readOutput() {
	defer close(e.readDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := e.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			e.mu.Lock()
			e.blob = append(e.blob, chunk...)
			cb := e.chunkCb
			e.mu.Unlock()

			if cb != nil {
				cb(chunk)
			}
		}
		if err != nil {
			if err != io.EOF {
				e.mu.Lock()
				e.readErr = &encoder.Error{Kind: encoder.KindDeviceDropped, Err: err}
				e.mu.Unlock()
			}
			return
		}
	}
}

func drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("compressed encoder ffmpeg stderr", "line", scanner.Text())
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
		return fmt.Errorf("compressedencoder: write after stop")
	}
	e.mu.Unlock()

	_, err := e.stdin.Write(pcm)
	if err != nil {
		return &encoder.Error{Kind: encoder.KindDeviceDropped, Err: err}
	}
	return nil
}

func (e *Encoder) CurrentBlob() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, len(e.blob))
	copy(out, e.blob)
	return out
}

// Stop closes stdin (signalling EOF to ffmpeg), waits for the encoder
// to flush its tail and exit, and returns the bytes that arrived after
// Stop was called (these are also passed to the chunk callback). The
// wait for the output reader ends at ctx's deadline or after 5s; if
// ffmpeg has not exited 5s after that, the subprocess is killed.
func (e *Encoder) Stop(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, nil
	}
	e.stopped = true
	priorLen := len(e.blob)
	e.mu.Unlock()

	e.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case <-e.readDone:
	case <-ctx.Done():
	case <-time.After(stopWait):
	}

	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok && (exitErr.ExitCode() == 255) {
				err = nil
			}
		}
		if err != nil {
			e.terminate()
		}
	case <-time.After(stopWait):
		e.terminate()
		<-done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return nil, e.readErr
	}
	tail := make([]byte, 0)
	if priorLen < len(e.blob) {
		tail = append(tail, e.blob[priorLen:]...)
	}
	return tail, nil
}

func (e *Encoder) terminate() {
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
}

func (e *Encoder) Extension() string { return "opus" }

var _ encoder.Encoder = (*Encoder)(nil)
