// Package pipewire implements device.Port on top of PipeWire/JACK:
// port enumeration via "pw-link -io" and capture via a "pw-jack
// ffmpeg" subprocess emitting a single raw PCM frame stream, leaving
// containerization to the encoder rather than ffmpeg.
package pipewire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/taverntapes/taverntapes/internal/device"
)

// Port captures from PipeWire via pw-link/pw-jack/ffmpeg subprocesses.
type Port struct{}

func New() *Port { return &Port{} }

// EnumerateInputs lists JACK/PipeWire ports via the "pw-link -io"
// subprocess.
func (p *Port) EnumerateInputs(ctx context.Context) ([]device.Info, error) {
	cmd := exec.CommandContext(ctx, "pw-link", "-io")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pipewire: list ports: %w", err)
	}

	var infos []device.Info
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		infos = append(infos, device.Info{ID: line, Label: line})
	}
	if len(infos) == 0 {
		return nil, device.ErrNoInputDevice
	}
	return infos, nil
}

// Open starts a "pw-jack ffmpeg" capture of c.InputDeviceID, emitting
// raw interleaved s16le PCM on stdout. Frames are delivered in
// timeslice-sized reads on a dedicated goroutine reading the stdout
// pipe.
func (p *Port) Open(ctx context.Context, c device.Constraints) (device.Handle, error) {
	source := c.InputDeviceID
	if source == "" || source == "default" {
		return nil, fmt.Errorf("pipewire: %w: no default input resolvable, pass an explicit device id", device.ErrNoInputDevice)
	}

	env := os.Environ()
	env = append(env, "PIPEWIRE_QUANTUM=256/48000", "PIPEWIRE_LATENCY=256/48000")

	args := []string{
		"pw-jack", "ffmpeg",
		"-f", "jack", "-i", source,
		"-f", "s16le", "-ar", fmt.Sprintf("%d", c.SampleRate), "-ac", fmt.Sprintf("%d", c.Channels),
		"-",
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipewire: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipewire: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if strings.Contains(err.Error(), "permission") {
			return nil, fmt.Errorf("pipewire: %w: %v", device.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("pipewire: start capture: %w", err)
	}

	h := &handle{
		cmd:    cmd,
		frames: make(chan device.Frame, 8),
	}

	bytesPerSlice := c.SampleRate * c.Channels * 2 // 1s timeslice of s16le PCM
	if bytesPerSlice <= 0 {
		bytesPerSlice = 44100 * 2 * 2
	}

	go h.readFrames(stdout, bytesPerSlice)
	go drainStderr(stderr)

	return h, nil
}

type handle struct {
	cmd    *exec.Cmd
	frames chan device.Frame

	mu      sync.Mutex
	stopped bool
	err     error
}

func (h *handle) readFrames(r io.Reader, sliceBytes int) {
	defer close(h.frames)
	buf := make([]byte, sliceBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			pcm := make([]byte, n)
			copy(pcm, buf[:n])
			h.frames <- device.Frame{PCM: pcm, Timestamp: time.Now().UTC()}
		}
		if err != nil {
			h.mu.Lock()
			if !h.stopped {
				h.err = fmt.Errorf("pipewire: %w: %v", device.ErrDeviceLost, err)
			}
			h.mu.Unlock()
			return
		}
	}
}

func drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("pipewire capture stderr", "line", scanner.Text())
	}
}

func (h *handle) Frames() <-chan device.Frame { return h.frames }

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop sends SIGINT then waits up to 5s before SIGKILL.
func (h *handle) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if h.cmd.Process == nil {
		return nil
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		h.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		h.cmd.Process.Kill()
		<-done
		return nil
	}
}
