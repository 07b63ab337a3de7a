// Package engine implements the recording engine state machine: the
// single authority coordinating the device port, encoder, level
// meter, segmentation policy, and the blob/session/recovery stores.
// State is serialized by one mutex rather than a message-channel
// actor — the same single-writer guarantee, since no caller ever
// mutates engine fields without holding the lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taverntapes/taverntapes/internal/clock"
	"github.com/taverntapes/taverntapes/internal/device"
	"github.com/taverntapes/taverntapes/internal/encoder"
	"github.com/taverntapes/taverntapes/internal/ids"
	"github.com/taverntapes/taverntapes/internal/levelmeter"
	"github.com/taverntapes/taverntapes/internal/store"
)

// Engine drives one recording at a time. Construct with New and share
// the single instance across the CLI/HTTP control surfaces.
type Engine struct {
	store           *store.Store
	device          device.Port
	clock           clock.Clock
	newEncoder      EncoderFactory
	meter           *levelmeter.Meter
	stopTimeout     time.Duration
	checkpointEvery time.Duration

	mu sync.Mutex

	state       State
	sessionID   ids.ID
	sessionName string
	startTime   time.Time
	options     RecordingOptions

	accumulatedActive time.Duration
	activeSince       time.Time

	deviceHandle   device.Handle
	currentEncoder encoder.Encoder

	currentSegmentID        ids.ID
	currentSegmentSeq       int
	currentSegmentStartTime time.Time
	currentSegmentBytes     int64
	// segmentAccumulatedActive/segmentActiveSince mirror
	// accumulatedActive/activeSince but reset at every split, so each
	// SegmentRef's metadata reports that segment's own elapsed active
	// time rather than the whole session's.
	segmentAccumulatedActive time.Duration
	segmentActiveSince       time.Time
	finalizedBytes           int64
	chunksSinceSplit         int
	lastSplitWallTime        time.Time

	segments []store.SegmentRef

	checkpointStop chan struct{}
	lastFailure    error

	levelCallback   func(float64)
	silenceCallback func()
}

// New constructs an Engine over the given store, device port, and
// clock. factory defaults to DefaultEncoderFactory when nil.
func New(st *store.Store, dev device.Port, clk clock.Clock, factory EncoderFactory) *Engine {
	if factory == nil {
		factory = DefaultEncoderFactory
	}
	e := &Engine{
		store:       st,
		device:      dev,
		clock:       clk,
		newEncoder:  factory,
		state:           StateIdle,
		stopTimeout:     defaultStopTimeout,
		checkpointEvery: checkpointInterval,
	}
	e.meter = levelmeter.New(clk)
	e.meter.OnSilence(func() {
		e.mu.Lock()
		cb := e.silenceCallback
		e.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	return e
}

// WithStopTimeout overrides the Stop grace period before it forces
// cleanup and returns ErrStopTimeout. Production wiring sets it from
// the process config (10s by default); tests shrink it to exercise
// scenario S6 without a real wait.
func (e *Engine) WithStopTimeout(d time.Duration) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimeout = d
	return e
}

// WithCheckpointInterval overrides the crash-recovery checkpoint
// cadence. Production config drives this from the process config file;
// it defaults to checkpointInterval.
func (e *Engine) WithCheckpointInterval(d time.Duration) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpointEvery = d
	return e
}

// SetLevelCallback registers the sink for normalized 0..1 loudness
// values, fired once per processed frame while Recording.
func (e *Engine) SetLevelCallback(fn func(level float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.levelCallback = fn
}

// SetSilenceCallback registers the advisory silence-detected sink.
// Never influences engine state.
func (e *Engine) SetSilenceCallback(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silenceCallback = fn
}

// GetStatus returns a point-in-time snapshot of the engine.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	return Status{
		State:           e.state,
		SessionName:     e.sessionName,
		DurationSeconds: e.durationLocked(now).Seconds(),
		FileSizeBytes:   e.totalBytesLocked(),
	}
}

// PendingRecovery reports whether a fresh-enough recovery checkpoint
// exists. Stale checkpoints (older than recoveryWindow) are purged and
// reported as absent.
func (e *Engine) PendingRecovery() (store.RecoveryCheckpoint, bool, error) {
	cp, err := e.store.GetCheckpoint()
	if errors.Is(err, store.ErrNoRecoveryCheckpoint) {
		return store.RecoveryCheckpoint{}, false, nil
	}
	if err != nil {
		return store.RecoveryCheckpoint{}, false, fmt.Errorf("%w: %v", ErrRecoveryStoreFailed, err)
	}
	if e.clock.Now().Sub(cp.StartTime) > recoveryWindow {
		_ = e.store.ClearCheckpoint()
		return store.RecoveryCheckpoint{}, false, nil
	}
	return cp, true, nil
}

// DiscardRecovery clears a pending checkpoint without adopting it.
func (e *Engine) DiscardRecovery() error {
	if err := e.store.ClearCheckpoint(); err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryStoreFailed, err)
	}
	return nil
}

// Start begins a new recording under the given name (sanitized, or
// synthesized if empty), reading container/bitrate/split policy from
// the current settings snapshot.
func (e *Engine) Start(ctx context.Context, name string) (store.SessionMetadata, error) {
	now := e.clock.Now()
	sanitized, err := sanitizeSessionName(name, now)
	if err != nil {
		return store.SessionMetadata{}, err
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return store.SessionMetadata{}, ErrAlreadyRecording
	}
	e.state = StateStarting
	e.mu.Unlock()

	opts, err := e.resolveOptions()
	if err != nil {
		e.resetToIdle()
		return store.SessionMetadata{}, err
	}

	handle, err := e.device.Open(ctx, device.Constraints{
		SampleRate:    sampleRate,
		Channels:      channels,
		AGC:           true,
		EchoCancel:    true,
		NoiseSuppress: true,
		InputDeviceID: opts.InputDeviceID,
	})
	if err != nil {
		e.resetToIdle()
		return store.SessionMetadata{}, mapDeviceErr(err)
	}

	enc, err := e.newEncoder(encoderOptions(opts))
	if err != nil {
		handle.Stop()
		e.resetToIdle()
		return store.SessionMetadata{}, fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}

	e.mu.Lock()
	e.sessionID = ids.New()
	e.sessionName = sanitized
	e.startTime = now
	e.options = opts
	e.accumulatedActive = 0
	e.activeSince = now
	e.deviceHandle = handle
	e.currentEncoder = enc
	e.currentSegmentID = ids.Nil
	e.currentSegmentSeq = 0
	e.currentSegmentStartTime = now
	e.currentSegmentBytes = 0
	e.segmentAccumulatedActive = 0
	e.segmentActiveSince = now
	e.finalizedBytes = 0
	e.chunksSinceSplit = 0
	e.lastSplitWallTime = now
	e.segments = nil
	e.lastFailure = nil
	e.state = StateRecording
	enc.SetChunkCallback(e.newChunkCallback(enc))
	e.checkpointStop = make(chan struct{})
	meta := e.snapshotMetadataLocked(now)
	e.mu.Unlock()

	e.meter.SetActive(true)
	go e.pump(handle)
	go e.checkpointLoop(e.checkpointStop)

	return meta, nil
}

// Recover adopts a pending checkpoint's name/start/duration and
// re-enters Recording under a fresh session id; the checkpoint's
// in-progress segment (if any) is retained as the recovered session's
// first segment rather than left orphaned, since no attempt is made to
// resume writing to it.
func (e *Engine) Recover(ctx context.Context) (store.SessionMetadata, error) {
	cp, ok, err := e.PendingRecovery()
	if err != nil {
		return store.SessionMetadata{}, err
	}
	if !ok {
		return store.SessionMetadata{}, ErrNoRecoveryCheckpoint
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return store.SessionMetadata{}, ErrAlreadyRecording
	}
	e.state = StateStarting
	e.mu.Unlock()

	opts, err := e.resolveOptions()
	if err != nil {
		e.resetToIdle()
		return store.SessionMetadata{}, err
	}

	handle, err := e.device.Open(ctx, device.Constraints{
		SampleRate:    sampleRate,
		Channels:      channels,
		AGC:           true,
		EchoCancel:    true,
		NoiseSuppress: true,
		InputDeviceID: opts.InputDeviceID,
	})
	if err != nil {
		e.resetToIdle()
		return store.SessionMetadata{}, mapDeviceErr(err)
	}

	enc, err := e.newEncoder(encoderOptions(opts))
	if err != nil {
		handle.Stop()
		e.resetToIdle()
		return store.SessionMetadata{}, fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}

	sessionID := ids.New()
	if ref := cp.CurrentSegmentRef; ref != nil {
		// Re-tag the checkpointed segment's blob with the new session id
		// so orphan purging and DeleteSession count it as this session's.
		if b, err := e.store.LoadBlob(ref.ID); err == nil {
			if err := e.store.SaveBlob(sessionID, ref.ID, b); err != nil {
				handle.Stop()
				e.resetToIdle()
				return store.SessionMetadata{}, fmt.Errorf("%w: %v", ErrBlobWriteFailed, err)
			}
		}
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.sessionID = sessionID
	e.sessionName = cp.SessionName
	e.startTime = cp.StartTime
	e.options = opts
	e.accumulatedActive = time.Duration(cp.DurationSeconds * float64(time.Second))
	e.activeSince = now
	e.deviceHandle = handle
	e.currentEncoder = enc
	e.currentSegmentID = ids.Nil
	e.currentSegmentStartTime = now
	e.currentSegmentBytes = 0
	e.segmentAccumulatedActive = 0
	e.segmentActiveSince = now
	e.finalizedBytes = 0
	e.chunksSinceSplit = 0
	e.lastSplitWallTime = now
	e.lastFailure = nil
	if cp.CurrentSegmentRef != nil {
		e.segments = []store.SegmentRef{*cp.CurrentSegmentRef}
		e.currentSegmentSeq = cp.CurrentSegmentRef.SequenceIndex
		e.finalizedBytes = cp.CurrentSegmentRef.Metadata.FileSizeBytes
	} else {
		e.segments = nil
		e.currentSegmentSeq = 0
	}
	e.state = StateRecording
	enc.SetChunkCallback(e.newChunkCallback(enc))
	e.checkpointStop = make(chan struct{})
	meta := e.snapshotMetadataLocked(now)
	e.mu.Unlock()

	e.meter.SetActive(true)
	go e.pump(handle)
	go e.checkpointLoop(e.checkpointStop)

	return meta, nil
}

// Pause freezes the duration counter; legal only from Recording.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRecording {
		return ErrNotRecording
	}
	now := e.clock.Now()
	e.accumulatedActive += now.Sub(e.activeSince)
	e.segmentAccumulatedActive += now.Sub(e.segmentActiveSince)
	e.activeSince = time.Time{}
	e.segmentActiveSince = time.Time{}
	e.state = StatePaused
	e.meter.SetActive(false)
	return nil
}

// Resume restarts the duration counter; legal only from Paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return ErrIllegalTransition
	}
	now := e.clock.Now()
	e.activeSince = now
	e.segmentActiveSince = now
	e.state = StateRecording
	e.meter.SetActive(true)
	return nil
}

// Stop finalizes the current segment, writes the session record, and
// clears the recovery checkpoint. Bounded by stopTimeout; on timeout
// it force-cleans-up, clears the checkpoint, and returns ErrStopTimeout
// with best-effort synthetic metadata.
func (e *Engine) Stop(ctx context.Context) (store.SessionMetadata, error) {
	e.mu.Lock()
	if e.state != StateRecording && e.state != StatePaused {
		e.mu.Unlock()
		return store.SessionMetadata{}, ErrNotRecording
	}
	stopNow := e.clock.Now()
	if e.state == StatePaused {
		// self-resume before finalization
		e.activeSince = stopNow
		e.segmentActiveSince = stopNow
	}
	// Fold the running interval in before leaving Recording:
	// durationLocked/segmentDurationLocked only count it while Recording.
	e.accumulatedActive += stopNow.Sub(e.activeSince)
	e.segmentAccumulatedActive += stopNow.Sub(e.segmentActiveSince)
	e.activeSince = time.Time{}
	e.segmentActiveSince = time.Time{}
	e.state = StateStopping
	handle := e.deviceHandle
	enc := e.currentEncoder
	segID := e.currentSegmentID
	seq := e.currentSegmentSeq
	sessionID := e.sessionID
	e.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, e.stopTimeout)
	defer cancel()

	type encResult struct {
		err error
	}
	resCh := make(chan encResult, 1)
	go func() {
		_, err := enc.Stop(stopCtx)
		resCh <- encResult{err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			meta := e.forceCleanup()
			return meta, fmt.Errorf("%w: %v", ErrEncoderFailed, r.err)
		}
	case <-stopCtx.Done():
		meta := e.forceCleanup()
		_ = e.store.ClearCheckpoint()
		return meta, ErrStopTimeout
	}

	if handle != nil {
		handle.Stop()
	}

	e.mu.Lock()
	now := e.clock.Now()
	finalBlob := enc.CurrentBlob()
	segments := append([]store.SegmentRef(nil), e.segments...)
	if !segID.IsNil() {
		meta := e.segmentMetadataLocked(now, int64(len(finalBlob)))
		if err := e.store.SaveBlob(sessionID, segID, finalBlob); err != nil {
			e.mu.Unlock()
			cleanMeta := e.forceCleanup()
			return cleanMeta, fmt.Errorf("%w: %v", ErrBlobWriteFailed, err)
		}
		segments = append(segments, store.SegmentRef{
			ID:            segID,
			Path:          store.SegmentPath(segID),
			Metadata:      meta,
			SequenceIndex: seq,
		})
		e.finalizedBytes += int64(len(finalBlob))
		e.currentSegmentBytes = 0
	}
	finalMeta := e.snapshotMetadataLocked(now)
	sess := store.Session{
		ID:        sessionID,
		CreatedAt: e.startTime,
		Metadata:  finalMeta,
		Segments:  segments,
	}
	e.mu.Unlock()

	if err := retryPutSession(e.store, sess); err != nil {
		// Blob is durable; session write failed after retries. Preserve
		// the checkpoint for manual recovery rather than silently losing
		// the recording.
		e.resetToIdle()
		return finalMeta, fmt.Errorf("%w: %v", ErrSessionStoreFailed, err)
	}

	_ = e.store.ClearCheckpoint()
	e.resetToIdle()
	return finalMeta, nil
}

// ForceStop is the best-effort variant for stuck states: it always
// returns to Idle and may return synthetic metadata when real metadata
// cannot be recovered.
func (e *Engine) ForceStop() store.SessionMetadata {
	return e.forceCleanup()
}

// Cleanup transitions a Failed engine back to Idle.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateFailed {
		return
	}
	e.resetToIdleLocked()
}

func (e *Engine) forceCleanup() store.SessionMetadata {
	e.mu.Lock()
	handle := e.deviceHandle
	enc := e.currentEncoder
	meta := e.syntheticMetadataLocked(e.clock.Now())
	e.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	if enc != nil {
		// An encoder whose Stop never returns must not block cleanup, so
		// the wait is capped at one second.
		done := make(chan struct{})
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			enc.Stop(ctx)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	e.resetToIdle()
	return meta
}

func (e *Engine) resetToIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetToIdleLocked()
}

func (e *Engine) resetToIdleLocked() {
	if e.checkpointStop != nil {
		close(e.checkpointStop)
		e.checkpointStop = nil
	}
	e.state = StateIdle
	e.deviceHandle = nil
	e.currentEncoder = nil
	e.sessionID = ids.Nil
	e.sessionName = ""
	e.currentSegmentID = ids.Nil
	e.segments = nil
	e.meter.SetActive(false)
}

// pump reads device frames until the handle closes, forwarding each to
// handleFrame and acknowledging it (device.Frame.Done) only once fully
// processed.
func (e *Engine) pump(h device.Handle) {
	for frame := range h.Frames() {
		e.handleFrame(frame)
		if frame.Done != nil {
			frame.Done()
		}
	}
	if err := h.Err(); err != nil {
		e.onDeviceLost(err)
	}
}

// handleFrame mutates engine state under lock, then releases it before
// calling Write: wavencoder invokes the chunk callback synchronously
// from inside Write, and compressedencoder invokes it from its own
// ffmpeg-reader goroutine, so onChunk must always be free to take the
// lock itself rather than assume the caller already holds it.
func (e *Engine) handleFrame(frame device.Frame) {
	e.mu.Lock()

	if e.state != StateRecording {
		e.mu.Unlock()
		return // Paused: device still streams, engine drops frames
	}

	if e.currentSegmentID.IsNil() {
		e.currentSegmentID = ids.New()
		e.currentSegmentSeq++
	}

	level := levelmeter.ComputeLevel(frame.PCM)
	e.meter.Sample(level)
	cb := e.levelCallback
	enc := e.currentEncoder
	e.mu.Unlock()

	if cb != nil {
		cb(level)
	}

	if err := enc.Write(frame.PCM); err != nil {
		e.mu.Lock()
		e.failLocked(fmt.Errorf("%w: %v", ErrEncoderFailed, err))
		e.mu.Unlock()
	}
}

// newChunkCallback binds the callback to the specific encoder instance
// it was created for, so a trailing chunk delivered after that encoder
// has been rotated out by a split (compressedencoder's ffmpeg-reader
// goroutine keeps draining until the subprocess exits) is recognized
// as stale and dropped instead of corrupting the new segment.
func (e *Engine) newChunkCallback(enc encoder.Encoder) func([]byte) {
	return func(chunk []byte) { e.onChunk(enc) }
}

func (e *Engine) onChunk(enc encoder.Encoder) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRecording || e.currentEncoder != enc {
		return
	}

	blob := e.currentEncoder.CurrentBlob()
	if err := e.store.SaveBlob(e.sessionID, e.currentSegmentID, blob); err != nil {
		e.failLocked(fmt.Errorf("%w: %v", ErrBlobWriteFailed, err))
		return
	}
	e.currentSegmentBytes = int64(len(blob))
	e.chunksSinceSplit++

	now := e.clock.Now()
	timeTrigger := e.options.SplitIntervalMinutes > 0 &&
		now.Sub(e.lastSplitWallTime) >= time.Duration(e.options.SplitIntervalMinutes)*time.Minute
	sizeTrigger := e.options.SplitSizeMB > 0 &&
		e.currentSegmentBytes >= int64(e.options.SplitSizeMB)*1_048_576
	memoryGuard := e.chunksSinceSplit >= maxInFlightChunks

	if timeTrigger || sizeTrigger || memoryGuard {
		e.splitLocked(now)
	}
}

func (e *Engine) splitLocked(now time.Time) {
	if e.currentSegmentID.IsNil() {
		return // nothing recorded yet in this segment
	}

	e.state = StateSplitting
	defer func() {
		if e.state == StateSplitting {
			e.state = StateRecording
		}
	}()

	newEncoder, err := e.newEncoder(encoderOptions(e.options))
	if err != nil {
		e.failLocked(fmt.Errorf("%w: %v", ErrEncoderFailed, err))
		return
	}
	newEncoder.SetChunkCallback(e.newChunkCallback(newEncoder))

	oldEncoder := e.currentEncoder
	oldSegID := e.currentSegmentID
	oldSeq := e.currentSegmentSeq
	oldSegStartTime := e.currentSegmentStartTime
	oldSegDuration := e.segmentDurationLocked(now)

	// Swap to the new encoder before stopping the old one, so a frame
	// arriving mid-split lands on the new encoder with no gap.
	e.currentEncoder = newEncoder
	e.currentSegmentID = ids.Nil
	e.currentSegmentStartTime = now
	e.segmentAccumulatedActive = 0
	e.segmentActiveSince = now
	e.chunksSinceSplit = 0
	e.lastSplitWallTime = now

	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
	_, err = oldEncoder.Stop(ctx)
	cancel()
	if err != nil {
		e.failLocked(fmt.Errorf("%w: %v", ErrEncoderFailed, err))
		return
	}
	finalBlob := oldEncoder.CurrentBlob()

	meta := store.SessionMetadata{
		SessionName:     e.sessionName,
		StartTime:       oldSegStartTime,
		DurationSeconds: oldSegDuration.Seconds(),
		FileSizeBytes:   int64(len(finalBlob)),
		Format:          e.options.Format,
		QualityKbps:     e.options.QualityKbps,
	}
	if err := e.store.SaveBlob(e.sessionID, oldSegID, finalBlob); err != nil {
		e.failLocked(fmt.Errorf("%w: %v", ErrBlobWriteFailed, err))
		return
	}
	e.segments = append(e.segments, store.SegmentRef{
		ID:            oldSegID,
		Path:          store.SegmentPath(oldSegID),
		Metadata:      meta,
		SequenceIndex: oldSeq,
	})
	e.finalizedBytes += int64(len(finalBlob))
	e.currentSegmentBytes = 0
}

func (e *Engine) failLocked(cause error) {
	// Capture durations while state still reads Recording/Paused: once
	// flipped to Failed, durationLocked/segmentDurationLocked would stop
	// accruing elapsed active time and under-report the failure point.
	now := e.clock.Now()
	sessionMeta := e.snapshotMetadataLocked(now)

	if !e.currentSegmentID.IsNil() && e.currentEncoder != nil {
		segMeta := e.segmentMetadataLocked(now, e.currentSegmentBytes)
		blob := e.currentEncoder.CurrentBlob()
		segMeta.FileSizeBytes = int64(len(blob))
		if err := e.store.SaveBlob(e.sessionID, e.currentSegmentID, blob); err == nil {
			e.segments = append(e.segments, store.SegmentRef{
				ID:            e.currentSegmentID,
				Path:          store.SegmentPath(e.currentSegmentID),
				Metadata:      segMeta,
				SequenceIndex: e.currentSegmentSeq,
			})
		}
	}

	e.state = StateFailed
	e.lastFailure = cause

	if !e.sessionID.IsNil() {
		sess := store.Session{
			ID:        e.sessionID,
			CreatedAt: e.startTime,
			Metadata:  sessionMeta,
			Segments:  e.segments,
		}
		_ = e.store.PutSession(sess) // best-effort; cause already carries the real failure
	}
}

func (e *Engine) onDeviceLost(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle || e.state == StateFailed {
		return
	}
	e.failLocked(fmt.Errorf("%w: %v", device.ErrDeviceLost, err))
}

func (e *Engine) durationLocked(now time.Time) time.Duration {
	d := e.accumulatedActive
	if e.state == StateRecording && !e.activeSince.IsZero() {
		d += now.Sub(e.activeSince)
	}
	return d
}

// segmentDurationLocked mirrors durationLocked but scoped to the
// current segment, reset at every split.
func (e *Engine) segmentDurationLocked(now time.Time) time.Duration {
	d := e.segmentAccumulatedActive
	if e.state == StateRecording && !e.segmentActiveSince.IsZero() {
		d += now.Sub(e.segmentActiveSince)
	}
	return d
}

func (e *Engine) totalBytesLocked() int64 {
	return e.finalizedBytes + e.currentSegmentBytes
}

// snapshotMetadataLocked builds session-scoped metadata (cumulative
// duration and bytes across every segment so far).
func (e *Engine) snapshotMetadataLocked(now time.Time) store.SessionMetadata {
	return store.SessionMetadata{
		SessionName:     e.sessionName,
		StartTime:       e.startTime,
		DurationSeconds: e.durationLocked(now).Seconds(),
		FileSizeBytes:   e.totalBytesLocked(),
		Format:          e.options.Format,
		QualityKbps:     e.options.QualityKbps,
	}
}

// segmentMetadataLocked builds metadata scoped to the current segment
// alone, with an explicit byte count since callers often have a more
// current blob length (e.g. post-Stop tail) than currentSegmentBytes.
func (e *Engine) segmentMetadataLocked(now time.Time, bytes int64) store.SessionMetadata {
	return store.SessionMetadata{
		SessionName:     e.sessionName,
		StartTime:       e.currentSegmentStartTime,
		DurationSeconds: e.segmentDurationLocked(now).Seconds(),
		FileSizeBytes:   bytes,
		Format:          e.options.Format,
		QualityKbps:     e.options.QualityKbps,
	}
}

// syntheticMetadataLocked builds best-effort metadata for when real
// metadata cannot be recovered (EncoderFailed, StopTimeout).
func (e *Engine) syntheticMetadataLocked(now time.Time) store.SessionMetadata {
	return store.SessionMetadata{
		SessionName:     e.sessionName,
		StartTime:       e.startTime,
		DurationSeconds: e.durationLocked(now).Seconds(),
		FileSizeBytes:   0,
		Format:          store.FormatUnknown,
		QualityKbps:     0,
	}
}

func (e *Engine) resolveOptions() (RecordingOptions, error) {
	settings, err := e.store.GetSettings()
	if err != nil {
		return RecordingOptions{}, fmt.Errorf("%w: %v", ErrRecoveryStoreFailed, err)
	}
	opts := RecordingOptions{
		Format:        settings.Format,
		QualityKbps:   settings.QualityKbps,
		InputDeviceID: settings.InputDeviceID,
	}
	if settings.AutoSplitEnabled {
		opts.SplitIntervalMinutes = settings.SplitIntervalMinutes
		opts.SplitSizeMB = settings.SplitSizeMB
	}
	return opts, nil
}

func encoderOptions(opts RecordingOptions) encoder.Options {
	return encoder.Options{
		Format:      encoder.Format(opts.Format),
		SampleRate:  sampleRate,
		Channels:    channels,
		QualityKbps: opts.QualityKbps,
	}
}

// mapDeviceErr passes device-layer errors through unchanged; callers
// use errors.Is against the device package's sentinels.
func mapDeviceErr(err error) error {
	return err
}

// checkpointLoop writes the live checkpoint on checkpointEvery cadence
// while Recording or Paused. It runs on a real time.Ticker, not the
// injected clock, so tests drive checkpoints deterministically via
// SignalImminentCrash instead of waiting on it.
func (e *Engine) checkpointLoop(stop <-chan struct{}) {
	e.mu.Lock()
	every := e.checkpointEvery
	e.mu.Unlock()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = e.writeCheckpoint()
		case <-stop:
			return
		}
	}
}

// SignalImminentCrash performs one synchronous checkpoint write before
// returning, for use as a crash-signal callback (e.g. SIGTERM handler).
func (e *Engine) SignalImminentCrash() error {
	return e.writeCheckpoint()
}

func (e *Engine) writeCheckpoint() error {
	cp, ok := e.snapshotCheckpoint()
	if !ok {
		return nil
	}
	if err := e.store.PutCheckpoint(cp); err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryStoreFailed, err)
	}
	return nil
}

func (e *Engine) snapshotCheckpoint() (store.RecoveryCheckpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRecording && e.state != StatePaused {
		return store.RecoveryCheckpoint{}, false
	}
	now := e.clock.Now()
	var segRef *store.SegmentRef
	if !e.currentSegmentID.IsNil() {
		ref := store.SegmentRef{
			ID:            e.currentSegmentID,
			Path:          store.SegmentPath(e.currentSegmentID),
			Metadata:      e.segmentMetadataLocked(now, e.currentSegmentBytes),
			SequenceIndex: e.currentSegmentSeq,
		}
		segRef = &ref
	}
	return store.RecoveryCheckpoint{
		SessionName:       e.sessionName,
		StartTime:         e.startTime,
		DurationSeconds:   e.durationLocked(now).Seconds(),
		IsPaused:          e.state == StatePaused,
		CurrentSegmentRef: segRef,
		Metadata:          e.snapshotMetadataLocked(now),
	}, true
}

// retryPutSession retries a session store write up to 3 times with
// exponential backoff, so a transient failure on finalize doesn't
// immediately drop a durable recording.
func retryPutSession(s *store.Store, sess store.Session) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	return backoff.Retry(func() error { return s.PutSession(sess) }, backoff.WithMaxRetries(bo, 3))
}
