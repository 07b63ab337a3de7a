package engine_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/taverntapes/taverntapes/internal/clock"
	"github.com/taverntapes/taverntapes/internal/device"
	"github.com/taverntapes/taverntapes/internal/device/fake"
	"github.com/taverntapes/taverntapes/internal/encoder"
	"github.com/taverntapes/taverntapes/internal/encoder/wavencoder"
	"github.com/taverntapes/taverntapes/internal/engine"
	"github.com/taverntapes/taverntapes/internal/store"
)

func wavOnlyFactory(opts encoder.Options) (encoder.Encoder, error) {
	return wavencoder.New(opts.SampleRate, opts.Channels), nil
}

func newTestEngine(t *testing.T) (*engine.Engine, *fake.Port, *clock.Fake, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fakeClock := clock.NewFake(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	port := fake.New()
	port.Clock = fakeClock

	eng := engine.New(st, port, fakeClock, wavOnlyFactory).WithStopTimeout(200 * time.Millisecond)
	return eng, port, fakeClock, st
}

// feedSeconds advances the clock and feeds PCM in 1s steps, so each
// step lands exactly on a wavencoder chunk boundary and the engine's
// split-trigger checks run against a clock that already reflects the
// elapsed wall time.
func feedSeconds(port *fake.Port, clk *clock.Fake, seconds int) {
	for i := 0; i < seconds; i++ {
		clk.Advance(time.Second)
		port.Feed(time.Second, 3000)
	}
}

func mustStart(t *testing.T, eng *engine.Engine, name string) store.SessionMetadata {
	t.Helper()
	meta, err := eng.Start(context.Background(), name)
	if err != nil {
		t.Fatalf("Start(%q): %v", name, err)
	}
	return meta
}

func TestS1CleanShortRecording(t *testing.T) {
	eng, port, clk, st := newTestEngine(t)
	mustStart(t, eng, "Goblin Ambush")

	feedSeconds(port, clk, 3)

	meta, err := eng.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d := meta.DurationSeconds; d < 2 || d > 4 {
		t.Fatalf("duration = %v, want 3 ± 1", d)
	}

	sessions, err := st.GetAllSessions()
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}
	if len(sessions[0].Segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(sessions[0].Segments))
	}

	if _, ok, _ := eng.PendingRecovery(); ok {
		t.Fatal("checkpoint present after clean stop, want absent")
	}
}

func TestS2PauseResume(t *testing.T) {
	eng, port, clk, _ := newTestEngine(t)
	mustStart(t, eng, "")

	feedSeconds(port, clk, 2)
	if err := eng.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	clk.Advance(5 * time.Second)
	if err := eng.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	feedSeconds(port, clk, 2)

	meta, err := eng.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d := meta.DurationSeconds; d < 3 || d > 5 {
		t.Fatalf("duration = %v, want 4 ± 1", d)
	}

	namePattern := regexp.MustCompile(`^Session_\d{4}-\d{2}-\d{2}_\d{4}$`)
	if !namePattern.MatchString(meta.SessionName) {
		t.Fatalf("session name %q does not match synthesized pattern", meta.SessionName)
	}
}

func TestS3TimeSplit(t *testing.T) {
	eng, port, clk, st := newTestEngine(t)
	if err := st.UpdateSettings(map[string]string{
		"split_interval_minutes": "1",
		"split_size_mb":          "0",
	}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	mustStart(t, eng, "Long Watch")
	feedSeconds(port, clk, 125)

	meta, err := eng.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = meta

	sessions, err := st.GetAllSessions()
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	segs := sessions[0].Segments
	if len(segs) < 3 {
		t.Fatalf("len(segments) = %d, want >= 3", len(segs))
	}
	for i, seg := range segs {
		if i == len(segs)-1 {
			continue // last segment is exempt
		}
		if seg.Metadata.DurationSeconds > 61 {
			t.Fatalf("segment %d duration = %v, want <= 61s", i, seg.Metadata.DurationSeconds)
		}
	}
}

func TestS4SizeSplit(t *testing.T) {
	eng, port, clk, st := newTestEngine(t)
	if err := st.UpdateSettings(map[string]string{
		"split_size_mb":          "1",
		"split_interval_minutes": "0",
	}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	mustStart(t, eng, "Dungeon Delve")
	feedSeconds(port, clk, 15) // ~2.52MB of WAV PCM at 44.1kHz/16-bit stereo

	if _, err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sessions, err := st.GetAllSessions()
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	segs := sessions[0].Segments
	if len(segs) < 3 {
		t.Fatalf("len(segments) = %d, want >= 3", len(segs))
	}
	const oneChunk = 44100 * 2 * 2
	const ceiling = 1*1_048_576 + oneChunk
	for i, seg := range segs {
		if i == len(segs)-1 {
			continue
		}
		if seg.Metadata.FileSizeBytes > ceiling {
			t.Fatalf("segment %d bytes = %d, want <= %d", i, seg.Metadata.FileSizeBytes, ceiling)
		}
	}
}

func TestS5CrashRecover(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fakeClock := clock.NewFake(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	port1 := fake.New()
	port1.Clock = fakeClock

	eng1 := engine.New(st, port1, fakeClock, wavOnlyFactory)
	mustStart(t, eng1, "Campaign 5")
	feedSeconds(port1, fakeClock, 30)

	if err := eng1.SignalImminentCrash(); err != nil {
		t.Fatalf("SignalImminentCrash: %v", err)
	}

	// Simulate a process restart: a fresh Engine over the same store,
	// with no knowledge of eng1's in-memory state.
	port2 := fake.New()
	port2.Clock = fakeClock
	eng2 := engine.New(st, port2, fakeClock, wavOnlyFactory)

	cp, ok, err := eng2.PendingRecovery()
	if err != nil {
		t.Fatalf("PendingRecovery: %v", err)
	}
	if !ok {
		t.Fatal("PendingRecovery: want a checkpoint present")
	}
	if cp.DurationSeconds < 25 {
		t.Fatalf("checkpoint duration = %v, want >= 25s", cp.DurationSeconds)
	}

	if _, err := eng2.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	feedSeconds(port2, fakeClock, 1)

	meta, err := eng2.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if meta.SessionName != "Campaign 5" {
		t.Fatalf("session name = %q, want %q", meta.SessionName, "Campaign 5")
	}

	sessions, err := st.GetAllSessions()
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	var recovered *store.Session
	for i := range sessions {
		if sessions[i].Metadata.SessionName == "Campaign 5" {
			recovered = &sessions[i]
		}
	}
	if recovered == nil {
		t.Fatal("no recovered session found")
	}
	if len(recovered.Segments) < 2 {
		t.Fatalf("len(segments) = %d, want >= 2 (recovered + new)", len(recovered.Segments))
	}
	last := recovered.Segments[len(recovered.Segments)-1]
	first := recovered.Segments[0]
	if last.SequenceIndex <= first.SequenceIndex {
		t.Fatalf("new segment seq %d not greater than recovered segment seq %d", last.SequenceIndex, first.SequenceIndex)
	}
}

// stuckEncoder never acknowledges Stop, modeling scenario S6.
type stuckEncoder struct {
	blocked chan struct{}
}

func newStuckEncoder() *stuckEncoder { return &stuckEncoder{blocked: make(chan struct{})} }

func (s *stuckEncoder) Write(pcm []byte) error           { return nil }
func (s *stuckEncoder) SetChunkCallback(fn func([]byte)) {}
func (s *stuckEncoder) CurrentBlob() []byte              { return nil }
func (s *stuckEncoder) Extension() string                { return "stuck" }
func (s *stuckEncoder) Stop(ctx context.Context) ([]byte, error) {
	<-s.blocked // never unblocks on its own; only the test's process exit reclaims it
	return nil, nil
}

func TestS6ForcedStopOnStuckEncoder(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fakeClock := clock.NewFake(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	port := fake.New()
	port.Clock = fakeClock

	factory := func(opts encoder.Options) (encoder.Encoder, error) {
		return newStuckEncoder(), nil
	}
	eng := engine.New(st, port, fakeClock, factory).WithStopTimeout(50 * time.Millisecond)
	mustStart(t, eng, "Stuck Session")
	feedSeconds(port, fakeClock, 1)

	_, err = eng.Stop(context.Background())
	if !errors.Is(err, engine.ErrStopTimeout) {
		t.Fatalf("Stop err = %v, want ErrStopTimeout", err)
	}

	status := eng.GetStatus()
	if status.State != engine.StateIdle {
		t.Fatalf("state after forced stop = %v, want Idle", status.State)
	}

	if _, ok, _ := eng.PendingRecovery(); ok {
		t.Fatal("checkpoint present after forced stop, want cleared")
	}
}

func TestDeviceLostMidStream(t *testing.T) {
	eng, port, clk, _ := newTestEngine(t)
	mustStart(t, eng, "Dropped Session")
	feedSeconds(port, clk, 1)

	port.Drop()

	// Give the pump goroutine a moment to observe the closed channel and
	// call onDeviceLost; GetStatus polls rather than sleeping blindly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.GetStatus().State == engine.StateFailed {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if st := eng.GetStatus().State; st != engine.StateFailed {
		t.Fatalf("state after device drop = %v, want Failed", st)
	}

	eng.Cleanup()
	if st := eng.GetStatus().State; st != engine.StateIdle {
		t.Fatalf("state after Cleanup = %v, want Idle", st)
	}
}

func TestValidateSessionName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Goblin Ambush", true},
		{"campaign_5-final.v2", true},
		{"", false},
		{"has/slash", false},
		{"emoji🎲", false},
	}
	for _, c := range cases {
		if got := engine.ValidateSessionName(c.name); got != c.want {
			t.Errorf("ValidateSessionName(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestStartRejectsInvalidName(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	_, err := eng.Start(context.Background(), "bad/name")
	if !errors.Is(err, engine.ErrSessionNameInvalid) {
		t.Fatalf("err = %v, want ErrSessionNameInvalid", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	eng, port, clk, _ := newTestEngine(t)
	mustStart(t, eng, "First")
	feedSeconds(port, clk, 1)

	_, err := eng.Start(context.Background(), "Second")
	if !errors.Is(err, engine.ErrAlreadyRecording) {
		t.Fatalf("err = %v, want ErrAlreadyRecording", err)
	}
	eng.Stop(context.Background())
}

func TestPauseWhenIdleFails(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	if err := eng.Pause(); !errors.Is(err, engine.ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
}

func TestResumeWhenRecordingFails(t *testing.T) {
	eng, port, clk, _ := newTestEngine(t)
	mustStart(t, eng, "Active")
	feedSeconds(port, clk, 1)

	if err := eng.Resume(); !errors.Is(err, engine.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	eng.Stop(context.Background())
}

func TestLevelCallbackFiresWhileRecording(t *testing.T) {
	eng, port, clk, _ := newTestEngine(t)
	var calls int
	eng.SetLevelCallback(func(level float64) { calls++ })

	mustStart(t, eng, "Levels")
	feedSeconds(port, clk, 3)
	eng.Stop(context.Background())

	if calls == 0 {
		t.Fatal("level callback never fired")
	}
}

var _ device.Port = (*fake.Port)(nil)
