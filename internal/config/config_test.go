package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taverntapes.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.CheckpointIntervalSeconds != 5 {
		t.Errorf("expected default checkpoint interval 5, got %d", cfg.Engine.CheckpointIntervalSeconds)
	}
	if cfg.Engine.StopTimeoutSeconds != 10 {
		t.Errorf("expected default stop timeout 10, got %d", cfg.Engine.StopTimeoutSeconds)
	}
	if cfg.Server.Addr != "127.0.0.1:8420" {
		t.Errorf("expected default addr, got %s", cfg.Server.Addr)
	}
	if cfg.Store.Path == "" {
		t.Error("expected a non-empty default store path")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeTempConfig(t, `
store:
  path: /tmp/custom-taverntapes.db
device:
  input_device_id: "scarlett:capture_1"
engine:
  checkpoint_interval_seconds: 2
  stop_timeout_seconds: 30
server:
  addr: "0.0.0.0:9000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/tmp/custom-taverntapes.db" {
		t.Errorf("store.path not overridden, got %s", cfg.Store.Path)
	}
	if cfg.Device.InputDeviceID != "scarlett:capture_1" {
		t.Errorf("device.input_device_id not overridden, got %s", cfg.Device.InputDeviceID)
	}
	if cfg.Engine.CheckpointIntervalSeconds != 2 {
		t.Errorf("engine.checkpoint_interval_seconds not overridden, got %d", cfg.Engine.CheckpointIntervalSeconds)
	}
	if cfg.Engine.StopTimeoutSeconds != 30 {
		t.Errorf("engine.stop_timeout_seconds not overridden, got %d", cfg.Engine.StopTimeoutSeconds)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("server.addr not overridden, got %s", cfg.Server.Addr)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  stop_timeout_seconds: 45
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.StopTimeoutSeconds != 45 {
		t.Errorf("expected overridden stop timeout 45, got %d", cfg.Engine.StopTimeoutSeconds)
	}
	if cfg.Engine.CheckpointIntervalSeconds != 5 {
		t.Errorf("expected default checkpoint interval to survive, got %d", cfg.Engine.CheckpointIntervalSeconds)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8420" {
		t.Errorf("expected defaults when file is absent, got %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  checkpoint_interval_seconds: 0
`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a zero checkpoint interval")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got := expandPath("~/Audio/TavernTapes")
	want := filepath.Join(home, "Audio", "TavernTapes")
	if got != want {
		t.Errorf("expandPath(~/Audio/TavernTapes) = %s, want %s", got, want)
	}
	if expandPath("/abs/path") != "/abs/path" {
		t.Errorf("expandPath should leave absolute paths untouched")
	}
}

func TestEngineConfigDurations(t *testing.T) {
	e := EngineConfig{CheckpointIntervalSeconds: 5, StopTimeoutSeconds: 10}
	if e.CheckpointInterval().Seconds() != 5 {
		t.Errorf("CheckpointInterval() = %v, want 5s", e.CheckpointInterval())
	}
	if e.StopTimeout().Seconds() != 10 {
		t.Errorf("StopTimeout() = %v, want 10s", e.StopTimeout())
	}
}
