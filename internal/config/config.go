// Package config loads the process configuration for the taverntapes
// binary: where the Session/Blob/Recovery stores live, the default
// input device, and the engine's checkpoint/stop timing. Recording
// options (format, quality, split policy) live in the Settings
// collection inside the store itself, not here — this file only
// carries what has to be known before a store connection exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the taverntapes process configuration, loaded from YAML
// with env var overrides taking precedence.
type Config struct {
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Device DeviceConfig `mapstructure:"device" yaml:"device"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// StoreConfig locates the SQLite database backing the session, blob,
// and recovery collections, which all share one handle.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DeviceConfig carries a capture device id. It is loaded and written by
// WriteExample, but nothing reads it: the engine takes its input device
// from the store's input_device_id setting.
type DeviceConfig struct {
	InputDeviceID string `mapstructure:"input_device_id" yaml:"input_device_id"`
}

// EngineConfig carries engine timing (checkpoint cadence, Stop grace
// period) that a deployment may want to tune away from its defaults.
type EngineConfig struct {
	CheckpointIntervalSeconds int `mapstructure:"checkpoint_interval_seconds" yaml:"checkpoint_interval_seconds"`
	StopTimeoutSeconds        int `mapstructure:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
}

// CheckpointInterval returns the configured cadence as a Duration.
func (e EngineConfig) CheckpointInterval() time.Duration {
	return time.Duration(e.CheckpointIntervalSeconds) * time.Second
}

// StopTimeout returns the configured Stop grace period as a Duration.
func (e EngineConfig) StopTimeout() time.Duration {
	return time.Duration(e.StopTimeoutSeconds) * time.Second
}

// ServerConfig carries the HTTP control surface's listen address.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

var defaultConfig = Config{
	Store: StoreConfig{
		Path: filepath.Join(os.Getenv("HOME"), ".local", "share", "taverntapes", "taverntapes.db"),
	},
	Device: DeviceConfig{
		InputDeviceID: "",
	},
	Engine: EngineConfig{
		CheckpointIntervalSeconds: 5,
		StopTimeoutSeconds:        10,
	},
	Server: ServerConfig{
		Addr: "127.0.0.1:8420",
	},
}

// Load reads configFile (YAML) layered over defaultConfig, with
// TAVERNTAPES_-prefixed env vars taking precedence over both. A
// missing configFile is not an error: taverntapes runs from defaults
// alone out of the box.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAVERNTAPES")
	v.AutomaticEnv()

	v.SetDefault("store.path", defaultConfig.Store.Path)
	v.SetDefault("device.input_device_id", defaultConfig.Device.InputDeviceID)
	v.SetDefault("engine.checkpoint_interval_seconds", defaultConfig.Engine.CheckpointIntervalSeconds)
	v.SetDefault("engine.stop_timeout_seconds", defaultConfig.Engine.StopTimeoutSeconds)
	v.SetDefault("server.addr", defaultConfig.Server.Addr)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Store.Path = expandPath(cfg.Store.Path)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if cfg.Engine.CheckpointIntervalSeconds <= 0 {
		return fmt.Errorf("engine.checkpoint_interval_seconds must be > 0, got %d", cfg.Engine.CheckpointIntervalSeconds)
	}
	if cfg.Engine.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.stop_timeout_seconds must be > 0, got %d", cfg.Engine.StopTimeoutSeconds)
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// WriteExample writes defaultConfig to path as YAML, the seed a new
// deployment edits rather than hand-writing one from scratch. Config
// isn't bound to a live viper instance after Load returns, so this
// marshals directly rather than round-tripping through one.
func WriteExample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	b, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("marshaling example config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// EnsureStoreDir creates the directory holding the store's database
// file if it does not already exist.
func EnsureStoreDir(cfg *Config) error {
	dir := filepath.Dir(cfg.Store.Path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory %s: %w", dir, err)
	}
	return nil
}
