// Package config loads and saves the afldash TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all afldash configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	TUI        TUIConfig        `toml:"tui"`
	Ingest     IngestConfig     `toml:"ingest"`
	Advice     AdviceConfig     `toml:"advice"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	OutDir string `toml:"out_dir,omitempty"`
}

// TUIConfig holds dashboard refresh settings.
type TUIConfig struct {
	AutoRefresh        bool `toml:"auto_refresh"`
	RefreshIntervalSec int  `toml:"refresh_interval_sec"`
}

// IngestConfig controls how the incremental reader treats files that change
// incompatibly between refreshes.
type IngestConfig struct {
	ResetOnSchemaChange bool `toml:"reset_on_schema_change"`
}

// AdviceConfig holds the thresholds behind the tuning hints.
type AdviceConfig struct {
	LowExecSpeed      float64 `toml:"low_exec_speed"`
	EarlyWindowMinSec int64   `toml:"early_window_min_sec"`
	EarlyWindowMaxSec int64   `toml:"early_window_max_sec"`
	NoFindsSec        int64   `toml:"no_finds_sec"`
}

// DaemonConfig holds defaults for the background poller.
type DaemonConfig struct {
	Addr         string `toml:"addr"`
	IntervalSec  int    `toml:"interval_sec"`
	EventsBuffer int    `toml:"events_buffer"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TUI: TUIConfig{
			AutoRefresh:        true,
			RefreshIntervalSec: 60,
		},
		Ingest: IngestConfig{
			ResetOnSchemaChange: true,
		},
		Advice: AdviceConfig{
			LowExecSpeed:      500,
			EarlyWindowMinSec: 600,
			EarlyWindowMaxSec: 800,
			NoFindsSec:        600,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8787",
			IntervalSec:  15,
			EventsBuffer: 200,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "afldash")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "afldash")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// CacheDir returns the platform-appropriate cache directory.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "afldash")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "afldash")
}

// CachePath returns the full path to the snapshot history database.
func CachePath() string {
	return filepath.Join(CacheDir(), "history.db")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path. Keys absent from the file keep their defaults.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path, creating its directory.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// GetOutDir returns the campaign directory from env var or config, in that
// order, falling back to ./out.
func GetOutDir(cfg Config) string {
	if dir := os.Getenv("AFLDASH_OUT_DIR"); dir != "" {
		return dir
	}
	if cfg.General.OutDir != "" {
		return cfg.General.OutDir
	}
	return "out"
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
