// Package config loads daemon and CLI configuration from a YAML file in
// the data directory, with environment overrides under the MARKSYNC
// prefix. User preferences that the engine consults at runtime (sync
// enabled, toolbar sync, metadata lookups) live in the store instead, so
// they survive across machines that share a database.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DataDir       string        `mapstructure:"data_dir"`
	BookmarksPath string        `mapstructure:"bookmarks_path"`
	DebounceMs    int           `mapstructure:"debounce_ms"`
	Monitor       MonitorConfig `mapstructure:"monitor"`
	Sync          SyncConfig    `mapstructure:"sync"`
	Log           LogConfig     `mapstructure:"log"`
}

type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SyncConfig names the external sync engine command. The command reads
// the canonical tree as JSON on stdin and writes a JSON array of remote
// changes on stdout.
type SyncConfig struct {
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	TimeoutSec int      `mapstructure:"timeout_sec"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	defaultDataDir := filepath.Join(homeDir, ".marksync")

	viper.SetDefault("data_dir", defaultDataDir)
	viper.SetDefault("bookmarks_path", defaultBookmarksPath(homeDir))
	viper.SetDefault("debounce_ms", 200)
	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.addr", "127.0.0.1:8485")
	viper.SetDefault("sync.timeout_sec", 60)
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 30)

	// Environment variable overrides
	viper.SetEnvPrefix("MARKSYNC")
	viper.AutomaticEnv()
	viper.BindEnv("data_dir", "MARKSYNC_DATA_DIR")
	viper.BindEnv("bookmarks_path", "MARKSYNC_BOOKMARKS_PATH")
	viper.BindEnv("monitor.addr", "MARKSYNC_MONITOR_ADDR")
	viper.BindEnv("sync.command", "MARKSYNC_SYNC_COMMAND")

	// Config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultDataDir)

	// Read config file if exists (ignore error if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.DebounceMs <= 0 {
		return nil, fmt.Errorf("config: debounce_ms must be positive, got %d", cfg.DebounceMs)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaultBookmarksPath guesses a Chromium profile location; the daemon
// refuses to start if the file's directory does not exist, so a wrong
// guess surfaces immediately.
func defaultBookmarksPath(homeDir string) string {
	return filepath.Join(homeDir, ".config", "chromium", "Default", "Bookmarks")
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "marksync.db")
}

// LogPath returns the daemon log file, defaulting into the data
// directory when the config names none.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "daemon.log")
}

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSec) * time.Second
}
