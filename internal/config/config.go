// Package config loads the static trail configuration. The file is read
// once at startup; unknown keys are rejected so a typo never silently
// disables a setting.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const configFile = "trail.toml"

// Defaults for the recorder's tuning knobs. Durations are expressed in
// milliseconds in the config file.
const (
	DefaultDiffThreshold    = 10
	DefaultMaxFileBytes     = 5 * 1024 * 1024
	DefaultWriteStabilityMS = 300
	DefaultSessionIdleMS    = 30 * 60 * 1000
	DefaultLinkWindowMS     = 5 * 60 * 1000
	DefaultMinerPollMS      = 10 * 1000
	DefaultQueueCapacity    = 256
	DefaultWriterCapacity   = 1024
	DefaultStoreFile        = ".trail/activity.db"
)

// Config is the full static configuration. Every recognized key is
// enumerated here; there is no open options bag.
type Config struct {
	WorkspaceRoots       []string `toml:"workspace_roots"`
	Ignore               []string `toml:"ignore"`
	AutoDetectWorkspaces bool     `toml:"auto_detect_workspaces"`
	DiffThreshold        int      `toml:"diff_threshold"`
	MaxFileBytes         int64    `toml:"max_file_bytes"`
	WriteStabilityMS     int      `toml:"write_stability_ms"`
	SessionIdleMS        int      `toml:"session_idle_ms"`
	LinkWindowMS         int      `toml:"link_window_ms"`
	MinerDatabases       []string `toml:"miner_databases"`
	MinerPollMS          int      `toml:"miner_poll_ms"`
	StorePath            string   `toml:"store_path"`
	QueueCapacity        int      `toml:"broadcast_queue_capacity"`
	RetentionMS          int64    `toml:"retention_ms"`
	HTTPAddr             string   `toml:"http_addr"`
}

// Default returns a config populated with default values, rooted at baseDir.
func Default(baseDir string) *Config {
	return &Config{
		WorkspaceRoots: []string{baseDir},
		// The recorder must never watch its own database.
		Ignore:           []string{".trail/**", ".git/**", "node_modules/**", "*.swp", "*~"},
		DiffThreshold:    DefaultDiffThreshold,
		MaxFileBytes:     DefaultMaxFileBytes,
		WriteStabilityMS: DefaultWriteStabilityMS,
		SessionIdleMS:    DefaultSessionIdleMS,
		LinkWindowMS:     DefaultLinkWindowMS,
		MinerPollMS:      DefaultMinerPollMS,
		StorePath:        filepath.Join(baseDir, DefaultStoreFile),
		QueueCapacity:    DefaultQueueCapacity,
	}
}

// Load reads trail.toml from baseDir, applying defaults for absent keys.
// A missing file yields the defaults. Unknown keys are an error.
func Load(baseDir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(baseDir), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, baseDir)
}

// Parse decodes TOML config bytes, rejecting unrecognized keys.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default(baseDir)
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.WorkspaceRoots) == 0 {
		return fmt.Errorf("config: workspace_roots must not be empty")
	}
	for _, root := range c.WorkspaceRoots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("config: workspace root %q is not absolute", root)
		}
	}
	if c.DiffThreshold < 1 {
		return fmt.Errorf("config: diff_threshold must be >= 1")
	}
	if c.MaxFileBytes < 1 {
		return fmt.Errorf("config: max_file_bytes must be >= 1")
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("config: broadcast_queue_capacity must be >= 1")
	}
	if c.RetentionMS < 0 {
		return fmt.Errorf("config: retention_ms must be >= 0")
	}
	return nil
}

// Durations derived from the millisecond config keys.

func (c *Config) WriteStability() time.Duration {
	return time.Duration(c.WriteStabilityMS) * time.Millisecond
}

func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMS) * time.Millisecond
}

func (c *Config) LinkWindow() time.Duration {
	return time.Duration(c.LinkWindowMS) * time.Millisecond
}

func (c *Config) MinerPoll() time.Duration {
	return time.Duration(c.MinerPollMS) * time.Millisecond
}

// Retention returns the default row retention, or zero when rows are kept
// indefinitely.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMS) * time.Millisecond
}

// Save writes the config to baseDir/trail.toml.
func Save(baseDir string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(baseDir, configFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
