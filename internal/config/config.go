// Package config provides unified configuration for the mnemo tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by the compaction tool and any
// embedding process.
type Config struct {
	// DataDir is the base directory for all mnemo data.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LogDir is the event log directory holding the daily JSONL files.
	LogDir string `json:"log_dir" yaml:"log_dir"`

	// ArchiveRoot is the root of the archive tree.
	ArchiveRoot string `json:"archive_root" yaml:"archive_root"`

	// Compaction configuration.
	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`

	// Mirror is the optional remote archive mirror.
	Mirror MirrorConfig `json:"mirror" yaml:"mirror"`
}

// CompactionConfig holds compaction tuning parameters.
type CompactionConfig struct {
	// RetentionDays is the retention window in days.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// MaxPeriodsPerRun caps periods handled per run.
	MaxPeriodsPerRun int `json:"max_periods_per_run" yaml:"max_periods_per_run"`

	// CheckInterval is the interval between runs in daemon mode.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
}

// MirrorConfig holds remote mirror configuration. The mirror is disabled
// unless Bucket is set.
type MirrorConfig struct {
	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint, for S3-compatible storage.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing, needed by MinIO.
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration rooted at ~/.mnemo.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Compaction: CompactionConfig{
			RetentionDays:    90,
			MaxPeriodsPerRun: 3,
			CheckInterval:    24 * time.Hour,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.mnemo"
	}
	return filepath.Join(home, ".mnemo")
}

// Resolve fills derived paths from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "events")
	}
	if c.ArchiveRoot == "" {
		c.ArchiveRoot = filepath.Join(c.DataDir, "archive")
	}
}

// StatePath returns the path of the state document.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// MirrorEnabled reports whether a remote mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.Mirror.Bucket != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Compaction.RetentionDays < 0 {
		return fmt.Errorf("compaction.retention_days must not be negative, got %d", c.Compaction.RetentionDays)
	}
	if c.Compaction.MaxPeriodsPerRun < 1 {
		return fmt.Errorf("compaction.max_periods_per_run must be at least 1, got %d", c.Compaction.MaxPeriodsPerRun)
	}
	if c.Compaction.CheckInterval < time.Minute {
		return fmt.Errorf("compaction.check_interval must be at least 1m, got %s", c.Compaction.CheckInterval)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, layered on the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays configuration from environment variables with the
// MNEMO_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MNEMO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MNEMO_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("MNEMO_ARCHIVE_ROOT"); v != "" {
		cfg.ArchiveRoot = v
	}
	if v := os.Getenv("MNEMO_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.RetentionDays = n
		}
	}
	if v := os.Getenv("MNEMO_MAX_PERIODS_PER_RUN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.MaxPeriodsPerRun = n
		}
	}
	if v := os.Getenv("MNEMO_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compaction.CheckInterval = d
		}
	}
	if v := os.Getenv("MNEMO_MIRROR_BUCKET"); v != "" {
		cfg.Mirror.Bucket = v
	}
	if v := os.Getenv("MNEMO_MIRROR_PREFIX"); v != "" {
		cfg.Mirror.Prefix = v
	}
	if v := os.Getenv("MNEMO_MIRROR_REGION"); v != "" {
		cfg.Mirror.Region = v
	}
	if v := os.Getenv("MNEMO_MIRROR_ENDPOINT"); v != "" {
		cfg.Mirror.Endpoint = v
	}
	if v := os.Getenv("MNEMO_MIRROR_PATH_STYLE"); v != "" {
		cfg.Mirror.UsePathStyle = v == "true" || v == "1"
	}
}

// Load builds the effective configuration: defaults, then the optional
// file, then environment overrides, then path resolution and validation.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = DefaultConfig()
	}

	LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
