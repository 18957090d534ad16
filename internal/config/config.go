// Package config handles loading and validating taskpilot configuration.
// Configuration comes from a YAML file with environment variable overrides
// (TASKPILOT_* prefix) via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all taskpilot configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// EngineConfig holds automation thresholds and retry defaults.
type EngineConfig struct {
	SuccessThreshold   float64 `mapstructure:"success_threshold"`
	AutoApplyThreshold float64 `mapstructure:"auto_apply_threshold"`
	FailurePenalty     float64 `mapstructure:"failure_penalty"`
	DefaultMaxRetries  int     `mapstructure:"default_max_retries"`
	DefaultPriority    int     `mapstructure:"default_priority"`
}

// SweepConfig controls the stuck-task sweeper run by the daemon.
type SweepConfig struct {
	// Cron is a standard 5-field cron expression for sweep runs.
	Cron string `mapstructure:"cron"`
	// ProcessingTTL is how long a task may sit in ai_processing before the
	// sweeper treats the attempt as dead.
	ProcessingTTL time.Duration `mapstructure:"processing_ttl"`
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskpilot", "taskpilot.yaml")
}

// Load reads configuration from the default path, falling back to defaults
// when no config file exists.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from an explicit file path. An empty path
// uses the default location. A missing file is not an error; defaults apply.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Viper returns a configured viper instance bound to the given config file,
// for callers that need change notification (daemon config watch).
func Viper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	return v
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "taskpilot")

	v.SetDefault("database.path", filepath.Join(dataDir, "taskpilot.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", filepath.Join(dataDir, "logs"))
	v.SetDefault("log.format", "json")
	v.SetDefault("log.retention_days", 14)
	v.SetDefault("engine.success_threshold", 0.7)
	v.SetDefault("engine.auto_apply_threshold", 0.8)
	v.SetDefault("engine.failure_penalty", 0.1)
	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.default_priority", 3)
	v.SetDefault("sweep.cron", "*/10 * * * *")
	v.SetDefault("sweep.processing_ttl", 15*time.Minute)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Engine.SuccessThreshold < 0 || c.Engine.SuccessThreshold > 1 {
		return fmt.Errorf("engine.success_threshold must be in [0,1], got %v", c.Engine.SuccessThreshold)
	}
	if c.Engine.AutoApplyThreshold < 0 || c.Engine.AutoApplyThreshold > 1 {
		return fmt.Errorf("engine.auto_apply_threshold must be in [0,1], got %v", c.Engine.AutoApplyThreshold)
	}
	if c.Engine.FailurePenalty < 0 || c.Engine.FailurePenalty > 1 {
		return fmt.Errorf("engine.failure_penalty must be in [0,1], got %v", c.Engine.FailurePenalty)
	}
	if c.Engine.DefaultMaxRetries < 1 {
		return fmt.Errorf("engine.default_max_retries must be >= 1, got %d", c.Engine.DefaultMaxRetries)
	}
	if c.Engine.DefaultPriority < 1 || c.Engine.DefaultPriority > 5 {
		return fmt.Errorf("engine.default_priority must be in 1..5, got %d", c.Engine.DefaultPriority)
	}
	if c.Sweep.ProcessingTTL <= 0 {
		return fmt.Errorf("sweep.processing_ttl must be positive, got %v", c.Sweep.ProcessingTTL)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Log.Path = expandPath(c.Log.Path)
}

// WriteStarter writes a commented starter config to the given path, erroring
// if a file already exists there.
func WriteStarter(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(path, []byte(starterYAML), 0644)
}

const starterYAML = `# taskpilot configuration
database:
  path: ~/.local/share/taskpilot/taskpilot.db

log:
  level: info
  format: json
  retention_days: 14

engine:
  # Minimum effective confidence for an automated attempt to count as success.
  success_threshold: 0.7
  # Minimum learning confidence for the engine to pre-apply it to an attempt.
  auto_apply_threshold: 0.8
  # Confidence deducted from a learning when an attempt it backed fails.
  failure_penalty: 0.1
  default_max_retries: 3
  default_priority: 3

sweep:
  # How often the daemon scans for tasks stuck in ai_processing.
  cron: "*/10 * * * *"
  # How long an attempt may run before it is considered dead.
  processing_ttl: 15m
`

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
