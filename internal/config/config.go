// Package config handles configuration loading and management for
// Ensemble. It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Ensemble.
type Config struct {
	Bus         BusConfig         `mapstructure:"bus"`
	Learning    LearningConfig    `mapstructure:"learning"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

// BusConfig holds communication-bus settings.
type BusConfig struct {
	// HistorySize bounds the in-memory message ring.
	HistorySize int `mapstructure:"history_size"`
	// MessageTTL is how long sent messages persist durably.
	MessageTTL time.Duration `mapstructure:"message_ttl"`
	// ActiveWindow is the recency window for counting an agent active.
	ActiveWindow time.Duration `mapstructure:"active_window"`
}

// LearningConfig holds learning-engine settings.
type LearningConfig struct {
	// RecordCap bounds each agent's retained execution records.
	RecordCap int `mapstructure:"record_cap"`
	// CacheTTL is how long a learnings query result stays cached.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// RecordTTL is how long execution records persist durably.
	RecordTTL time.Duration `mapstructure:"record_ttl"`
	// PatternTTL is how long learned patterns persist durably.
	PatternTTL time.Duration `mapstructure:"pattern_ttl"`
	// TopK is how many best-matching records inform a query.
	TopK int `mapstructure:"top_k"`
}

// CoordinatorConfig holds execution-coordinator settings.
type CoordinatorConfig struct {
	// Timeout bounds one request's whole plan execution.
	Timeout time.Duration `mapstructure:"timeout"`
	// CoSchedulable lists agent groups safe to run in one phase.
	// Empty selects the built-in table.
	CoSchedulable [][]string `mapstructure:"co_schedulable"`
}

// ExecutorConfig holds agent-executor settings.
type ExecutorConfig struct {
	// Command is the subprocess invoked per agent task. The task is
	// written to its stdin as JSON; the result is read from stdout.
	Command string `mapstructure:"command"`
	// Args are fixed arguments passed before the agent name.
	Args []string `mapstructure:"args"`
}

// PathsConfig holds filesystem locations for durable state and sinks.
type PathsConfig struct {
	// Database is the sqlite knowledge-store path. Empty selects the
	// XDG data default.
	Database string `mapstructure:"database"`
	// CommLog is the append-only communication log. Empty disables it.
	CommLog string `mapstructure:"comm_log"`
	// StatusDoc is the rewritten status document. Empty disables it.
	StatusDoc string `mapstructure:"status_doc"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ENSEMBLE_EXECUTOR, ENSEMBLE_DB)
// 2. Project config (.ensemble.yaml in current directory or parent)
// 3. User config (~/.config/ensemble/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("ENSEMBLE")

	// Map specific environment variables
	v.BindEnv("executor.command", "ENSEMBLE_EXECUTOR")
	v.BindEnv("paths.database", "ENSEMBLE_DB")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Executor.Command = expandEnv(cfg.Executor.Command)
	cfg.Paths.Database = expandEnv(cfg.Paths.Database)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Executor.Command = expandEnv(cfg.Executor.Command)
	cfg.Paths.Database = expandEnv(cfg.Paths.Database)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("bus.history_size", cfg.Bus.HistorySize)
	v.Set("bus.message_ttl", cfg.Bus.MessageTTL.String())
	v.Set("bus.active_window", cfg.Bus.ActiveWindow.String())
	v.Set("learning.record_cap", cfg.Learning.RecordCap)
	v.Set("learning.cache_ttl", cfg.Learning.CacheTTL.String())
	v.Set("learning.record_ttl", cfg.Learning.RecordTTL.String())
	v.Set("learning.pattern_ttl", cfg.Learning.PatternTTL.String())
	v.Set("learning.top_k", cfg.Learning.TopK)
	v.Set("coordinator.timeout", cfg.Coordinator.Timeout.String())
	v.Set("executor.command", cfg.Executor.Command)
	v.Set("executor.args", cfg.Executor.Args)
	v.Set("paths.database", cfg.Paths.Database)
	v.Set("paths.comm_log", cfg.Paths.CommLog)
	v.Set("paths.status_doc", cfg.Paths.StatusDoc)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Bus defaults
	v.SetDefault("bus.history_size", 200)
	v.SetDefault("bus.message_ttl", "24h")
	v.SetDefault("bus.active_window", "5m")

	// Learning defaults (720h = 30 days, 2160h = 90 days)
	v.SetDefault("learning.record_cap", 100)
	v.SetDefault("learning.cache_ttl", "1h")
	v.SetDefault("learning.record_ttl", "720h")
	v.SetDefault("learning.pattern_ttl", "2160h")
	v.SetDefault("learning.top_k", 10)

	// Coordinator defaults
	v.SetDefault("coordinator.timeout", "15m")

	// Executor defaults
	v.SetDefault("executor.command", "")
	v.SetDefault("executor.args", []string{})

	// Path defaults: empty selects the XDG default for the database
	// and disables the sinks.
	v.SetDefault("paths.database", "")
	v.SetDefault("paths.comm_log", "")
	v.SetDefault("paths.status_doc", "")
}

// getUserConfigDir returns the XDG config directory for Ensemble.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ensemble")
	}

	// Fall back to ~/.config/ensemble
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ensemble")
	}
	return filepath.Join(home, ".config", "ensemble")
}

// findProjectConfig searches for .ensemble.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".ensemble.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			HistorySize:  200,
			MessageTTL:   24 * time.Hour,
			ActiveWindow: 5 * time.Minute,
		},
		Learning: LearningConfig{
			RecordCap:  100,
			CacheTTL:   time.Hour,
			RecordTTL:  30 * 24 * time.Hour,
			PatternTTL: 90 * 24 * time.Hour,
			TopK:       10,
		},
		Coordinator: CoordinatorConfig{
			Timeout: 15 * time.Minute,
		},
	}
}
