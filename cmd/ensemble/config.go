package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmajors/ensemble/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Ensemble configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/ensemble/config.yaml
Project-specific overrides can be placed in .ensemble.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("bus.history_size: %d\n", cfg.Bus.HistorySize)
	fmt.Printf("bus.message_ttl: %s\n", cfg.Bus.MessageTTL)
	fmt.Printf("bus.active_window: %s\n", cfg.Bus.ActiveWindow)
	fmt.Printf("learning.record_cap: %d\n", cfg.Learning.RecordCap)
	fmt.Printf("learning.cache_ttl: %s\n", cfg.Learning.CacheTTL)
	fmt.Printf("learning.record_ttl: %s\n", cfg.Learning.RecordTTL)
	fmt.Printf("learning.pattern_ttl: %s\n", cfg.Learning.PatternTTL)
	fmt.Printf("learning.top_k: %d\n", cfg.Learning.TopK)
	fmt.Printf("coordinator.timeout: %s\n", cfg.Coordinator.Timeout)
	fmt.Printf("executor.command: %s\n", orNotSet(cfg.Executor.Command))
	fmt.Printf("executor.args: %s\n", orNotSet(strings.Join(cfg.Executor.Args, " ")))
	fmt.Printf("paths.database: %s\n", orNotSet(cfg.Paths.Database))
	fmt.Printf("paths.comm_log: %s\n", orNotSet(cfg.Paths.CommLog))
	fmt.Printf("paths.status_doc: %s\n", orNotSet(cfg.Paths.StatusDoc))
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "bus.history_size":
		return strconv.Itoa(cfg.Bus.HistorySize), nil
	case "bus.message_ttl":
		return cfg.Bus.MessageTTL.String(), nil
	case "bus.active_window":
		return cfg.Bus.ActiveWindow.String(), nil
	case "learning.record_cap":
		return strconv.Itoa(cfg.Learning.RecordCap), nil
	case "learning.cache_ttl":
		return cfg.Learning.CacheTTL.String(), nil
	case "learning.record_ttl":
		return cfg.Learning.RecordTTL.String(), nil
	case "learning.pattern_ttl":
		return cfg.Learning.PatternTTL.String(), nil
	case "learning.top_k":
		return strconv.Itoa(cfg.Learning.TopK), nil
	case "coordinator.timeout":
		return cfg.Coordinator.Timeout.String(), nil
	case "executor.command":
		return orNotSet(cfg.Executor.Command), nil
	case "paths.database":
		return orNotSet(cfg.Paths.Database), nil
	case "paths.comm_log":
		return orNotSet(cfg.Paths.CommLog), nil
	case "paths.status_doc":
		return orNotSet(cfg.Paths.StatusDoc), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "bus.history_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for history_size: %w", err)
		}
		cfg.Bus.HistorySize = n
	case "bus.message_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for message_ttl: %w", err)
		}
		cfg.Bus.MessageTTL = d
	case "bus.active_window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for active_window: %w", err)
		}
		cfg.Bus.ActiveWindow = d
	case "learning.record_cap":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for record_cap: %w", err)
		}
		cfg.Learning.RecordCap = n
	case "learning.cache_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for cache_ttl: %w", err)
		}
		cfg.Learning.CacheTTL = d
	case "learning.record_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for record_ttl: %w", err)
		}
		cfg.Learning.RecordTTL = d
	case "learning.pattern_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for pattern_ttl: %w", err)
		}
		cfg.Learning.PatternTTL = d
	case "learning.top_k":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for top_k: %w", err)
		}
		cfg.Learning.TopK = n
	case "coordinator.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeout: %w", err)
		}
		cfg.Coordinator.Timeout = d
	case "executor.command":
		cfg.Executor.Command = value
	case "paths.database":
		cfg.Paths.Database = value
	case "paths.comm_log":
		cfg.Paths.CommLog = value
	case "paths.status_doc":
		cfg.Paths.StatusDoc = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
