// Package config loads the optional cbi.yaml configuration file. All values
// have defaults so the tool works without any configuration; command line
// flags override whatever is loaded here.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// SchedulerConfig holds the runtime parameters consumed by the target-BB
// scheduler between fuzzing cycles.
type SchedulerConfig struct {
	// InitCycleLength is the nominal number of input executions distributed
	// across the active targets in one cycle.
	InitCycleLength uint64 `mapstructure:"init_cycle_length"`

	// HCReductFactor reduces the per-target execution requirement; 1 degrades
	// every requirement to a single execution.
	HCReductFactor float64 `mapstructure:"hc_reduct_factor"`

	// VulnScoreThreshold selects which targets are revived when a campaign
	// reset occurs.
	VulnScoreThreshold float64 `mapstructure:"vuln_score_threshold"`
}

// Config holds the top-level configuration for the cbi tool.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	LogDir    string          `mapstructure:"log_dir"`
	OutDir    string          `mapstructure:"out_dir"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// Default returns the configuration used when no cbi.yaml is present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		OutDir:   ".",
		Scheduler: SchedulerConfig{
			InitCycleLength:    1000,
			HCReductFactor:     0,
			VulnScoreThreshold: 0.5,
		},
	}
}

// Load reads cbi.yaml from the working directory or a configs/ subdirectory.
// A missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("cbi")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("configs")

	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	if cfg.Scheduler.InitCycleLength == 0 {
		cfg.Scheduler.InitCycleLength = 1000
	}
	if cfg.Scheduler.VulnScoreThreshold == 0 {
		cfg.Scheduler.VulnScoreThreshold = 0.5
	}

	return cfg, nil
}
