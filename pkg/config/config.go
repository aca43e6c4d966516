// Package config loads ambient tool settings for texvault. Run-specific
// inputs (evidence tables, roots, passes) come from the pass manifest, not
// from here.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all ambient configuration for texvault
type Config struct {
	Workers    int            `mapstructure:"workers"`
	Extensions []string       `mapstructure:"extensions"`
	Progress   ProgressConfig `mapstructure:"progress"`
	Log        LogConfig      `mapstructure:"log"`
}

// ProgressConfig controls progress reporting during long scans
type ProgressConfig struct {
	Every int `mapstructure:"every"`
}

// LogConfig holds default logging options, overridable by CLI flags
type LogConfig struct {
	Level   string `mapstructure:"level"`
	JSON    bool   `mapstructure:"json"`
	NoColor bool   `mapstructure:"no_color"`
}

var defaultConfig = Config{
	Workers:    0, // 0 means NumCPU at the point of use
	Extensions: []string{".png"},
	Progress:   ProgressConfig{Every: 250},
	Log:        LogConfig{Level: "info"},
}

// EffectiveWorkers resolves the configured worker count, never below one.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// LoadConfig loads configuration from defaults, an optional .texvault config
// file, and TEXVAULT_-prefixed environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("workers", defaultConfig.Workers)
	v.SetDefault("extensions", defaultConfig.Extensions)
	v.SetDefault("progress.every", defaultConfig.Progress.Every)
	v.SetDefault("log.level", defaultConfig.Log.Level)
	v.SetDefault("log.json", defaultConfig.Log.JSON)
	v.SetDefault("log.no_color", defaultConfig.Log.NoColor)

	v.SetConfigName(".texvault")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.SetEnvPrefix("TEXVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; defaults apply when absent
	_ = v.ReadInConfig()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}
