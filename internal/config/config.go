// Package config loads and validates pagefetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pagefetch/internal/logging"
)

// Config captures all configuration knobs loaded via Viper. The defaults
// reproduce the plain stdin-to-data/ behavior with no file or env present.
type Config struct {
	Output  OutputConfig  `mapstructure:"output"`
	Browser BrowserConfig `mapstructure:"browser"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Input   InputConfig   `mapstructure:"input"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// OutputConfig controls where per-key text files are appended.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// BrowserConfig configures the headless Chrome process.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless"`
	// UserAgent overrides the browser's own user agent when non-empty.
	UserAgent string `mapstructure:"user_agent"`
	ExecPath  string `mapstructure:"exec_path"`
}

// FetchConfig holds the navigation timeout policy.
type FetchConfig struct {
	NavigationTimeout    time.Duration `mapstructure:"navigation_timeout"`
	TimeoutFallbackDelay time.Duration `mapstructure:"timeout_fallback_delay"`
}

// InputConfig bounds stdin parsing.
type InputConfig struct {
	MaxLineBytes int `mapstructure:"max_line_bytes"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the optional Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "data")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("fetch.navigation_timeout", "10s")
	v.SetDefault("fetch.timeout_fallback_delay", "5s")
	v.SetDefault("input.max_line_bytes", 1024*1024)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "warn")
	v.SetDefault("metrics.textfile", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Fetch.NavigationTimeout <= 0 {
		return fmt.Errorf("fetch.navigation_timeout must be > 0")
	}
	if c.Fetch.TimeoutFallbackDelay < 0 {
		return fmt.Errorf("fetch.timeout_fallback_delay must be >= 0")
	}
	if c.Input.MaxLineBytes <= 0 {
		return fmt.Errorf("input.max_line_bytes must be > 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
