// Package config loads monitor settings from an optional YAML file and the
// environment (prefix SENTINEL_, dots become underscores).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wilhg/sentinel/pkg/engine"
)

type Config struct {
	Database struct {
		URL     string `mapstructure:"url"`
		Migrate bool   `mapstructure:"migrate"`
	} `mapstructure:"database"`
	Monitor struct {
		PollInterval      time.Duration `mapstructure:"poll_interval"`
		DebounceWindow    time.Duration `mapstructure:"debounce_window"`
		Retention         time.Duration `mapstructure:"retention"`
		CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
		BootstrapLookback time.Duration `mapstructure:"bootstrap_lookback"`
		ErrorPause        time.Duration `mapstructure:"error_pause"`
		ReconnectPause    time.Duration `mapstructure:"reconnect_pause"`
	} `mapstructure:"monitor"`
	Connect struct {
		Attempts int           `mapstructure:"attempts"`
		Delay    time.Duration `mapstructure:"delay"`
	} `mapstructure:"connect"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"` // json or console
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Tracing struct {
		Stdout bool `mapstructure:"stdout"`
	} `mapstructure:"tracing"`
}

const DefaultDatabaseURL = "sqlite:file:sentinel.sqlite?cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", DefaultDatabaseURL)
	v.SetDefault("database.migrate", false)

	v.SetDefault("monitor.poll_interval", 5*time.Second)
	v.SetDefault("monitor.debounce_window", 2*time.Minute)
	v.SetDefault("monitor.retention", 24*time.Hour)
	v.SetDefault("monitor.cleanup_interval", time.Hour)
	v.SetDefault("monitor.bootstrap_lookback", 10*time.Minute)
	v.SetDefault("monitor.error_pause", 5*time.Second)
	v.SetDefault("monitor.reconnect_pause", 30*time.Second)

	v.SetDefault("connect.attempts", 3)
	v.SetDefault("connect.delay", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("tracing.stdout", false)
}

// Load reads path (optional, may be empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", "SENTINEL_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the monitor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is empty"))
	}
	durations := map[string]time.Duration{
		"monitor.poll_interval":      c.Monitor.PollInterval,
		"monitor.debounce_window":    c.Monitor.DebounceWindow,
		"monitor.retention":          c.Monitor.Retention,
		"monitor.cleanup_interval":   c.Monitor.CleanupInterval,
		"monitor.bootstrap_lookback": c.Monitor.BootstrapLookback,
		"monitor.error_pause":        c.Monitor.ErrorPause,
		"monitor.reconnect_pause":    c.Monitor.ReconnectPause,
		"connect.delay":              c.Connect.Delay,
	}
	for key, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.Connect.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("connect.attempts must be positive, got %d", c.Connect.Attempts))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Engine maps the monitor section onto engine timings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		PollInterval:      c.Monitor.PollInterval,
		DebounceWindow:    c.Monitor.DebounceWindow,
		Retention:         c.Monitor.Retention,
		CleanupInterval:   c.Monitor.CleanupInterval,
		BootstrapLookback: c.Monitor.BootstrapLookback,
		ErrorPause:        c.Monitor.ErrorPause,
		ReconnectPause:    c.Monitor.ReconnectPause,
	}
}
