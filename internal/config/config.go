// Package config provides configuration management for lsphost using Viper
// for flexible loading from files and environment variables.
//
// The configuration system supports YAML files and environment variable
// overrides with the LSPHOST_ prefix. It manages server settings, watch
// paths, scheduler concurrency limits, fallback compiler arguments, and the
// index store location.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Fallback  FallbackConfig  `yaml:"fallback" mapstructure:"fallback"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type WatchConfig struct {
	Paths      []string `yaml:"paths" mapstructure:"paths"`
	Ignore     []string `yaml:"ignore" mapstructure:"ignore"`
	DebounceMs int      `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// ConcurrencyEntry is one (priority, cap) pair of the scheduler's
// concurrency table, ordered highest priority first.
type ConcurrencyEntry struct {
	Priority           string `yaml:"priority" mapstructure:"priority"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks" mapstructure:"max_concurrent_tasks"`
}

type SchedulerConfig struct {
	Concurrency []ConcurrencyEntry `yaml:"concurrency" mapstructure:"concurrency"`
}

type FallbackConfig struct {
	WorkingDirectory string              `yaml:"working_directory" mapstructure:"working_directory"`
	Arguments        map[string][]string `yaml:"arguments" mapstructure:"arguments"`
}

type IndexConfig struct {
	StorePath string `yaml:"store_path" mapstructure:"store_path"`
}

// Load reads the configuration from the given file (empty means
// .lsphost.yml in the working directory, if present) with LSPHOST_
// environment overrides applied on top of the defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".lsphost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LSPHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("watch.paths", []string{"."})
	v.SetDefault("watch.ignore", []string{".git", ".build", "node_modules"})
	v.SetDefault("watch.debounce_ms", 100)
	v.SetDefault("index.store_path", ".lsphost/index.db")
}

// Validate checks configuration invariants that would otherwise surface as
// late runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative")
	}
	for _, entry := range c.Scheduler.Concurrency {
		if entry.MaxConcurrentTasks < 1 {
			return fmt.Errorf("scheduler.concurrency cap for %q must be >= 1", entry.Priority)
		}
	}
	return nil
}
