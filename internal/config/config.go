// Package config provides configuration management for textform using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration covers the compiler toolchain, the module cache, how
// transformations are isolated, host search paths and options, directive
// processor aliases and logging. Files are YAML (.textform.yml); environment
// overrides use the TEXTFORM_ prefix.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working directory
const DefaultFile = ".textform.yml"

// Isolation modes for RunnerConfig
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

type Config struct {
	Compiler    CompilerConfig    `yaml:"compiler" mapstructure:"compiler"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Runner      RunnerConfig      `yaml:"runner" mapstructure:"runner"`
	Host        HostConfig        `yaml:"host" mapstructure:"host"`
	Processors  map[string]string `yaml:"processors,omitempty" mapstructure:"processors"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	TargetFiles []string          `yaml:"-" mapstructure:"-"` // CLI arguments, not from config file
}

type CompilerConfig struct {
	Command  string        `yaml:"command" mapstructure:"command"`
	WorkRoot string        `yaml:"work_root,omitempty" mapstructure:"work_root"`
	KeepTemp bool          `yaml:"keep_temp" mapstructure:"keep_temp"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type RunnerConfig struct {
	Isolation string        `yaml:"isolation" mapstructure:"isolation"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type HostConfig struct {
	IncludePaths   []string               `yaml:"include_paths,omitempty" mapstructure:"include_paths"`
	ReferencePaths []string               `yaml:"reference_paths,omitempty" mapstructure:"reference_paths"`
	Options        map[string]interface{} `yaml:"options,omitempty" mapstructure:"options"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Compiler: CompilerConfig{
			Command: "go",
			Timeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 64,
		},
		Runner: RunnerConfig{
			Isolation: IsolationProcess,
			Timeout:   time.Minute,
		},
		Host: HostConfig{
			Options: make(map[string]interface{}),
		},
		Processors: make(map[string]string),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	defaults := Default()

	// Apply default values for CompilerConfig if not set
	if config.Compiler.Command == "" {
		config.Compiler.Command = defaults.Compiler.Command
	}
	if !viper.IsSet("compiler.timeout") {
		config.Compiler.Timeout = defaults.Compiler.Timeout
	}

	// Handle cache settings set via viper (workaround for viper bool handling)
	if viper.IsSet("cache.enabled") {
		config.Cache.Enabled = viper.GetBool("cache.enabled")
	} else {
		config.Cache.Enabled = defaults.Cache.Enabled
	}
	if !viper.IsSet("cache.max_entries") {
		config.Cache.MaxEntries = defaults.Cache.MaxEntries
	}

	// Apply default values for RunnerConfig if not set
	if config.Runner.Isolation == "" {
		config.Runner.Isolation = defaults.Runner.Isolation
	}
	if !viper.IsSet("runner.timeout") {
		config.Runner.Timeout = defaults.Runner.Timeout
	}

	// Handle search paths set via viper (workaround for viper slice handling)
	if viper.IsSet("host.include_paths") && len(config.Host.IncludePaths) == 0 {
		config.Host.IncludePaths = viper.GetStringSlice("host.include_paths")
	}
	if viper.IsSet("host.reference_paths") && len(config.Host.ReferencePaths) == 0 {
		config.Host.ReferencePaths = viper.GetStringSlice("host.reference_paths")
	}
	if config.Host.Options == nil {
		config.Host.Options = make(map[string]interface{})
	}
	if config.Processors == nil {
		config.Processors = make(map[string]string)
	}

	// The root command binds --log-level to the top level key
	if level := viper.GetString("log-level"); level != "" && !viper.IsSet("logging.level") {
		config.Logging.Level = level
	}
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Logging.Format
	}

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Marshal renders the configuration as YAML
func Marshal(config *Config) ([]byte, error) {
	return yaml.Marshal(config)
}

// WriteFile writes the configuration as YAML to path. An existing file is
// only replaced when overwrite is set.
func WriteFile(path string, config *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file %s already exists", path)
		}
	}

	data, err := Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	header := []byte("# textform configuration\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
