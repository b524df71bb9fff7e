package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigBuilder provides a fluent interface for building configurations.
//
// Usage:
//
//	config, err := NewConfigBuilder().
//	    WithProfile(ProfileDevelopment).
//	    WithProcessor("Data", "data").
//	    Build()
type ConfigBuilder struct {
	config     *Config
	validators []ValidatorFunc
	profile    Profile
}

// Profile names a preset for how templates are compiled and run
type Profile string

const (
	// ProfileDefault runs each transformation in its own process with a
	// bounded cache
	ProfileDefault Profile = "default"

	// ProfileDevelopment keeps build directories and logs at debug level
	ProfileDevelopment Profile = "development"

	// ProfileCI disables the cache and tightens timeouts
	ProfileCI Profile = "ci"
)

// Profiles lists the known profiles
var Profiles = []Profile{ProfileDefault, ProfileDevelopment, ProfileCI}

// ValidatorFunc represents a configuration validation function
type ValidatorFunc func(*Config) error

// NewConfigBuilder creates a new configuration builder starting from Default
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config:  Default(),
		profile: ProfileDefault,
	}
}

// WithProfile applies a preset
func (cb *ConfigBuilder) WithProfile(profile Profile) *ConfigBuilder {
	cb.profile = profile
	switch profile {
	case ProfileDefault:
	case ProfileDevelopment:
		cb.config.Compiler.KeepTemp = true
		cb.config.Logging.Level = "debug"
	case ProfileCI:
		cb.config.Cache.Enabled = false
		cb.config.Compiler.Timeout = time.Minute
		cb.config.Runner.Timeout = 30 * time.Second
		cb.config.Logging.Format = "json"
	default:
		cb.addValidator(fmt.Errorf("unknown profile %q", profile))
	}
	return cb
}

// WithCache configures the module cache
func (cb *ConfigBuilder) WithCache(enabled bool, maxEntries int, ttl time.Duration) *ConfigBuilder {
	cb.config.Cache = CacheConfig{Enabled: enabled, MaxEntries: maxEntries, TTL: ttl}
	return cb
}

// WithIsolation sets where transformations run and how long they may take
func (cb *ConfigBuilder) WithIsolation(mode string, timeout time.Duration) *ConfigBuilder {
	cb.config.Runner = RunnerConfig{Isolation: mode, Timeout: timeout}
	return cb
}

// WithIncludePaths appends include search paths
func (cb *ConfigBuilder) WithIncludePaths(paths ...string) *ConfigBuilder {
	cb.config.Host.IncludePaths = append(cb.config.Host.IncludePaths, paths...)
	return cb
}

// WithReferencePaths appends reference search paths
func (cb *ConfigBuilder) WithReferencePaths(paths ...string) *ConfigBuilder {
	cb.config.Host.ReferencePaths = append(cb.config.Host.ReferencePaths, paths...)
	return cb
}

// WithHostOption sets a host option visible to host-specific templates
func (cb *ConfigBuilder) WithHostOption(name string, value interface{}) *ConfigBuilder {
	cb.config.Host.Options[name] = value
	return cb
}

// WithProcessor maps a directive processor name to a registered kind
func (cb *ConfigBuilder) WithProcessor(name, kind string) *ConfigBuilder {
	cb.config.Processors[name] = kind
	return cb
}

// FromViper merges values set through viper over the builder's settings
func (cb *ConfigBuilder) FromViper() *ConfigBuilder {
	var viperConfig Config
	if err := viper.Unmarshal(&viperConfig); err != nil {
		cb.addValidator(fmt.Errorf("reading configuration: %w", err))
		return cb
	}
	cb.mergeViperConfig(&viperConfig)
	return cb
}

// AddValidator adds a custom validation function
func (cb *ConfigBuilder) AddValidator(validator ValidatorFunc) *ConfigBuilder {
	cb.validators = append(cb.validators, validator)
	return cb
}

// Build creates the final configuration after applying all settings and validations
func (cb *ConfigBuilder) Build() (*Config, error) {
	for _, validator := range cb.validators {
		if err := validator(cb.config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	if err := validateConfig(cb.config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cb.config, nil
}

// Profile returns the applied profile
func (cb *ConfigBuilder) Profile() Profile {
	return cb.profile
}

func (cb *ConfigBuilder) addValidator(err error) {
	cb.validators = append(cb.validators, func(*Config) error {
		return err
	})
}

// mergeViperConfig merges settings from viper into the current config.
// Only keys viper knows about override the builder.
func (cb *ConfigBuilder) mergeViperConfig(viperConfig *Config) {
	if viper.IsSet("compiler.command") {
		cb.config.Compiler.Command = viperConfig.Compiler.Command
	}
	if viper.IsSet("compiler.timeout") {
		cb.config.Compiler.Timeout = viperConfig.Compiler.Timeout
	}
	if viper.IsSet("cache.enabled") {
		cb.config.Cache.Enabled = viper.GetBool("cache.enabled")
	}
	if viper.IsSet("cache.max_entries") {
		cb.config.Cache.MaxEntries = viperConfig.Cache.MaxEntries
	}
	if viper.IsSet("runner.isolation") {
		cb.config.Runner.Isolation = viperConfig.Runner.Isolation
	}
	if viper.IsSet("runner.timeout") {
		cb.config.Runner.Timeout = viperConfig.Runner.Timeout
	}
	if viper.IsSet("host.include_paths") {
		cb.config.Host.IncludePaths = viper.GetStringSlice("host.include_paths")
	}
	for name, kind := range viperConfig.Processors {
		cb.config.Processors[name] = kind
	}
	if viper.IsSet("logging.level") {
		cb.config.Logging.Level = viperConfig.Logging.Level
	}
}
